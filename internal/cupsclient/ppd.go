package cupsclient

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"kioskprint/internal/model"
)

// ParsePPDPaperDimensions reads the *PaperDimension entries of a PPD. Values are
// in PostScript points.
func ParsePPDPaperDimensions(data []byte) []model.PaperSize {
	var sizes []model.PaperSize
	seen := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "*PaperDimension ") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "*PaperDimension "), ":")
		if !ok {
			continue
		}
		name := strings.TrimSpace(key)
		if slash := strings.Index(name, "/"); slash >= 0 {
			name = name[:slash]
		}
		fields := strings.Fields(strings.Trim(strings.TrimSpace(value), "\""))
		if name == "" || len(fields) < 2 {
			continue
		}
		w, err1 := strconv.ParseFloat(fields[0], 64)
		h, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
			continue
		}
		if seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		sizes = append(sizes, model.PaperSize{Name: name, Width: w / 72, Height: h / 72})
	}
	return sizes
}
