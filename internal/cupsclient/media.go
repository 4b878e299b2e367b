package cupsclient

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	goipp "github.com/OpenPrinting/goipp"

	"kioskprint/internal/model"
)

// pwgSizes maps common photo and office PWG names to their portrait dimensions in
// hundredths of a millimetre.
var pwgSizes = map[string][2]int{
	"na_index-4x6_4x6in":       {10160, 15240},
	"na_5x7_5x7in":             {12700, 17780},
	"na_govt-letter_8x10in":    {20320, 25400},
	"na_index-3x5_3x5in":       {7620, 12700},
	"oe_photo-l_3.5x5in":       {8890, 12700},
	"om_small-photo_100x150mm": {10000, 15000},
	"na_letter_8.5x11in":       {21590, 27940},
	"iso_a4_210x297mm":         {21000, 29700},
	"iso_a5_148x210mm":         {14800, 21000},
	"iso_a6_105x148mm":         {10500, 14800},
}

// MediaSizes returns the sizes the queue advertises, in the orientation the driver
// reports them. The IPP media attributes are tried first, then the queue's PPD.
func (c *Client) MediaSizes(ctx context.Context, printer string) ([]model.PaperSize, error) {
	resp, err := c.printerAttributes(ctx, printer, "media-col-database", "media-size-supported", "media-supported")
	if err != nil {
		return nil, err
	}
	if sizes := mediaSizesFromAttrs(resp.Printer); len(sizes) > 0 {
		return sizes, nil
	}
	ppd, err := c.Get(ctx, "/printers/"+url.PathEscape(printer)+".ppd")
	if err != nil {
		return nil, err
	}
	return ParsePPDPaperDimensions(ppd), nil
}

func mediaSizesFromAttrs(attrs goipp.Attributes) []model.PaperSize {
	seen := map[string]bool{}
	var sizes []model.PaperSize
	add := func(name string, x, y int) {
		name = strings.TrimSpace(name)
		if x <= 0 || y <= 0 {
			return
		}
		if name == "" {
			name = mediaNameFromDimensions(x, y)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		sizes = append(sizes, model.PaperSize{
			Name:   name,
			Width:  hundredthMMToInches(x),
			Height: hundredthMMToInches(y),
		})
	}

	if a := findAttr(attrs, "media-col-database"); a != nil {
		for _, v := range a.Values {
			col, ok := v.V.(goipp.Collection)
			if !ok {
				continue
			}
			sizeCol, ok := collectionCollection(col, "media-size")
			if !ok {
				continue
			}
			name := collectionString(col, "media-size-name")
			if name == "" {
				name = collectionString(col, "media-key")
			}
			add(name, collectionInt(sizeCol, "x-dimension"), collectionInt(sizeCol, "y-dimension"))
		}
	}
	if len(sizes) == 0 {
		if a := findAttr(attrs, "media-size-supported"); a != nil {
			for _, v := range a.Values {
				if col, ok := v.V.(goipp.Collection); ok {
					add("", collectionInt(col, "x-dimension"), collectionInt(col, "y-dimension"))
				}
			}
		}
	}
	if len(sizes) == 0 {
		for _, media := range attrStrings(attrs, "media-supported") {
			if dims, ok := pwgSizes[media]; ok {
				add(media, dims[0], dims[1])
			} else if x, y, ok := parsePWGMediaName(media); ok {
				add(media, x, y)
			}
		}
	}
	return sizes
}

func mediaNameFromDimensions(x, y int) string {
	for name, dims := range pwgSizes {
		if dims[0] == x && dims[1] == y {
			return name
		}
	}
	return "custom_" + formatInches(hundredthMMToInches(x)) + "x" + formatInches(hundredthMMToInches(y)) + "in"
}

// parsePWGMediaName decodes the dimension segment of a self-describing PWG media
// name such as "na_index-4x6_4x6in" or "custom_foo_100x150mm".
func parsePWGMediaName(name string) (int, int, bool) {
	i := strings.LastIndex(name, "_")
	if i < 0 || i == len(name)-1 {
		return 0, 0, false
	}
	dims := name[i+1:]
	scale := 0.0
	switch {
	case strings.HasSuffix(dims, "in"):
		scale = 2540
		dims = strings.TrimSuffix(dims, "in")
	case strings.HasSuffix(dims, "mm"):
		scale = 100
		dims = strings.TrimSuffix(dims, "mm")
	default:
		return 0, 0, false
	}
	ws, hs, ok := strings.Cut(dims, "x")
	if !ok {
		return 0, 0, false
	}
	w, err1 := strconv.ParseFloat(ws, 64)
	h, err2 := strconv.ParseFloat(hs, 64)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return int(w*scale + 0.5), int(h*scale + 0.5), true
}

func formatInches(v float64) string {
	return strconv.FormatFloat(float64(int(v*100+0.5))/100, 'f', -1, 64)
}
