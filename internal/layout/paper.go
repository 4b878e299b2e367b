package layout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"kioskprint/internal/model"
)

var ErrInvalidPaper = errors.New("invalid paper size")

// DefaultConfusableMarkers flag advertised sizes that share dimensions with the
// target but are a different product (split or multi-up media).
var DefaultConfusableMarkers = []string{"x2", "2up", "strip", "split", "panorama"}

const DefaultTolerance = 0.2

// ResolvePaper picks the advertised size to print on. An exact name match wins;
// then a size whose landscape-normalised dimensions are within tolerance of the
// target's, skipping confusable names; otherwise a custom size is synthesised.
func ResolvePaper(target model.PaperSize, advertised []model.PaperSize, tolerance float64, confusable []string) (model.PaperSize, error) {
	if target.Width <= 0 || target.Height <= 0 || math.IsNaN(target.Width) || math.IsNaN(target.Height) {
		return model.PaperSize{}, fmt.Errorf("%w: %vx%v", ErrInvalidPaper, target.Width, target.Height)
	}
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	if name := strings.TrimSpace(target.Name); name != "" {
		for _, p := range advertised {
			if strings.EqualFold(p.Name, name) {
				return p, nil
			}
		}
	}
	want := target.Landscape()
	for _, p := range advertised {
		if p.Width <= 0 || p.Height <= 0 || isConfusable(p.Name, confusable) {
			continue
		}
		got := p.Landscape()
		if math.Abs(got.Width-want.Width) <= tolerance && math.Abs(got.Height-want.Height) <= tolerance {
			return p, nil
		}
	}
	return CustomPaper(target.Width, target.Height), nil
}

// CustomPaper builds a custom size named the way CUPS names them.
func CustomPaper(width, height float64) model.PaperSize {
	return model.PaperSize{
		Name:   "Custom." + formatInches(width) + "x" + formatInches(height) + "in",
		Width:  width,
		Height: height,
		Custom: true,
	}
}

func isConfusable(name string, markers []string) bool {
	lower := strings.ToLower(name)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func formatInches(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// MediaLister reports the sizes a queue advertises.
type MediaLister interface {
	MediaSizes(ctx context.Context, printer string) ([]model.PaperSize, error)
}

// Resolver resolves target sizes against a printer's advertised sizes, caching
// each printer's list.
type Resolver struct {
	media      MediaLister
	tolerance  float64
	confusable []string
	cache      *expirable.LRU[string, []model.PaperSize]
}

func NewResolver(media MediaLister, tolerance float64, confusable []string, ttl time.Duration) *Resolver {
	if confusable == nil {
		confusable = DefaultConfusableMarkers
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		media:      media,
		tolerance:  tolerance,
		confusable: confusable,
		cache:      expirable.NewLRU[string, []model.PaperSize](16, nil, ttl),
	}
}

// Resolve returns the paper to use on printer for target. A printer whose sizes
// cannot be listed gets a custom size.
func (r *Resolver) Resolve(ctx context.Context, printer string, target model.PaperSize) (model.PaperSize, error) {
	sizes, ok := r.cache.Get(printer)
	if !ok {
		var err error
		sizes, err = r.media.MediaSizes(ctx, printer)
		if err != nil {
			log.Printf("[layout] %s: media sizes unavailable, using custom size: %v", printer, err)
			sizes = nil
		} else {
			r.cache.Add(printer, sizes)
		}
	}
	return ResolvePaper(target, sizes, r.tolerance, r.confusable)
}

// Forget drops the cached sizes of printer.
func (r *Resolver) Forget(printer string) {
	r.cache.Remove(printer)
}
