// Package layout decides how many physical pages a print needs and where every
// image lands on them, then renders the pages.
package layout

import (
	"errors"
	"fmt"
	"math"

	"kioskprint/internal/model"
)

const DefaultDPI = 300

var ErrInvalidImage = errors.New("invalid image size")

// Request describes one print. Paper is the resolved size in the orientation the
// driver reports it; Landscape is the orientation the kiosk expects.
type Request struct {
	ImageWidth     int
	ImageHeight    int
	Copies         int
	ImagesPerPage  int
	Paper          model.PaperSize
	Landscape      bool
	DPI            int
	StripTopOffset float64
}

// Plan computes the page layout for req. Copies and ImagesPerPage below one are
// treated as one.
func Plan(req Request) (model.PageLayoutPlan, error) {
	if req.ImageWidth <= 0 || req.ImageHeight <= 0 {
		return model.PageLayoutPlan{}, fmt.Errorf("%w: %dx%d", ErrInvalidImage, req.ImageWidth, req.ImageHeight)
	}
	if req.Paper.Width <= 0 || req.Paper.Height <= 0 {
		return model.PageLayoutPlan{}, fmt.Errorf("%w: %vx%v", ErrInvalidPaper, req.Paper.Width, req.Paper.Height)
	}
	copies := req.Copies
	if copies < 1 {
		copies = 1
	}
	perPage := req.ImagesPerPage
	if perPage < 1 {
		perPage = 1
	}
	dpi := req.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	totalImages := copies * perPage
	totalPages := (totalImages + perPage - 1) / perPage

	drawable := model.Rect{
		Width:  math.Round(req.Paper.Width * float64(dpi)),
		Height: math.Round(req.Paper.Height * float64(dpi)),
	}
	plan := model.PageLayoutPlan{
		Paper:         req.Paper,
		IsLandscape:   req.Landscape,
		Copies:        copies,
		ImagesPerPage: perPage,
		TotalPages:    totalPages,
		DPI:           dpi,
		Drawable:      drawable,
	}
	if perPage == 1 {
		plan.OrientationMismatch = req.Landscape && drawable.Height > drawable.Width
	}

	img := model.Rect{Width: float64(req.ImageWidth), Height: float64(req.ImageHeight)}
	emitted := 0
	for page := 0; page < totalPages && emitted < totalImages; page++ {
		var placements []model.Placement
		for slot := 0; slot < perPage && emitted < totalImages; slot++ {
			var p model.Placement
			if perPage == 1 {
				p = fillPlacement(img, drawable, plan.OrientationMismatch)
			} else {
				p = lanePlacement(img, drawable, slot, perPage, req.StripTopOffset)
			}
			p.Page = page
			p.Slot = slot
			placements = append(placements, p)
			emitted++
		}
		plan.Pages = append(plan.Pages, placements)
	}
	return plan, nil
}

// fillPlacement scales the image to cover the drawable area and centres it. When
// rotated the image is laid out against the swapped drawable and turned 90
// degrees about the drawable centre.
func fillPlacement(img, drawable model.Rect, rotate bool) model.Placement {
	targetW, targetH := drawable.Width, drawable.Height
	rotation := 0
	if rotate {
		targetW, targetH = targetH, targetW
		rotation = 90
	}
	scale := math.Max(targetW/img.Width, targetH/img.Height)
	w, h := img.Width*scale, img.Height*scale
	return model.Placement{
		Dest: model.Rect{
			X:      drawable.CenterX() - w/2,
			Y:      drawable.CenterY() - h/2,
			Width:  w,
			Height: h,
		},
		RotationDegrees: rotation,
		Scale:           scale,
	}
}

// lanePlacement fits the image inside lane slot of n equal-width lanes, centred,
// shifted down by topOffset pixels.
func lanePlacement(img, drawable model.Rect, slot, n int, topOffset float64) model.Placement {
	laneW := drawable.Width / float64(n)
	scale := math.Min(laneW/img.Width, drawable.Height/img.Height)
	w, h := img.Width*scale, img.Height*scale
	y := (drawable.Height-h)/2 + topOffset
	if y+h > drawable.Height {
		y = drawable.Height - h
	}
	return model.Placement{
		Dest: model.Rect{
			X:      float64(slot)*laneW + (laneW-w)/2,
			Y:      y,
			Width:  w,
			Height: h,
		},
		Scale: scale,
	}
}

// UniformPages reports whether every page carries the same placements, in which
// case one rendered page can be printed with copies.
func UniformPages(plan model.PageLayoutPlan) bool {
	if len(plan.Pages) < 2 {
		return true
	}
	first := plan.Pages[0]
	for _, page := range plan.Pages[1:] {
		if len(page) != len(first) {
			return false
		}
		for i := range page {
			a, b := page[i], first[i]
			if a.Dest != b.Dest || a.RotationDegrees != b.RotationDegrees || a.Scale != b.Scale {
				return false
			}
		}
	}
	return true
}
