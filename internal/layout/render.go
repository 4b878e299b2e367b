package layout

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"kioskprint/internal/model"
)

// DecodeImage reads a JPEG, PNG, BMP, TIFF or WebP image.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Render draws every page of plan onto a white raster the size of the drawable
// area.
func Render(src image.Image, plan model.PageLayoutPlan) ([]*image.RGBA, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no image", ErrInvalidImage)
	}
	pages := make([]*image.RGBA, 0, len(plan.Pages))
	for _, placements := range plan.Pages {
		pages = append(pages, renderPage(src, plan.Drawable, placements))
	}
	return pages, nil
}

func renderPage(src image.Image, drawable model.Rect, placements []model.Placement) *image.RGBA {
	w := int(math.Round(drawable.Width))
	h := int(math.Round(drawable.Height))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	sb := src.Bounds()
	for _, p := range placements {
		m := placementTransform(p, drawable)
		// Transform maps source pixel space, so shift by the source origin.
		m[2] -= m[0]*float64(sb.Min.X) + m[1]*float64(sb.Min.Y)
		m[5] -= m[3]*float64(sb.Min.X) + m[4]*float64(sb.Min.Y)
		draw.CatmullRom.Transform(dst, m, src, sb, draw.Over, nil)
	}
	return dst
}

// placementTransform returns the source to destination matrix for p. A 90
// degree placement is turned clockwise about the drawable centre.
func placementTransform(p model.Placement, drawable model.Rect) f64.Aff3 {
	s := p.Scale
	if p.RotationDegrees != 90 {
		return f64.Aff3{s, 0, p.Dest.X, 0, s, p.Dest.Y}
	}
	cx, cy := drawable.CenterX(), drawable.CenterY()
	return f64.Aff3{0, -s, cx + cy - p.Dest.Y, s, 0, cy - cx + p.Dest.X}
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

// RenderPNG renders plan to PNG documents. When every page is identical only one
// page is rendered and copies carries the page count.
func RenderPNG(src image.Image, plan model.PageLayoutPlan) (pages [][]byte, copies int, err error) {
	copies = 1
	if len(plan.Pages) > 1 && UniformPages(plan) {
		copies = len(plan.Pages)
		plan.Pages = plan.Pages[:1]
	}
	rasters, err := Render(src, plan)
	if err != nil {
		return nil, 0, err
	}
	for i, r := range rasters {
		var buf bytes.Buffer
		if err := EncodePNG(&buf, r); err != nil {
			return nil, 0, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, copies, nil
}
