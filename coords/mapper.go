package coords

// PixelRect is a rectangle in raster pixels, origin top-left.
type PixelRect struct {
	X0, Y0, X1, Y1 int
}

func (r PixelRect) Normalize() PixelRect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

func (r PixelRect) Empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Size is a rendered raster size in pixels.
type Size struct{ W, H int }

// SizeF is a page size in user-space units.
type SizeF struct{ W, H float64 }

// PixelToPDF maps a pixel rectangle on a raster of the given size to page
// space (origin top-left). It returns false when either size is zero.
// Scale factors are derived on every call, so zoom changes need no state.
func PixelToPDF(r PixelRect, rendered Size, page SizeF) (Rect, bool) {
	if rendered.W == 0 || rendered.H == 0 || page.W == 0 || page.H == 0 {
		return Rect{}, false
	}
	r = r.Normalize()
	sx := page.W / float64(rendered.W)
	sy := page.H / float64(rendered.H)
	return Rect{
		X0: float64(r.X0) * sx,
		Y0: float64(r.Y0) * sy,
		X1: float64(r.X1) * sx,
		Y1: float64(r.Y1) * sy,
	}, true
}

// PDFToPixel is the inverse of PixelToPDF. Coordinates are truncated.
func PDFToPixel(r Rect, rendered Size, page SizeF) (PixelRect, bool) {
	if rendered.W == 0 || rendered.H == 0 || page.W == 0 || page.H == 0 {
		return PixelRect{}, false
	}
	r = r.Normalize()
	sx := float64(rendered.W) / page.W
	sy := float64(rendered.H) / page.H
	return PixelRect{
		X0: int(r.X0 * sx),
		Y0: int(r.Y0 * sy),
		X1: int(r.X1 * sx),
		Y1: int(r.Y1 * sy),
	}, true
}
