package session

import "math"

// Zoomable is implemented by every view that can change its scale.
type Zoomable interface {
	ZoomIn() float64
	ZoomOut() float64
	Zoom() float64
}

// ZoomBounds limits the zoom multiplier. Zero fields take the defaults
// 0.5, 2.0 and 0.1.
type ZoomBounds struct {
	Min, Max, Step float64
}

func (b ZoomBounds) withDefaults() ZoomBounds {
	if b.Min <= 0 {
		b.Min = 0.5
	}
	if b.Max < b.Min {
		b.Max = max(2.0, b.Min)
	}
	if b.Step <= 0 {
		b.Step = 0.1
	}
	return b
}

// Viewer tracks the zoom multiplier of the open document.
type Viewer struct {
	bounds ZoomBounds
	zoom   float64
}

var _ Zoomable = (*Viewer)(nil)

func NewViewer(b ZoomBounds) *Viewer {
	v := &Viewer{bounds: b.withDefaults()}
	v.Reset()
	return v
}

func (v *Viewer) Zoom() float64 { return v.zoom }

func (v *Viewer) Bounds() ZoomBounds { return v.bounds }

func (v *Viewer) ZoomIn() float64  { return v.SetZoom(v.zoom + v.bounds.Step) }
func (v *Viewer) ZoomOut() float64 { return v.SetZoom(v.zoom - v.bounds.Step) }

// SetZoom clamps z to the bounds and rounds away accumulated step error.
func (v *Viewer) SetZoom(z float64) float64 {
	z = math.Round(z*1000) / 1000
	v.zoom = min(max(z, v.bounds.Min), v.bounds.Max)
	return v.zoom
}

// Reset returns to 1.0, clamped.
func (v *Viewer) Reset() { v.SetZoom(1) }
