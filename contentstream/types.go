package contentstream

// TextRenderMode matches PDF text rendering modes set via Tr operator.
type TextRenderMode int

const (
	TextFill TextRenderMode = iota
	TextStroke
	TextFillStroke
	TextInvisible
	TextFillClip
	TextStrokeClip
	TextFillStrokeClip
	TextClip
)

// Visible reports modes that put ink on the page.
func (m TextRenderMode) Visible() bool { return m != TextInvisible && m != TextClip }

// Path describes a graphics path made of subpaths, in trace space.
type Path struct {
	Subpaths []Subpath
}

// Subpath describes a portion of a path.
type Subpath struct {
	Points []PathPoint
	Closed bool
}

// PathPoint identifies a path segment and its coordinates. For curves the
// control points precede the end point (X, Y).
type PathPoint struct {
	X, Y                 float64
	Type                 PathPointType
	Control1X, Control1Y float64
	Control2X, Control2Y float64
}

// PathPointType enumerates path segment types.
type PathPointType int

const (
	PathMoveTo PathPointType = iota
	PathLineTo
	PathCurveTo
)

// Paint describes how a path painting operator uses its path.
type Paint struct {
	Fill    bool
	Stroke  bool
	EvenOdd bool
	Clip    bool
}

// Color holds color components in the current color space. One component
// is gray, three RGB, four CMYK. A pattern color has no components.
type Color struct {
	Values []float64
}

// RGB converts the color to RGB in [0,1]. Unknown spaces render black.
func (c Color) RGB() (r, g, b float64) {
	v := c.Values
	switch len(v) {
	case 1:
		return v[0], v[0], v[0]
	case 3:
		return v[0], v[1], v[2]
	case 4:
		return (1 - v[0]) * (1 - v[3]), (1 - v[1]) * (1 - v[3]), (1 - v[2]) * (1 - v[3])
	}
	return 0, 0, 0
}
