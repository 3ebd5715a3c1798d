package contentstream

import (
	"errors"

	"github.com/wudi/pdfmask/coords"
)

// GraphicsState is the part of the PDF graphics state the tracer needs.
// Text state parameters belong to it; the text matrices do not.
type GraphicsState struct {
	CTM       coords.Matrix
	LineWidth float64
	Fill      Color
	Stroke    Color
	// Clip bounds the clipping path; nil means unclipped.
	Clip *coords.Rect
	Text TextState

	fillComponents, strokeComponents int
	stack                            []*GraphicsState
}

func NewGraphicsState(ctm coords.Matrix) *GraphicsState {
	return &GraphicsState{
		CTM:              ctm,
		LineWidth:        1,
		Fill:             Color{Values: []float64{0}},
		Stroke:           Color{Values: []float64{0}},
		Text:             TextState{HScale: 1},
		fillComponents:   1,
		strokeComponents: 1,
	}
}

func (gs *GraphicsState) Save() { clone := *gs; gs.stack = append(gs.stack, &clone) }
func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return errors.New("state stack empty")
	}
	*gs = *gs.stack[n-1]
	gs.stack = gs.stack[:n-1]
	return nil
}

// Depth is the number of saved states.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

type TextState struct {
	Font        *Font
	FontSize    float64
	CharSpacing float64
	WordSpacing float64
	// HScale is Tz/100.
	HScale     float64
	Leading    float64
	Rise       float64
	RenderMode TextRenderMode
}
