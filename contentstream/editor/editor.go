// Package editor removes page content under redaction rectangles: glyphs,
// vector paths, image pixels and form content, recursing into private
// copies of shared objects.
package editor

import (
	"fmt"

	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/observability"
)

// LineArt selects which vector paths a rectangle removes.
type LineArt int

const (
	// LineArtTouched removes paths whose bounds overlap a rectangle.
	LineArtTouched LineArt = iota
	// LineArtCovered removes paths lying fully inside a rectangle.
	LineArtCovered
	LineArtNone
)

func (l LineArt) String() string {
	switch l {
	case LineArtTouched:
		return "touched"
	case LineArtCovered:
		return "covered"
	case LineArtNone:
		return "none"
	}
	return fmt.Sprintf("LineArt(%d)", int(l))
}

func ParseLineArt(s string) (LineArt, error) {
	switch s {
	case "", "touched":
		return LineArtTouched, nil
	case "covered":
		return LineArtCovered, nil
	case "none":
		return LineArtNone, nil
	}
	return 0, fmt.Errorf("unknown line art policy %q", s)
}

// Host resolves objects of the document being edited and stores new ones.
type Host interface {
	raw.Resolver
	Add(obj raw.Object) raw.ObjectRef
}

type Options struct {
	LineArt LineArt
	// MaxDepth bounds form XObject nesting; deeper forms under a
	// rectangle are removed whole.
	MaxDepth int
	Logger   observability.Logger
}

const DefaultMaxDepth = 20

// Stats counts what an edit removed.
type Stats struct {
	Glyphs         int
	Paths          int
	ImagesWhitened int
	ImagesRemoved  int
	InlineImages   int
	Forms          int
	Shadings       int
}

func (s Stats) Total() int {
	return s.Glyphs + s.Paths + s.ImagesWhitened + s.ImagesRemoved + s.InlineImages + s.Forms + s.Shadings
}
