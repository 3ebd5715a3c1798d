package session

import (
	"fmt"
	"strings"

	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/masks"
)

// Modifier is a set of held keyboard modifiers.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModMeta
)

func ParseModifier(s string) (Modifier, error) {
	switch strings.ToLower(s) {
	case "ctrl", "control":
		return ModCtrl, nil
	case "shift":
		return ModShift, nil
	case "alt", "option":
		return ModAlt, nil
	case "meta", "cmd", "super":
		return ModMeta, nil
	}
	return 0, fmt.Errorf("unknown modifier %q", s)
}

type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
	ButtonMiddle
)

// DragTracker turns modifier+primary drags on the last raster into mask
// entries. Other drags are left to scrolling and panning.
type DragTracker struct {
	s        *Session
	store    *masks.Store
	modifier Modifier

	active bool
	start  coords.PixelRect
	page   int
}

func NewDragTracker(s *Session, store *masks.Store, modifier Modifier) *DragTracker {
	return &DragTracker{s: s, store: store, modifier: modifier}
}

// Begin starts a drag at (x, y). It reports whether the drag is a mask
// drag.
func (d *DragTracker) Begin(x, y int, button Button, mods Modifier) bool {
	d.active = button == ButtonPrimary && mods&d.modifier != 0
	if d.active {
		d.start = coords.PixelRect{X0: x, Y0: y, X1: x, Y1: y}
		d.page = d.s.Page()
	}
	return d.active
}

// Move updates the rubber band.
func (d *DragTracker) Move(x, y int) {
	if d.active {
		d.start.X1, d.start.Y1 = x, y
	}
}

// Preview is the current rubber band in pixels.
func (d *DragTracker) Preview() (coords.PixelRect, bool) {
	return d.start.Normalize(), d.active
}

func (d *DragTracker) Cancel() { d.active = false }

// End finishes the drag at (x, y) and stores the mapped rectangle. It
// returns the store index, or false when the drag was not a mask drag,
// had no area, or the page changed since Begin.
func (d *DragTracker) End(x, y int) (int, bool) {
	if !d.active {
		return 0, false
	}
	d.Move(x, y)
	d.active = false
	r := d.start.Normalize()
	if r.Empty() || d.page != d.s.Page() {
		return 0, false
	}
	rect, err := d.s.MapFromRaster(r)
	if err != nil || rect.Empty() {
		return 0, false
	}
	return d.store.Add(masks.Entry{PageIndex: d.page, Rect: rect}), true
}
