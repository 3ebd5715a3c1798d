package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/ir/raw"
)

// page is one leaf of the page tree with its inherited attributes.
type page struct {
	ref       raw.ObjectRef
	dict      *raw.DictObj
	resources raw.Object
	mediaBox  raw.Object
	cropBox   raw.Object
	rotate    raw.Object
}

// PageInfo is the geometry of a page. Width and Height are the size of the
// page as displayed, after cropping and rotation, with the origin at the
// top-left corner.
type PageInfo struct {
	Index    int
	MediaBox coords.Rect
	CropBox  coords.Rect
	Rotate   int
	Width    float64
	Height   float64
	// ToPage maps user space to displayed top-left space.
	ToPage coords.Matrix
}

func (p PageInfo) Size() coords.SizeF { return coords.SizeF{W: p.Width, H: p.Height} }

// FromPage maps displayed top-left space back to user space.
func (p PageInfo) FromPage() coords.Matrix {
	inv, err := p.ToPage.Inverse()
	if err != nil {
		return coords.Identity()
	}
	return inv
}

var letter = coords.Rect{X1: 612, Y1: 792}

const maxTreeDepth = 64

func (d *Document) loadPages(ctx context.Context) error {
	root, err := d.res.Root(ctx)
	if err != nil {
		return err
	}
	pagesObj, ok := root.Get("Pages")
	if !ok {
		return errors.New("catalog has no page tree")
	}
	d.pages = nil
	seen := make(map[raw.ObjectRef]bool)
	return d.walk(ctx, pagesObj, &page{}, seen, 0)
}

func (d *Document) walk(ctx context.Context, obj raw.Object, inherited *page, seen map[raw.ObjectRef]bool, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > maxTreeDepth {
		return errors.New("page tree too deep")
	}
	ref, isRef := obj.(raw.RefObj)
	if isRef {
		if seen[ref.R] {
			return fmt.Errorf("page tree loops at %s", ref.R)
		}
		seen[ref.R] = true
	}
	node, ok := raw.AsDict(d.deref(obj))
	if !ok {
		return nil
	}
	attrs := *inherited
	if v, ok := node.Get("Resources"); ok {
		attrs.resources = v
	}
	if v, ok := node.Get("MediaBox"); ok {
		attrs.mediaBox = v
	}
	if v, ok := node.Get("CropBox"); ok {
		attrs.cropBox = v
	}
	if v, ok := node.Get("Rotate"); ok {
		attrs.rotate = v
	}

	kids, hasKids := node.Get("Kids")
	typ, _ := raw.AsName(node.KV["Type"])
	if typ == "Pages" || (typ == "" && hasKids) {
		arr, _ := raw.AsArray(d.deref(kids))
		if arr == nil {
			return nil
		}
		for _, kid := range arr.Items {
			if err := d.walk(ctx, kid, &attrs, seen, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if !isRef {
		// Pages must be indirect to be edited.
		return nil
	}
	attrs.ref = ref.R
	attrs.dict = node
	d.pages = append(d.pages, &attrs)
	return nil
}

func (d *Document) page(index int) (*page, error) {
	if !d.Valid() {
		return nil, ErrClosed
	}
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("page index %d out of range [0,%d)", index, len(d.pages))
	}
	return d.pages[index], nil
}

// Page returns the geometry of the page at index.
func (d *Document) Page(index int) (PageInfo, error) {
	p, err := d.page(index)
	if err != nil {
		return PageInfo{}, err
	}
	info := PageInfo{Index: index, MediaBox: letter}
	if v, ok := raw.Floats(d.deref(p.mediaBox)); ok {
		if r, ok := coords.RectFromArray(v); ok && !r.Empty() {
			info.MediaBox = r
		}
	}
	info.CropBox = info.MediaBox
	if v, ok := raw.Floats(d.deref(p.cropBox)); ok {
		if r, ok := coords.RectFromArray(v); ok {
			if crop := r.Intersect(info.MediaBox); !crop.Empty() {
				info.CropBox = crop
			}
		}
	}
	if n, ok := raw.AsInt(d.deref(p.rotate)); ok {
		info.Rotate = normalizeRotation(int(n))
	}
	info.Width, info.Height, info.ToPage = orient(info.CropBox, info.Rotate)
	return info, nil
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg / 90 * 90
}

// orient returns the displayed size of crop under a clockwise rotation and
// the matrix from user space to that displayed space, y pointing down.
func orient(crop coords.Rect, rotate int) (float64, float64, coords.Matrix) {
	w, h := crop.Width(), crop.Height()
	shift := coords.Translate(-crop.X0, -crop.Y0)
	switch rotate {
	case 90:
		return h, w, shift.Multiply(coords.Matrix{0, 1, 1, 0, 0, 0})
	case 180:
		return w, h, shift.Multiply(coords.Matrix{-1, 0, 0, 1, w, 0})
	case 270:
		return h, w, shift.Multiply(coords.Matrix{0, -1, -1, 0, h, w})
	}
	return w, h, shift.Multiply(coords.Matrix{1, 0, 0, -1, 0, h})
}
