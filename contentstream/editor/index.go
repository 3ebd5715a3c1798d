package editor

import (
	"sort"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/coords"
)

const (
	leafItems  = 10
	maxRegions = 12
)

// ItemIndex finds traced items by bounding box. Each region of the page
// holds the items that fit in it but in none of its quarters, so large
// items such as background fills stay near the root.
type ItemIndex struct {
	items []contentstream.Item
	root  *region
}

type region struct {
	box      coords.Rect
	depth    int
	items    []int
	quarters []*region
}

func NewItemIndex(items []contentstream.Item) *ItemIndex {
	idx := &ItemIndex{items: items}
	if len(items) == 0 {
		return idx
	}
	bounds := items[0].Box
	for _, it := range items[1:] {
		bounds = bounds.Union(it.Box)
	}
	idx.root = &region{box: bounds}
	for i := range items {
		idx.root.insert(items, i)
	}
	return idx
}

// Query returns, in content order, the items whose boxes touch any of the
// rectangles. Touching is inclusive, so zero-width strokes along a mask
// edge are found.
func (idx *ItemIndex) Query(rects ...coords.Rect) []int {
	if idx.root == nil {
		return nil
	}
	seen := make(map[int]bool)
	var found []int
	for _, r := range rects {
		idx.root.collect(idx.items, r, func(i int) {
			if !seen[i] {
				seen[i] = true
				found = append(found, i)
			}
		})
	}
	sort.Ints(found)
	return found
}

func (g *region) insert(items []contentstream.Item, i int) {
	box := items[i].Box
	if g.quarters == nil && len(g.items) >= leafItems && g.depth < maxRegions {
		g.split(items)
	}
	for _, q := range g.quarters {
		if q.box.Contains(box) {
			q.insert(items, i)
			return
		}
	}
	g.items = append(g.items, i)
}

// split moves the items that fit a quarter down into it.
func (g *region) split(items []contentstream.Item) {
	b := g.box
	mx, my := (b.X0+b.X1)/2, (b.Y0+b.Y1)/2
	for _, box := range []coords.Rect{
		{X0: b.X0, Y0: b.Y0, X1: mx, Y1: my},
		{X0: mx, Y0: b.Y0, X1: b.X1, Y1: my},
		{X0: b.X0, Y0: my, X1: mx, Y1: b.Y1},
		{X0: mx, Y0: my, X1: b.X1, Y1: b.Y1},
	} {
		g.quarters = append(g.quarters, &region{box: box, depth: g.depth + 1})
	}
	kept := g.items
	g.items = nil
	for _, i := range kept {
		g.insert(items, i)
	}
}

func (g *region) collect(items []contentstream.Item, r coords.Rect, hit func(int)) {
	if !touches(g.box, r) {
		return
	}
	for _, i := range g.items {
		if touches(items[i].Box, r) {
			hit(i)
		}
	}
	for _, q := range g.quarters {
		q.collect(items, r, hit)
	}
}

func touches(a, b coords.Rect) bool {
	return a.X0 <= b.X1 && b.X0 <= a.X1 && a.Y0 <= b.Y1 && b.Y0 <= a.Y1
}
