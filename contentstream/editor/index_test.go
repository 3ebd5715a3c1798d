package editor_test

import (
	"fmt"
	"testing"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/coords"
)

// gridItems lays out n×n unit glyph boxes one point apart, after a
// page-sized background fill at index 0.
func gridItems(n int) []contentstream.Item {
	items := []contentstream.Item{{Kind: contentstream.ItemPath, Box: coords.Rect{X1: float64(2 * n), Y1: float64(2 * n)}}}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			x0, y0 := float64(2*x), float64(2*y)
			items = append(items, contentstream.Item{Kind: contentstream.ItemText, Box: coords.Rect{X0: x0, Y0: y0, X1: x0 + 1, Y1: y0 + 1}})
		}
	}
	return items
}

func TestItemIndexMatchesLinearScan(t *testing.T) {
	items := gridItems(20)
	idx := editor.NewItemIndex(items)
	for _, r := range []coords.Rect{
		{X0: 3.5, Y0: 3.5, X1: 7.5, Y1: 5.5},
		{X0: 0, Y0: 0, X1: 0.5, Y1: 0.5},
		{X0: 38.5, Y0: 38.5, X1: 50, Y1: 50},
		{X0: 100, Y0: 100, X1: 101, Y1: 101},
	} {
		var want []int
		for i, it := range items {
			b := it.Box
			if b.X0 <= r.X1 && r.X0 <= b.X1 && b.Y0 <= r.Y1 && r.Y0 <= b.Y1 {
				want = append(want, i)
			}
		}
		if got := idx.Query(r); fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("Query(%v) = %v, want %v", r, got, want)
		}
	}
}

func TestItemIndexTouchingEdgeCounts(t *testing.T) {
	idx := editor.NewItemIndex(gridItems(2))
	// The glyph at (2,0)-(3,1) shares only its left edge with the rect.
	got := idx.Query(coords.Rect{X0: 1.5, Y0: 0.2, X1: 2, Y1: 0.8})
	if fmt.Sprint(got) != "[0 2]" {
		t.Fatalf("edge query = %v", got)
	}
}

func TestItemIndexMergesRects(t *testing.T) {
	idx := editor.NewItemIndex(gridItems(3))
	got := idx.Query(
		coords.Rect{X0: 4.2, Y0: 4.2, X1: 4.8, Y1: 4.8},
		coords.Rect{X0: 0.2, Y0: 0.2, X1: 0.8, Y1: 0.8},
		coords.Rect{X0: 4.1, Y0: 4.1, X1: 4.9, Y1: 4.9},
	)
	if fmt.Sprint(got) != "[0 1 9]" {
		t.Fatalf("merged query = %v", got)
	}
}

func TestItemIndexEmpty(t *testing.T) {
	if got := editor.NewItemIndex(nil).Query(coords.Rect{X1: 10, Y1: 10}); len(got) != 0 {
		t.Fatalf("empty index found %v", got)
	}
}
