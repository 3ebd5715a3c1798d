// Package masks holds the rectangles an operator marked for redaction
// before they are committed to the document.
package masks

import (
	"iter"
	"slices"

	"github.com/wudi/pdfmask/coords"
)

// Entry is one pending redaction. Rect is in displayed page space, origin
// top-left, normalized.
type Entry struct {
	PageIndex int
	Rect      coords.Rect
	Note      string
}

// Store is the ordered list of pending entries. It does not deduplicate.
type Store struct {
	entries []Entry
}

func NewStore() *Store { return &Store{} }

// Add appends e and returns its index.
func (s *Store) Add(e Entry) int {
	e.Rect = e.Rect.Normalize()
	s.entries = append(s.entries, e)
	return len(s.entries) - 1
}

func (s *Store) Len() int { return len(s.entries) }

func (s *Store) At(i int) (Entry, bool) {
	if i < 0 || i >= len(s.entries) {
		return Entry{}, false
	}
	return s.entries[i], true
}

// All returns a copy of every entry in insertion order.
func (s *Store) All() []Entry { return slices.Clone(s.entries) }

// ByPage yields the store index and entry of each entry on page, in
// insertion order.
func (s *Store) ByPage(page int) iter.Seq2[int, Entry] {
	return func(yield func(int, Entry) bool) {
		for i, e := range s.entries {
			if e.PageIndex != page {
				continue
			}
			if !yield(i, e) {
				return
			}
		}
	}
}

// RemoveAt removes the entries at the given indices, as they were before
// the call. Duplicates and out-of-range indices are ignored. It returns
// the number removed.
func (s *Store) RemoveAt(indices ...int) int {
	idx := slices.Clone(indices)
	slices.Sort(idx)
	idx = slices.Compact(idx)
	removed := 0
	for i := len(idx) - 1; i >= 0; i-- {
		k := idx[i]
		if k < 0 || k >= len(s.entries) {
			continue
		}
		s.entries = slices.Delete(s.entries, k, k+1)
		removed++
	}
	return removed
}

// UpdateNote sets the note of entry i; invalid indices are ignored.
func (s *Store) UpdateNote(i int, note string) {
	if i < 0 || i >= len(s.entries) {
		return
	}
	s.entries[i].Note = note
}

func (s *Store) Clear() { s.entries = nil }

// Replace discards the current entries and adds entries.
func (s *Store) Replace(entries []Entry) {
	s.Clear()
	for _, e := range entries {
		s.Add(e)
	}
}

// Pages returns the distinct page indices with entries, ascending.
func (s *Store) Pages() []int {
	var pages []int
	for _, e := range s.entries {
		pages = append(pages, e.PageIndex)
	}
	slices.Sort(pages)
	return slices.Compact(pages)
}
