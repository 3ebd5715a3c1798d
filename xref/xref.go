// Package xref locates every indirect object of a PDF file by following
// the cross-reference chain from the last startxref: classic tables, xref
// streams and hybrid files. Broken chains fall back to a full-file scan.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/recovery"
	"github.com/wudi/pdfmask/scanner"
)

type Kind int

const (
	KindFree Kind = iota
	KindInUse
	KindCompressed
)

// Entry locates one object. For KindCompressed, StreamNum and Index give
// the containing object stream.
type Entry struct {
	Kind      Kind
	Offset    int64
	Gen       int
	StreamNum int
	Index     int
}

// Table is the merged view of every xref section in the file. Newer
// sections win over older ones.
type Table struct {
	entries   map[int]Entry
	trailer   *raw.DictObj
	startXRef int64
	stream    bool
	repaired  bool
}

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == KindFree {
		return Entry{}, false
	}
	return e, true
}

// Objects returns the in-use object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != KindFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

// Trailer is the newest trailer dictionary.
func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// StartXRef is the offset of the newest section; an incremental update
// points /Prev at it.
func (t *Table) StartXRef() int64 { return t.startXRef }

// UsesXRefStream reports whether the newest section is an xref stream.
func (t *Table) UsesXRefStream() bool { return t.stream }

// Repaired reports that the table was rebuilt by scanning the file.
func (t *Table) Repaired() bool { return t.repaired }

// Size is one more than the highest object number in use.
func (t *Table) Size() int {
	size := 0
	if n, ok := t.trailer.Get("Size"); ok {
		if v, ok := raw.AsInt(n); ok {
			size = int(v)
		}
	}
	for num := range t.entries {
		if num+1 > size {
			size = num + 1
		}
	}
	return size
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
}

// Resolve reads the cross-reference information of data.
func Resolve(ctx context.Context, data []byte, cfg ResolverConfig) (*Table, error) {
	t, err := resolveChain(ctx, data, cfg)
	if err == nil {
		return t, nil
	}
	if cfg.Recovery == nil || cfg.Recovery.OnError(err, recovery.Location{Component: "xref"}) != recovery.ActionFix {
		return nil, err
	}
	return repair(ctx, data)
}

func resolveChain(ctx context.Context, data []byte, cfg ResolverConfig) (*Table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	maxDepth := cfg.MaxXRefDepth
	if maxDepth <= 0 {
		maxDepth = 50
	}

	t := &Table{entries: make(map[int]Entry), startXRef: start}
	seen := make(map[int64]bool)
	offset := start
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= maxDepth {
			return nil, errors.New("xref chain too long")
		}
		if seen[offset] {
			return nil, fmt.Errorf("xref loop at offset %d", offset)
		}
		seen[offset] = true

		trailer, isStream, err := readSection(data, offset, t.entries)
		if err != nil {
			return nil, err
		}
		if depth == 0 {
			t.trailer = trailer
			t.stream = isStream
		}
		// Hybrid files: the stream named by /XRefStm ranks between this
		// table and /Prev.
		if stm, ok := intEntry(trailer, "XRefStm"); ok && !isStream {
			if _, _, err := readSection(data, stm, t.entries); err != nil {
				return nil, fmt.Errorf("XRefStm: %w", err)
			}
		}
		prev, ok := intEntry(trailer, "Prev")
		if !ok {
			break
		}
		offset = prev
	}
	if t.trailer == nil {
		return nil, errors.New("trailer not found")
	}
	if _, ok := t.trailer.Get("Root"); !ok {
		return nil, errors.New("trailer has no /Root")
	}
	return t, nil
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	s := scanner.New(data, scanner.Config{})
	if err := s.SeekTo(int64(idx + len("startxref"))); err != nil {
		return 0, err
	}
	tok, err := s.Next()
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	off, ok := tok.Int()
	if !ok || off <= 0 || off >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %v", tok.Value)
	}
	return off, nil
}

// readSection parses the section at offset and adds entries not already
// defined by a newer section.
func readSection(data []byte, offset int64, entries map[int]Entry) (*raw.DictObj, bool, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, false, fmt.Errorf("xref offset out of range: %d", offset)
	}
	s := scanner.New(data, scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, false, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, false, err
	}
	if tok.Keyword() == "xref" {
		trailer, err := readTable(s, entries)
		return trailer, false, err
	}
	if err := s.SeekTo(offset); err != nil {
		return nil, false, err
	}
	trailer, err := readStream(s, entries)
	return trailer, true, err
}

func readTable(s *scanner.Scanner, entries map[int]Entry) (*raw.DictObj, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("xref table: %w", err)
		}
		if tok.Keyword() == "trailer" {
			obj, err := s.ReadObject()
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			d, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return d, nil
		}
		first, ok := tok.Int()
		if !ok {
			return nil, fmt.Errorf("invalid xref subsection header at offset %d", tok.Pos)
		}
		countTok, err := s.Next()
		if err != nil {
			return nil, err
		}
		count, ok := countTok.Int()
		if !ok || count < 0 {
			return nil, fmt.Errorf("invalid xref subsection count at offset %d", countTok.Pos)
		}
		// Entries are fixed 20-byte records, but producers vary the line
		// ending, so read them as three fields each.
		for i := int64(0); i < count; i++ {
			offTok, err1 := s.Next()
			genTok, err2 := s.Next()
			typTok, err3 := s.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, fmt.Errorf("unexpected end of xref section: %w", err)
			}
			off, ok1 := offTok.Int()
			gen, ok2 := genTok.Int()
			typ := typTok.Keyword()
			if !ok1 || !ok2 || (typ != "n" && typ != "f") {
				return nil, fmt.Errorf("invalid xref entry at offset %d", offTok.Pos)
			}
			num := int(first + i)
			if _, exists := entries[num]; exists {
				continue
			}
			if typ == "f" {
				entries[num] = Entry{Kind: KindFree, Gen: int(gen)}
				continue
			}
			entries[num] = Entry{Kind: KindInUse, Offset: off, Gen: int(gen)}
		}
	}
}

func readStream(s *scanner.Scanner, entries map[int]Entry) (*raw.DictObj, error) {
	_, obj, err := s.ReadIndirect(func(d *raw.DictObj) int64 {
		if n, ok := intEntry(d, "Length"); ok {
			return n
		}
		return -1
	})
	if err != nil {
		return nil, fmt.Errorf("xref stream: %w", err)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("xref offset does not point at a table or stream")
	}
	if typ, _ := stm.Dict.Get("Type"); typ != raw.NameLiteral("XRef") {
		return nil, errors.New("stream at xref offset is not /Type /XRef")
	}
	names, params := filters.ExtractFilters(stm.Dict)
	payload, _, err := filters.Default(filters.Limits{}).Decode(context.Background(), stm.Data, names, params)
	if err != nil {
		return nil, fmt.Errorf("xref stream: %w", err)
	}

	widths, ok := raw.Floats(mustGet(stm.Dict, "W"))
	if !ok || len(widths) != 3 {
		return nil, errors.New("xref stream /W must hold three widths")
	}
	w := [3]int{int(widths[0]), int(widths[1]), int(widths[2])}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, errors.New("xref stream /W is empty")
	}

	size, _ := intEntry(stm.Dict, "Size")
	index := []int64{0, size}
	if idx, ok := raw.Floats(mustGet(stm.Dict, "Index")); ok && len(idx)%2 == 0 {
		index = index[:0]
		for _, v := range idx {
			index = append(index, int64(v))
		}
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(payload) {
				return stm.Dict, nil
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = be(row[:w[0]])
			}
			f2 := be(row[w[0] : w[0]+w[1]])
			f3 := be(row[w[0]+w[1]:])
			num := int(first + j)
			if _, exists := entries[num]; exists {
				continue
			}
			switch typ {
			case 0:
				entries[num] = Entry{Kind: KindFree, Gen: int(f3)}
			case 1:
				entries[num] = Entry{Kind: KindInUse, Offset: f2, Gen: int(f3)}
			case 2:
				entries[num] = Entry{Kind: KindCompressed, StreamNum: int(f2), Index: int(f3)}
			}
		}
	}
	return stm.Dict, nil
}

func be(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	o, _ := d.Get(key)
	return o
}

func intEntry(d *raw.DictObj, key string) (int64, bool) {
	o, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	return raw.AsInt(o)
}

// FormatEntry renders a classic 20-byte xref line.
func FormatEntry(offset int64, gen int, inUse bool) string {
	kind := "n"
	if !inUse {
		kind = "f"
	}
	return fmt.Sprintf("%010d %05d %s\r\n", offset, gen, kind)
}
