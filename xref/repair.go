package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/scanner"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; later
// definitions win, as they would in an intact incremental chain.
func repair(ctx context.Context, data []byte) (*Table, error) {
	s := scanner.New(data, scanner.Config{})
	entries := make(map[int]Entry)
	trailer := raw.Dict()
	var catalog int
	var objStreams []int
	var window [2]scanner.Token

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Skip the offending byte and keep scanning.
			_ = s.SeekTo(s.Position() + 1)
			continue
		}

		switch {
		case tok.Keyword() == "obj":
			num, ok1 := window[0].Int()
			gen, ok2 := window[1].Int()
			if ok1 && ok2 && num > 0 {
				entries[int(num)] = Entry{Kind: KindInUse, Offset: window[0].Pos, Gen: int(gen)}
				switch objectType(data, window[0].Pos) {
				case "Catalog":
					catalog = int(num)
				case "ObjStm":
					objStreams = append(objStreams, int(num))
				}
			}
		case tok.Keyword() == "trailer":
			if obj, err := s.ReadObject(); err == nil {
				if d, ok := obj.(*raw.DictObj); ok {
					for _, k := range d.Keys() {
						v, _ := d.Get(k)
						trailer.Set(k, v)
					}
				}
			}
		case tok.Type == scanner.TokenStream:
			// Skip payloads; their bytes are not syntax.
		}
		window[0], window[1] = window[1], tok
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	for _, num := range objStreams {
		indexObjectStream(data, num, entries[num].Offset, entries)
	}
	trailer.Delete("Prev")
	trailer.Delete("XRefStm")
	if _, ok := trailer.Get("Root"); !ok {
		if catalog == 0 {
			return nil, errors.New("repair failed: no document catalog")
		}
		trailer.Set("Root", raw.Ref(catalog, entries[catalog].Gen))
	}
	t := &Table{entries: entries, trailer: trailer, repaired: true}
	trailer.Set("Size", raw.NumberInt(int64(t.Size())))
	return t, nil
}

func readAt(data []byte, offset int64) raw.Object {
	s := scanner.New(data, scanner.Config{})
	if s.SeekTo(offset) != nil {
		return nil
	}
	_, obj, err := s.ReadIndirect(func(d *raw.DictObj) int64 {
		if n, ok := intEntry(d, "Length"); ok {
			return n
		}
		return -1
	})
	if err != nil {
		return nil
	}
	return obj
}

func objectType(data []byte, offset int64) string {
	d, ok := raw.AsDict(readAt(data, offset))
	if !ok {
		return ""
	}
	typ, _ := d.Get("Type")
	name, _ := raw.AsName(typ)
	return name
}

// indexObjectStream adds the members of an object stream that no plain
// object definition already covers.
func indexObjectStream(data []byte, num int, offset int64, entries map[int]Entry) {
	stm, ok := readAt(data, offset).(*raw.StreamObj)
	if !ok {
		return
	}
	names, params := filters.ExtractFilters(stm.Dict)
	payload, _, err := filters.Default(filters.Limits{}).Decode(context.Background(), stm.Data, names, params)
	if err != nil {
		return
	}
	n, _ := intEntry(stm.Dict, "N")
	hs := scanner.New(payload, scanner.Config{ContentStream: true})
	for i := 0; i < int(n); i++ {
		numTok, err1 := hs.Next()
		offTok, err2 := hs.Next()
		if err1 != nil || err2 != nil {
			return
		}
		member, ok := numTok.Int()
		if _, ok2 := offTok.Int(); !ok || !ok2 {
			return
		}
		if _, exists := entries[int(member)]; !exists {
			entries[int(member)] = Entry{Kind: KindCompressed, StreamNum: num, Index: i}
		}
	}
}
