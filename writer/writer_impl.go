package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/security"
	"github.com/wudi/pdfmask/xref"
)

type impl struct {
	interceptors []Interceptor
	log          observability.Logger
}

type entry struct {
	offset int64
	gen    int
}

func (w *impl) Write(ctx context.Context, u *Update, out Sink, cfg Config) error {
	if u == nil || u.Table == nil {
		return errors.New("nothing to write")
	}
	var buf bytes.Buffer
	var err error
	switch cfg.Mode {
	case ModeFull:
		err = w.writeFull(ctx, u, &buf, cfg)
	default:
		err = w.writeIncremental(ctx, u, &buf)
	}
	if err != nil {
		return err
	}
	_, err = out.Write(buf.Bytes())
	return err
}

func (w *impl) writeIncremental(ctx context.Context, u *Update, buf *bytes.Buffer) error {
	if u.Table.Repaired() || u.Table.StartXRef() <= 0 {
		return ErrIncrementalUnavailable
	}
	buf.Write(u.Base)
	if n := len(u.Base); n > 0 && u.Base[n-1] != '\n' && u.Base[n-1] != '\r' {
		buf.WriteByte('\n')
	}

	h := handlerOf(u)
	encRef, _ := encryptRef(u.Table.Trailer())
	entries := make(map[int]entry, len(u.Objects)+1)
	size := u.Table.Size()
	for _, ref := range sortedRefs(u.Objects) {
		obj := u.Objects[ref]
		if h.IsEncrypted() && ref != encRef {
			var err error
			if obj, err = EncryptObject(obj, ref, h); err != nil {
				return err
			}
		}
		off, err := w.writeObject(ctx, buf, ref, obj)
		if err != nil {
			return err
		}
		entries[ref.Num] = entry{offset: off, gen: ref.Gen}
		size = max(size, ref.Num+1)
	}

	trailer := nextTrailer(u.Table.Trailer(), u.Table.StartXRef())
	var startXRef int64
	if u.Table.UsesXRefStream() {
		ref := raw.ObjectRef{Num: size}
		size++
		trailer.Set("Size", raw.NumberInt(int64(size)))
		startXRef = int64(buf.Len())
		entries[ref.Num] = entry{offset: startXRef}
		stm, err := xrefStream(trailer, entries)
		if err != nil {
			return err
		}
		if _, err := w.writeObject(ctx, buf, ref, stm); err != nil {
			return err
		}
	} else {
		trailer.Set("Size", raw.NumberInt(int64(size)))
		startXRef = int64(buf.Len())
		writeXRefTable(buf, entries, 0)
		buf.WriteString("trailer\n")
		raw.WriteObject(buf, trailer)
		buf.WriteByte('\n')
	}
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", startXRef)
	w.log.Debug("incremental update written",
		observability.Int("objects", len(u.Objects)),
		observability.Int64("prev", u.Table.StartXRef()),
		observability.Bool("xref_stream", u.Table.UsesXRefStream()))
	return nil
}

func (w *impl) writeFull(ctx context.Context, u *Update, buf *bytes.Buffer, cfg Config) error {
	if u.Loader == nil {
		return errors.New("full rewrite needs an object loader")
	}
	version := u.Version
	if version == "" {
		version = "1.7"
	}
	fmt.Fprintf(buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	h := handlerOf(u)
	keep := cfg.KeepEncryption && h.IsEncrypted()
	encRef, hasEnc := encryptRef(u.Table.Trailer())

	objects := make(map[raw.ObjectRef]raw.Object, len(u.Objects))
	replaced := make(map[int]bool, len(u.Objects))
	for ref, obj := range u.Objects {
		objects[ref] = obj
		replaced[ref.Num] = true
	}
	for _, num := range u.Table.Objects() {
		if replaced[num] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e, _ := u.Table.Lookup(num)
		ref := raw.ObjectRef{Num: num, Gen: e.Gen}
		if e.Kind == xref.KindCompressed {
			ref.Gen = 0
		}
		if hasEnc && ref.Num == encRef.Num && !keep {
			continue
		}
		obj, err := u.Loader.Load(ctx, ref)
		if err != nil {
			return fmt.Errorf("load object %s: %w", ref, err)
		}
		if _, null := obj.(raw.NullObj); null || obj == nil {
			continue
		}
		if stm, ok := obj.(*raw.StreamObj); ok {
			switch typeName(stm.Dict) {
			case "ObjStm", "XRef":
				continue
			}
		}
		objects[ref] = obj
	}

	entries := make(map[int]entry, len(objects))
	size := 1
	for _, ref := range sortedRefs(objects) {
		obj := objects[ref]
		if keep && ref != encRef {
			var err error
			if obj, err = EncryptObject(obj, ref, h); err != nil {
				return err
			}
		}
		off, err := w.writeObject(ctx, buf, ref, obj)
		if err != nil {
			return err
		}
		entries[ref.Num] = entry{offset: off, gen: ref.Gen}
		size = max(size, ref.Num+1)
	}

	trailer := raw.Dict()
	orig := u.Table.Trailer()
	for _, k := range []string{"Root", "Info", "ID"} {
		if v, ok := orig.Get(k); ok {
			trailer.Set(k, v)
		}
	}
	if keep {
		trailer.Set("Encrypt", orig.KV["Encrypt"])
	}
	trailer.Set("Size", raw.NumberInt(int64(size)))

	startXRef := int64(buf.Len())
	writeXRefTable(buf, entries, size)
	buf.WriteString("trailer\n")
	raw.WriteObject(buf, trailer)
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", startXRef)
	w.log.Debug("full rewrite written",
		observability.Int("objects", len(objects)),
		observability.Bool("encrypted", keep))
	return nil
}

func (w *impl) writeObject(ctx context.Context, buf *bytes.Buffer, ref raw.ObjectRef, obj raw.Object) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, ic := range w.interceptors {
		if err := ic.BeforeWrite(ctx, ref, obj); err != nil {
			return 0, err
		}
	}
	off := int64(buf.Len())
	fmt.Fprintf(buf, "%d %d obj\n", ref.Num, ref.Gen)
	raw.WriteObject(buf, obj)
	buf.WriteString("\nendobj\n")
	for _, ic := range w.interceptors {
		if err := ic.AfterWrite(ctx, ref, int64(buf.Len())-off); err != nil {
			return 0, err
		}
	}
	return off, nil
}

// writeXRefTable writes a classic table. With size > 0 it covers every
// number below size, marking gaps free; otherwise it lists only entries,
// in contiguous subsections.
func writeXRefTable(buf *bytes.Buffer, entries map[int]entry, size int) {
	buf.WriteString("xref\n")
	if size > 0 {
		fmt.Fprintf(buf, "0 %d\n", size)
		buf.WriteString(xref.FormatEntry(0, 65535, false))
		for num := 1; num < size; num++ {
			if e, ok := entries[num]; ok {
				buf.WriteString(xref.FormatEntry(e.offset, e.gen, true))
			} else {
				buf.WriteString(xref.FormatEntry(0, 1, false))
			}
		}
		return
	}
	nums := sortedNums(entries)
	for _, run := range runs(nums) {
		fmt.Fprintf(buf, "%d %d\n", run[0], run[1])
		for num := run[0]; num < run[0]+run[1]; num++ {
			e := entries[num]
			buf.WriteString(xref.FormatEntry(e.offset, e.gen, true))
		}
	}
}

// xrefStream builds a cross-reference stream carrying the trailer entries.
func xrefStream(trailer *raw.DictObj, entries map[int]entry) (*raw.StreamObj, error) {
	nums := sortedNums(entries)
	index := raw.NewArray()
	var rows []byte
	for _, run := range runs(nums) {
		index.Append(raw.NumberInt(int64(run[0])))
		index.Append(raw.NumberInt(int64(run[1])))
		for num := run[0]; num < run[0]+run[1]; num++ {
			rows = appendXRefStreamEntry(rows, 1, entries[num].offset, entries[num].gen)
		}
	}
	data, err := filters.FlateEncode(rows)
	if err != nil {
		return nil, fmt.Errorf("encode xref stream: %w", err)
	}
	d := raw.Dict()
	for _, k := range trailer.Keys() {
		d.Set(k, trailer.KV[k])
	}
	d.Set("Type", raw.NameLiteral("XRef"))
	d.Set("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(4), raw.NumberInt(2)))
	d.Set("Index", index)
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	return raw.NewStream(d, data), nil
}

func appendXRefStreamEntry(buf []byte, typ int, field2 int64, gen int) []byte {
	buf = append(buf, byte(typ))
	offset := uint32(field2)
	buf = append(buf, byte(offset>>24), byte(offset>>16), byte(offset>>8), byte(offset))
	buf = append(buf, byte(gen>>8), byte(gen))
	return buf
}

// runs groups sorted numbers into [first, count] pairs.
func runs(nums []int) [][2]int {
	var out [][2]int
	for _, n := range nums {
		if last := len(out) - 1; last >= 0 && out[last][0]+out[last][1] == n {
			out[last][1]++
			continue
		}
		out = append(out, [2]int{n, 1})
	}
	return out
}

// nextTrailer carries the document-level entries of the previous trailer
// into an update section.
func nextTrailer(prev *raw.DictObj, prevOffset int64) *raw.DictObj {
	t := raw.Dict()
	for _, k := range []string{"Root", "Info", "ID", "Encrypt"} {
		if v, ok := prev.Get(k); ok {
			t.Set(k, v)
		}
	}
	t.Set("Prev", raw.NumberInt(prevOffset))
	return t
}

func handlerOf(u *Update) security.Handler {
	if u.Security == nil {
		return security.NoopHandler()
	}
	return u.Security
}

func encryptRef(trailer *raw.DictObj) (raw.ObjectRef, bool) {
	v, ok := trailer.Get("Encrypt")
	if !ok {
		return raw.ObjectRef{}, false
	}
	r, ok := v.(raw.RefObj)
	return r.R, ok
}

func typeName(d *raw.DictObj) string {
	v, _ := d.Get("Type")
	n, _ := raw.AsName(v)
	return n
}

func sortedRefs(objects map[raw.ObjectRef]raw.Object) []raw.ObjectRef {
	refs := make([]raw.ObjectRef, 0, len(objects))
	for ref := range objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	return refs
}

func sortedNums(entries map[int]entry) []int {
	nums := make([]int, 0, len(entries))
	for n := range entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
