package editor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/extractor"
	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/observability"
)

type Editor struct {
	host Host
	opts Options
	log  observability.Logger
}

func NewEditor(host Host, opts Options) *Editor {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Editor{host: host, opts: opts, log: observability.OrNop(opts.Logger)}
}

// Result is an edited content stream with the resources it now needs.
type Result struct {
	Ops       []contentstream.Operation
	Resources *raw.DictObj
	Stats     Stats
}

// Redact removes content under rects, given in the stream's own user
// space, and paints each rectangle white on top. The original operations
// run inside a saved graphics state so the fills see the initial one.
func (e *Editor) Redact(ctx context.Context, ops []contentstream.Operation, resources *raw.DictObj, rects []coords.Rect) (*Result, error) {
	res, err := e.RemoveRects(ctx, ops, resources, coords.Identity(), rects)
	if err != nil {
		return nil, err
	}
	res.Ops = append(balance(res.Ops), FillOps(rects)...)
	return res, nil
}

// RemoveRects removes content under rects without painting. ctm maps the
// stream's user space to the space rects are given in.
func (e *Editor) RemoveRects(ctx context.Context, ops []contentstream.Operation, resources *raw.DictObj, ctm coords.Matrix, rects []coords.Rect) (*Result, error) {
	var st Stats
	out, res, _, err := e.edit(ctx, ops, resources, ctm, rects, 0, &st)
	if err != nil {
		return nil, err
	}
	return &Result{Ops: out, Resources: res, Stats: st}, nil
}

// FillOps paints rects opaque white.
func FillOps(rects []coords.Rect) []contentstream.Operation {
	ops := []contentstream.Operation{
		contentstream.Op("q"),
		contentstream.Op("rg", num(1), num(1), num(1)),
	}
	for _, r := range rects {
		r = r.Normalize()
		ops = append(ops,
			contentstream.Op("re", num(r.X0), num(r.Y0), num(r.Width()), num(r.Height())),
			contentstream.Op("f"),
		)
	}
	return append(ops, contentstream.Op("Q"))
}

// balance wraps ops in q/Q, absorbing unmatched operators of either kind.
func balance(ops []contentstream.Operation) []contentstream.Operation {
	depth, stray := 0, 0
	for _, op := range ops {
		switch op.Operator {
		case "q":
			depth++
		case "Q":
			if depth == 0 {
				stray++
			} else {
				depth--
			}
		}
	}
	out := make([]contentstream.Operation, 0, len(ops)+2+stray+depth)
	for i := 0; i <= stray; i++ {
		out = append(out, contentstream.Op("q"))
	}
	out = append(out, ops...)
	for i := 0; i <= depth; i++ {
		out = append(out, contentstream.Op("Q"))
	}
	return out
}

type plan struct {
	removed  map[int]bool
	replaced map[int][]contentstream.Operation
	res      *raw.DictObj
	xobjects *raw.DictObj
}

func (e *Editor) edit(ctx context.Context, ops []contentstream.Operation, resDict *raw.DictObj, ctm coords.Matrix, rects []coords.Rect, depth int, st *Stats) ([]contentstream.Operation, *raw.DictObj, bool, error) {
	res := contentstream.NewResources(e.host, resDict)
	items := contentstream.NewTracer(res, ctm).Trace(ops)
	hits := NewItemIndex(items).Query(rects...)
	if len(hits) == 0 {
		return ops, resDict, false, nil
	}

	p := &plan{
		removed:  make(map[int]bool),
		replaced: make(map[int][]contentstream.Operation),
		res:      resDict,
	}
	for _, i := range hits {
		if err := ctx.Err(); err != nil {
			return nil, nil, false, err
		}
		it := items[i]
		switch it.Kind {
		case contentstream.ItemText:
			if rep, n := editText(ops[it.Op], it, rects); n > 0 {
				p.replaced[it.Op] = rep
				st.Glyphs += n
			}
		case contentstream.ItemPath:
			if it.Paint.Fill || it.Paint.Stroke {
				if e.lineArtHit(it.Box, rects) {
					removePath(p, ops, it)
					st.Paths++
				}
			}
		case contentstream.ItemShading:
			if e.lineArtHit(it.Box, rects) {
				p.removed[it.Op] = true
				st.Shadings++
			}
		case contentstream.ItemInlineImage:
			if anyOverlap(it.Box, rects) {
				p.removed[it.Op] = true
				st.InlineImages++
			}
		case contentstream.ItemImage:
			if anyOverlap(it.Box, rects) {
				e.editImage(ctx, p, res, it, rects, st)
			}
		case contentstream.ItemForm:
			if anyOverlap(it.Box, rects) {
				if err := e.editForm(ctx, p, res, it, rects, depth, st); err != nil {
					return nil, nil, false, err
				}
			}
		}
	}
	if len(p.removed) == 0 && len(p.replaced) == 0 {
		return ops, resDict, false, nil
	}

	out := make([]contentstream.Operation, 0, len(ops))
	for i, op := range ops {
		if p.removed[i] {
			continue
		}
		if rep, ok := p.replaced[i]; ok {
			out = append(out, rep...)
			continue
		}
		out = append(out, op)
	}
	return out, p.res, true, nil
}

func (e *Editor) lineArtHit(box coords.Rect, rects []coords.Rect) bool {
	switch e.opts.LineArt {
	case LineArtTouched:
		return anyOverlap(box, rects)
	case LineArtCovered:
		for _, r := range rects {
			if r.Contains(box) {
				return true
			}
		}
	}
	return false
}

// overlap is strict for boxes with area and inclusive for degenerate ones,
// so zero-width glyphs and hairlines under a rectangle still count.
func overlap(box, r coords.Rect) bool {
	if box.Width() <= 0 || box.Height() <= 0 {
		return box.X0 <= r.X1 && box.X1 >= r.X0 && box.Y0 <= r.Y1 && box.Y1 >= r.Y0
	}
	return box.Intersects(r)
}

func anyOverlap(box coords.Rect, rects []coords.Rect) bool {
	for _, r := range rects {
		if overlap(box, r) {
			return true
		}
	}
	return false
}

func isPathConstruction(op string) bool {
	switch op {
	case "m", "l", "c", "v", "y", "h", "re":
		return true
	}
	return false
}

// removePath drops a painted path. A path that also clips keeps its
// construction and clip operators and loses only the painting.
func removePath(p *plan, ops []contentstream.Operation, it contentstream.Item) {
	if it.Paint.Clip {
		p.replaced[it.Op] = []contentstream.Operation{contentstream.Op("n")}
		return
	}
	for j := it.PathStart; j <= it.Op; j++ {
		if j == it.Op || isPathConstruction(ops[j].Operator) {
			p.removed[j] = true
		}
	}
}

// editText rewrites a text showing operation without the glyphs under
// rects. Each removed glyph becomes a TJ adjustment equal to its advance
// so the remaining glyphs keep their positions.
func editText(op contentstream.Operation, it contentstream.Item, rects []coords.Rect) ([]contentstream.Operation, int) {
	drop := make([]bool, len(it.Glyphs))
	n := 0
	for i, g := range it.Glyphs {
		if anyOverlap(g.Box, rects) {
			drop[i] = true
			n++
		}
	}
	if n == 0 {
		return nil, 0
	}

	var source []raw.Object
	switch op.Operator {
	case "TJ":
		if arr, ok := op.Operands[0].(*raw.ArrayObj); ok {
			source = arr.Items
		}
	case "\"":
		source = op.Operands[2:3]
	default:
		source = op.Operands[:1]
	}

	scale := it.FontSize * it.HScale
	var elems []raw.Object
	addNum := func(v float64) {
		if v == 0 {
			return
		}
		if last := len(elems) - 1; last >= 0 {
			if prev, ok := elems[last].(raw.NumberObj); ok {
				elems[last] = raw.NumberFloat(prev.Float() + v)
				return
			}
		}
		elems = append(elems, raw.NumberFloat(v))
	}
	addStr := func(b []byte, hex bool) {
		if len(b) > 0 {
			elems = append(elems, raw.StringObj{Bytes: b, Hex: hex})
		}
	}

	gi := 0
	for ei, el := range source {
		switch v := el.(type) {
		case raw.NumberObj:
			addNum(v.Float())
		case raw.StringObj:
			var run []byte
			for gi < len(it.Glyphs) && it.Glyphs[gi].Elem == ei {
				g := it.Glyphs[gi]
				if drop[gi] {
					addStr(run, v.Hex)
					run = nil
					if scale != 0 {
						addNum(-g.Advance * 1000 / scale)
					}
				} else {
					run = append(run, v.Bytes[g.Start:g.End]...)
				}
				gi++
			}
			addStr(run, v.Hex)
		}
	}

	tj := contentstream.Op("TJ", raw.NewArray(elems...))
	switch op.Operator {
	case "'":
		return []contentstream.Operation{contentstream.Op("T*"), tj}, n
	case "\"":
		return []contentstream.Operation{
			contentstream.Op("Tw", op.Operands[0]),
			contentstream.Op("Tc", op.Operands[1]),
			contentstream.Op("T*"),
			tj,
		}, n
	}
	return []contentstream.Operation{tj}, n
}

// xobjects returns the private XObject dictionary of the edited
// resources, cloning the resource dictionary on first use.
func (e *Editor) xobjects(p *plan) *raw.DictObj {
	if p.xobjects != nil {
		return p.xobjects
	}
	res := raw.Dict()
	for _, k := range p.res.Keys() {
		res.Set(k, p.res.KV[k])
	}
	xo := raw.Dict()
	if orig, ok := raw.AsDict(deref(e.host, res.KV["XObject"])); ok {
		for _, k := range orig.Keys() {
			xo.Set(k, orig.KV[k])
		}
	}
	res.Set("XObject", xo)
	p.res, p.xobjects = res, xo
	return xo
}

// rebind stores obj as a new XObject and points the Do at op to it.
func (e *Editor) rebind(p *plan, op int, name string, obj raw.Object) {
	ref := e.host.Add(obj)
	xo := e.xobjects(p)
	fresh := name
	for i := 1; ; i++ {
		fresh = fmt.Sprintf("%sR%d", name, i)
		if _, taken := xo.Get(fresh); !taken {
			break
		}
	}
	xo.Set(fresh, raw.RefObj{R: ref})
	p.replaced[op] = []contentstream.Operation{contentstream.Op("Do", raw.NameLiteral(fresh))}
}

func (e *Editor) editImage(ctx context.Context, p *plan, res *contentstream.Resources, it contentstream.Item, rects []coords.Rect, st *Stats) {
	drop := func(reason error) {
		e.log.Debug("removing image draw", observability.String("name", it.Name), observability.Error(reason))
		p.removed[it.Op] = true
		st.ImagesRemoved++
	}
	stm, _, ok := res.XObject(it.Name)
	if !ok {
		return
	}
	inv, err := it.CTM.Inverse()
	if err != nil {
		drop(err)
		return
	}
	img, err := extractor.DecodeImage(ctx, e.host, stm)
	if err != nil {
		drop(err)
		return
	}
	var regions []coords.Rect
	for _, r := range rects {
		if overlap(it.Box, r) {
			regions = append(regions, inv.TransformRect(r.Intersect(it.Box)))
		}
	}
	changed := 0
	for _, u := range regions {
		changed += whiten(img, u)
	}
	if changed == 0 {
		return
	}

	out, err := img.Stream(stm.Dict)
	if err != nil {
		drop(err)
		return
	}
	if smaskObj, ok := stm.Dict.Get("SMask"); ok {
		smask, ok := deref(e.host, smaskObj).(*raw.StreamObj)
		if !ok {
			drop(errors.New("soft mask is not a stream"))
			return
		}
		alpha, err := extractor.DecodeImage(ctx, e.host, smask)
		if err != nil {
			drop(fmt.Errorf("soft mask: %w", err))
			return
		}
		for _, u := range regions {
			whiten(alpha, u)
		}
		packed, err := alpha.Stream(smask.Dict)
		if err != nil {
			drop(err)
			return
		}
		out.Dict.Set("SMask", raw.RefObj{R: e.host.Add(packed)})
	}
	e.rebind(p, it.Op, it.Name, out)
	st.ImagesWhitened++
}

// whiten clears the pixels covering u, a rectangle in image space where
// the unit square spans the whole image with row 0 at the top.
func whiten(img *extractor.Samples, u coords.Rect) int {
	w, h := float64(img.Width), float64(img.Height)
	x0 := int(math.Floor(u.X0 * w))
	x1 := int(math.Ceil(u.X1 * w))
	y0 := int(math.Floor((1 - u.Y1) * h))
	y1 := int(math.Ceil((1 - u.Y0) * h))
	return img.Whiten(x0, y0, x1, y1)
}

func (e *Editor) editForm(ctx context.Context, p *plan, res *contentstream.Resources, it contentstream.Item, rects []coords.Rect, depth int, st *Stats) error {
	drop := func(reason error) {
		e.log.Debug("removing form draw", observability.String("name", it.Name), observability.Error(reason))
		p.removed[it.Op] = true
		st.Forms++
	}
	stm, _, ok := res.XObject(it.Name)
	if !ok {
		return nil
	}
	if depth+1 > e.opts.MaxDepth {
		drop(errors.New("form nesting too deep"))
		return nil
	}
	names, params := filters.ExtractFilters(stm.Dict)
	data, _, err := filters.Default(filters.Limits{}).Decode(ctx, stm.Data, names, params)
	if err != nil {
		drop(err)
		return nil
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		drop(err)
		return nil
	}
	formRes, ok := raw.AsDict(deref(e.host, stm.Dict.KV["Resources"]))
	if !ok {
		formRes = p.res
	}
	edited, newRes, changed, err := e.edit(ctx, ops, formRes, it.Matrix, rects, depth+1, st)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	content, err := filters.FlateEncode(contentstream.Serialize(edited))
	if err != nil {
		return fmt.Errorf("encode form %s: %w", it.Name, err)
	}
	d := raw.Dict()
	for _, k := range stm.Dict.Keys() {
		switch k {
		case "Filter", "DecodeParms", "Length", "DL":
			continue
		}
		d.Set(k, stm.Dict.KV[k])
	}
	d.Set("Filter", raw.NameLiteral("FlateDecode"))
	d.Set("Resources", newRes)
	e.rebind(p, it.Op, it.Name, raw.NewStream(d, content))
	return nil
}

func num(v float64) raw.Object {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return raw.NumberInt(int64(v))
	}
	return raw.NumberFloat(v)
}

func deref(r raw.Resolver, o raw.Object) raw.Object {
	if o == nil {
		return nil
	}
	v, err := raw.Deref(r, o)
	if err != nil {
		return nil
	}
	return v
}
