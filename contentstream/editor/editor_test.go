package editor_test

import (
	"context"
	"math"
	"testing"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
)

type memHost struct {
	objs map[int]raw.Object
	next int
}

func newHost() *memHost { return &memHost{objs: make(map[int]raw.Object), next: 100} }

func (h *memHost) Resolve(ref raw.ObjectRef) (raw.Object, error) {
	if o, ok := h.objs[ref.Num]; ok {
		return o, nil
	}
	return raw.NullObj{}, nil
}

func (h *memHost) Add(o raw.Object) raw.ObjectRef {
	h.next++
	h.objs[h.next] = o
	return raw.ObjectRef{Num: h.next}
}

func parse(t *testing.T, src string) []contentstream.Operation {
	t.Helper()
	ops, err := contentstream.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return ops
}

func operators(ops []contentstream.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Operator
	}
	return out
}

func has(ops []contentstream.Operation, operator string) bool {
	for _, op := range ops {
		if op.Operator == operator {
			return true
		}
	}
	return false
}

func glyphStarts(ops []contentstream.Operation) []float64 {
	var xs []float64
	for _, it := range contentstream.NewTracer(nil, coords.Identity()).Trace(ops) {
		for _, g := range it.Glyphs {
			xs = append(xs, g.Box.X0)
		}
	}
	return xs
}

func TestRemoveGlyphKeepsNeighboursInPlace(t *testing.T) {
	ops := parse(t, "BT /F1 10 Tf 100 200 Td (ABC) Tj ET")
	before := glyphStarts(ops)

	ed := editor.NewEditor(newHost(), editor.Options{})
	res, err := ed.RemoveRects(context.Background(), ops, nil, coords.Identity(), []coords.Rect{{X0: 108, Y0: 195, X1: 110, Y1: 210}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Stats.Glyphs != 1 {
		t.Fatalf("removed %d glyphs, want 1", res.Stats.Glyphs)
	}
	var tj *raw.ArrayObj
	for _, op := range res.Ops {
		if op.Operator == "TJ" {
			tj = op.Operands[0].(*raw.ArrayObj)
		}
	}
	if tj == nil || tj.Len() != 3 {
		t.Fatalf("TJ = %+v", tj)
	}
	if s := tj.Items[0].(raw.StringObj); string(s.Bytes) != "A" {
		t.Fatalf("first run = %q", s.Bytes)
	}
	if n := tj.Items[1].(raw.NumberObj).Float(); math.Abs(n+667) > 1e-6 {
		t.Fatalf("adjustment = %v, want -667", n)
	}

	after := glyphStarts(res.Ops)
	if len(after) != 2 || math.Abs(after[0]-before[0]) > 1e-6 || math.Abs(after[1]-before[2]) > 1e-6 {
		t.Fatalf("glyphs moved: before %v after %v", before, after)
	}
}

func TestRemoveTextFromTJAndQuoteOperators(t *testing.T) {
	ops := parse(t, "BT /F1 10 Tf 12 TL 0 100 Td [(AB) -250 (C)] TJ (AB) ' 1 2 (AB) \" ET")
	rects := []coords.Rect{{X0: -1, Y0: 0, X1: 2, Y1: 120}}
	res, err := editor.NewEditor(newHost(), editor.Options{}).RemoveRects(context.Background(), ops, nil, coords.Identity(), rects)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Stats.Glyphs != 3 {
		t.Fatalf("removed %d glyphs, want 3", res.Stats.Glyphs)
	}
	got := operators(res.Ops)
	want := []string{"BT", "Tf", "TL", "Td", "TJ", "T*", "TJ", "Tw", "Tc", "T*", "TJ", "ET"}
	if len(got) != len(want) {
		t.Fatalf("operators = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("operators = %v, want %v", got, want)
		}
	}
	// The B glyphs stay where they were.
	before, after := glyphStarts(ops), glyphStarts(res.Ops)
	if math.Abs(after[0]-before[1]) > 1e-6 || math.Abs(after[1]-before[2]) > 1e-6 || math.Abs(after[3]-before[6]) > 1e-6 {
		t.Fatalf("glyphs moved: before %v after %v", before, after)
	}
}

func TestLineArtPolicies(t *testing.T) {
	src := "10 10 50 20 re f 0 0 m 200 200 l S"
	small := []coords.Rect{{X0: 0, Y0: 0, X1: 20, Y1: 20}}
	large := []coords.Rect{{X0: 0, Y0: 0, X1: 100, Y1: 100}}

	cases := []struct {
		name   string
		policy editor.LineArt
		rects  []coords.Rect
		paths  int
	}{
		{"touched small", editor.LineArtTouched, small, 2},
		{"covered small", editor.LineArtCovered, small, 0},
		{"covered large", editor.LineArtCovered, large, 1},
		{"none", editor.LineArtNone, large, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := editor.NewEditor(newHost(), editor.Options{LineArt: tc.policy}).
				RemoveRects(context.Background(), parse(t, src), nil, coords.Identity(), tc.rects)
			if err != nil {
				t.Fatalf("remove: %v", err)
			}
			if res.Stats.Paths != tc.paths {
				t.Fatalf("removed %d paths, want %d (ops %v)", res.Stats.Paths, tc.paths, operators(res.Ops))
			}
		})
	}
}

func TestClippingPathSurvives(t *testing.T) {
	ops := parse(t, "q 0 0 100 100 re W f 5 5 m 6 6 l S Q")
	res, err := editor.NewEditor(newHost(), editor.Options{}).
		RemoveRects(context.Background(), ops, nil, coords.Identity(), []coords.Rect{{X0: 0, Y0: 0, X1: 10, Y1: 10}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	got := operators(res.Ops)
	want := []string{"q", "re", "W", "n", "Q"}
	if len(got) != len(want) {
		t.Fatalf("operators = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("operators = %v, want %v", got, want)
		}
	}
}

func imageResources(img *raw.StreamObj) *raw.DictObj {
	xo := raw.Dict()
	xo.Set("Im1", img)
	res := raw.Dict()
	res.Set("XObject", xo)
	return res
}

func grayImage(w, h int, fill byte) *raw.StreamObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Image"))
	d.Set("Width", raw.NumberInt(int64(w)))
	d.Set("Height", raw.NumberInt(int64(h)))
	d.Set("BitsPerComponent", raw.NumberInt(8))
	d.Set("ColorSpace", raw.NameLiteral("DeviceGray"))
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = fill
	}
	return raw.NewStream(d, pix)
}

func TestImagePixelsWhitened(t *testing.T) {
	host := newHost()
	res := imageResources(grayImage(4, 4, 0))
	ops := parse(t, "q 40 0 0 40 0 0 cm /Im1 Do Q")
	out, err := editor.NewEditor(host, editor.Options{}).
		RemoveRects(context.Background(), ops, res, coords.Identity(), []coords.Rect{{X0: 0, Y0: 20, X1: 20, Y1: 40}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if out.Stats.ImagesWhitened != 1 {
		t.Fatalf("stats = %+v", out.Stats)
	}
	if name := out.Ops[2].Name(0); name != "Im1R1" {
		t.Fatalf("Do operand = %q", name)
	}
	xo, _ := out.Resources.Get("XObject")
	ref, _ := xo.(*raw.DictObj).Get("Im1R1")
	stm := host.objs[ref.(raw.RefObj).R.Num].(*raw.StreamObj)
	names, params := filters.ExtractFilters(stm.Dict)
	pix, _, err := filters.Default(filters.Limits{}).Decode(context.Background(), stm.Data, names, params)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := byte(0)
			if x < 2 && y < 2 {
				want = 255
			}
			if pix[y*4+x] != want {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, pix[y*4+x], want)
			}
		}
	}
	// The source resources are untouched.
	orig, _ := res.Get("XObject")
	if _, ok := orig.(*raw.DictObj).Get("Im1R1"); ok {
		t.Fatalf("original resources were modified")
	}
}

func TestUndecodableImageDrawRemoved(t *testing.T) {
	img := grayImage(8, 1, 0)
	img.Dict.Set("BitsPerComponent", raw.NumberInt(1))
	ops := parse(t, "q 10 0 0 10 0 0 cm /Im1 Do Q BI /W 1 /H 1 /BPC 8 /CS /G ID \x00 EI")
	out, err := editor.NewEditor(newHost(), editor.Options{}).
		RemoveRects(context.Background(), ops, imageResources(img), coords.Identity(), []coords.Rect{{X0: 0, Y0: 0, X1: 5, Y1: 5}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if has(out.Ops, "Do") || has(out.Ops, "BI") {
		t.Fatalf("image draws survived: %v", operators(out.Ops))
	}
	if out.Stats.ImagesRemoved != 1 || out.Stats.InlineImages != 1 {
		t.Fatalf("stats = %+v", out.Stats)
	}
}

func formResources(host *memHost, content string, inner *raw.DictObj) *raw.DictObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Form"))
	d.Set("BBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(50), raw.NumberInt(50)))
	if inner != nil {
		d.Set("Resources", inner)
	}
	ref := host.Add(raw.NewStream(d, []byte(content)))
	xo := raw.Dict()
	xo.Set("Fm1", raw.RefObj{R: ref})
	res := raw.Dict()
	res.Set("XObject", xo)
	return res
}

func TestFormRewrittenPrivately(t *testing.T) {
	host := newHost()
	res := formResources(host, "0 0 10 10 re f 30 30 10 10 re f", nil)
	ops := parse(t, "1 0 0 1 100 100 cm /Fm1 Do")
	out, err := editor.NewEditor(host, editor.Options{}).
		RemoveRects(context.Background(), ops, res, coords.Identity(), []coords.Rect{{X0: 100, Y0: 100, X1: 105, Y1: 105}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	name := out.Ops[1].Name(0)
	if name == "Fm1" {
		t.Fatalf("form draw still points at the shared form")
	}
	xo, _ := out.Resources.Get("XObject")
	ref, _ := xo.(*raw.DictObj).Get(name)
	stm := host.objs[ref.(raw.RefObj).R.Num].(*raw.StreamObj)
	names, params := filters.ExtractFilters(stm.Dict)
	data, _, err := filters.Default(filters.Limits{}).Decode(context.Background(), stm.Data, names, params)
	if err != nil {
		t.Fatalf("decode form: %v", err)
	}
	got := operators(parse(t, string(data)))
	if len(got) != 2 || got[0] != "re" || got[1] != "f" {
		t.Fatalf("form content = %v", got)
	}
	if out.Stats.Paths != 1 {
		t.Fatalf("stats = %+v", out.Stats)
	}
}

func TestFormDepthLimit(t *testing.T) {
	host := newHost()
	inner := formResources(host, "0 0 10 10 re f", nil)
	res := formResources(host, "/Fm1 Do", inner)
	out, err := editor.NewEditor(host, editor.Options{MaxDepth: 1}).
		RemoveRects(context.Background(), parse(t, "/Fm1 Do"), res, coords.Identity(), []coords.Rect{{X0: 0, Y0: 0, X1: 5, Y1: 5}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if out.Stats.Forms != 1 {
		t.Fatalf("stats = %+v", out.Stats)
	}
}

func TestRedactWrapsAndFills(t *testing.T) {
	ops := parse(t, "q 1 0 0 1 5 5 cm Q Q 0 0 1 1 re f q")
	rect := coords.Rect{X0: 50, Y0: 50, X1: 60, Y1: 70}
	out, err := editor.NewEditor(newHost(), editor.Options{}).Redact(context.Background(), ops, nil, []coords.Rect{rect})
	if err != nil {
		t.Fatalf("redact: %v", err)
	}
	got := operators(out.Ops)
	want := []string{"q", "q", "q", "cm", "Q", "Q", "re", "f", "q", "Q", "Q", "q", "rg", "re", "f", "Q"}
	if len(got) != len(want) {
		t.Fatalf("operators = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("operators = %v, want %v", got, want)
		}
	}
	fill := out.Ops[13]
	if v, _ := fill.Nums(); v[0] != 50 || v[1] != 50 || v[2] != 10 || v[3] != 20 {
		t.Fatalf("fill = %v", v)
	}
}

func TestParseLineArt(t *testing.T) {
	for s, want := range map[string]editor.LineArt{"": editor.LineArtTouched, "covered": editor.LineArtCovered, "none": editor.LineArtNone} {
		got, err := editor.ParseLineArt(s)
		if err != nil || got != want {
			t.Fatalf("ParseLineArt(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := editor.ParseLineArt("all"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
