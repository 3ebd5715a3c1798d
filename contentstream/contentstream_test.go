package contentstream

import (
	"bytes"
	"math"
	"testing"

	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/ir/raw"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func rectNear(a, b coords.Rect) bool {
	return near(a.X0, b.X0) && near(a.Y0, b.Y0) && near(a.X1, b.X1) && near(a.Y1, b.Y1)
}

func mustParse(t *testing.T, src string) []Operation {
	t.Helper()
	ops, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return ops
}

func TestParseOperators(t *testing.T) {
	ops := mustParse(t, "q 1 0 0 1 10 20 cm BT /F1 12 Tf (Hi) Tj [(A) -120 (B)] TJ ET Q")
	want := []string{"q", "cm", "BT", "Tf", "Tj", "TJ", "ET", "Q"}
	if len(ops) != len(want) {
		t.Fatalf("got %d operations, want %d", len(ops), len(want))
	}
	for i, op := range ops {
		if op.Operator != want[i] {
			t.Fatalf("op %d = %q, want %q", i, op.Operator, want[i])
		}
	}
	if ops[3].Name(0) != "F1" || ops[3].Num(1) != 12 {
		t.Fatalf("Tf operands = %v", ops[3].Operands)
	}
	arr, ok := ops[5].Operands[0].(*raw.ArrayObj)
	if !ok || arr.Len() != 3 {
		t.Fatalf("TJ operand = %#v", ops[5].Operands)
	}
}

func TestParseInlineImage(t *testing.T) {
	ops := mustParse(t, "q BI /W 2 /H 1 /BPC 8 /CS /G ID \x00\xff EI Q")
	if len(ops) != 3 || ops[1].Operator != "BI" || ops[1].Image == nil {
		t.Fatalf("unexpected operations: %+v", ops)
	}
	if !bytes.Equal(ops[1].Image.Data, []byte{0x00, 0xff}) {
		t.Fatalf("image data = %x", ops[1].Image.Data)
	}
	if w, _ := ops[1].Image.Dict.Get("W"); w != raw.NumberInt(2) {
		t.Fatalf("W = %v", w)
	}
}

func TestSerializeReparses(t *testing.T) {
	src := "q 0.5 g 10 10 50 20 re f BT /F1 9 Tf (a\\(b) Tj [<0041> 250 (c)] TJ ET Q"
	ops := mustParse(t, src)
	again := mustParse(t, string(Serialize(ops)))
	if len(again) != len(ops) {
		t.Fatalf("reparsed %d ops, want %d", len(again), len(ops))
	}
	for i := range ops {
		if ops[i].Operator != again[i].Operator || len(ops[i].Operands) != len(again[i].Operands) {
			t.Fatalf("op %d changed: %+v -> %+v", i, ops[i], again[i])
		}
	}
	if s := again[6].Operands[0].(raw.StringObj); string(s.Bytes) != "a(b" {
		t.Fatalf("string operand = %q", s.Bytes)
	}
}

func TestTraceTextGlyphBoxes(t *testing.T) {
	ops := mustParse(t, "BT /F1 10 Tf 100 200 Td (AB) Tj ET")
	items := NewTracer(nil, coords.Identity()).Trace(ops)
	if len(items) != 1 || items[0].Kind != ItemText {
		t.Fatalf("items = %+v", items)
	}
	g := items[0].Glyphs
	if len(g) != 2 {
		t.Fatalf("glyphs = %d, want 2", len(g))
	}
	if want := (coords.Rect{X0: 100, Y0: 198, X1: 106.67, Y1: 208}); !rectNear(g[0].Box, want) {
		t.Fatalf("first glyph box = %+v, want %+v", g[0].Box, want)
	}
	if !near(g[1].Box.X0, 106.67) || !near(g[0].Advance, 6.67) {
		t.Fatalf("second glyph box = %+v advance %v", g[1].Box, g[0].Advance)
	}
	if g[1].Start != 1 || g[1].End != 2 {
		t.Fatalf("byte range = %d..%d", g[1].Start, g[1].End)
	}
}

func TestTraceTJAdjustmentsAndSpacing(t *testing.T) {
	ops := mustParse(t, "BT /F1 10 Tf 2 Tc [(A) -1000 (B)] TJ ET")
	items := NewTracer(nil, coords.Identity()).Trace(ops)
	g := items[0].Glyphs
	if len(g) != 2 || g[1].Elem != 2 {
		t.Fatalf("glyphs = %+v", g)
	}
	// 6.67 advance, 2 char spacing, 10 from the adjustment.
	if !near(g[1].Box.X0, 18.67) {
		t.Fatalf("B starts at %v", g[1].Box.X0)
	}
}

func TestTraceWordSpacingAndScale(t *testing.T) {
	ops := mustParse(t, "BT /F1 10 Tf 5 Tw 50 Tz ( A) Tj ET")
	g := NewTracer(nil, coords.Identity()).Trace(ops)[0].Glyphs
	// space: (2.78 + 5) * 0.5
	if !near(g[1].Box.X0, 3.89) {
		t.Fatalf("A starts at %v", g[1].Box.X0)
	}
	if !near(g[1].Box.Width(), 3.335) {
		t.Fatalf("A width = %v", g[1].Box.Width())
	}
}

func TestTraceNextLineOperators(t *testing.T) {
	ops := mustParse(t, "BT /F1 10 Tf 12 TL 0 100 Td (A) ' 1 2 (B) \" ET")
	items := NewTracer(nil, coords.Identity()).Trace(ops)
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if !near(items[0].Glyphs[0].Box.Y0, 86) || !near(items[1].Glyphs[0].Box.Y0, 74) {
		t.Fatalf("baselines = %v %v", items[0].Box.Y0, items[1].Box.Y0)
	}
}

func TestTracePaths(t *testing.T) {
	ops := mustParse(t, "10 10 50 20 re f 2 w 0 0 m 10 0 l S 0 0 m 5 5 l n")
	items := NewTracer(nil, coords.Identity()).Trace(ops)
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	fill := items[0]
	if fill.Kind != ItemPath || fill.PathStart != 0 || fill.Op != 1 || !fill.Paint.Fill {
		t.Fatalf("fill item = %+v", fill)
	}
	if !rectNear(fill.Box, coords.Rect{X0: 10, Y0: 10, X1: 60, Y1: 30}) {
		t.Fatalf("fill box = %+v", fill.Box)
	}
	stroke := items[1]
	if stroke.PathStart != 3 || stroke.Op != 5 || !rectNear(stroke.Box, coords.Rect{X0: -1, Y0: -1, X1: 11, Y1: 1}) {
		t.Fatalf("stroke item = %+v", stroke)
	}
}

func TestTraceClipBoundsShading(t *testing.T) {
	ops := mustParse(t, "q 0 0 100 50 re W n /Sh1 sh Q /Sh1 sh")
	items := NewTracer(nil, coords.Identity()).Trace(ops)
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	if !items[0].Paint.Clip || items[0].Paint.Fill {
		t.Fatalf("clip item paint = %+v", items[0].Paint)
	}
	if items[1].Kind != ItemShading || !rectNear(items[1].Box, coords.Rect{X1: 100, Y1: 50}) {
		t.Fatalf("clipped shading = %+v", items[1])
	}
	if items[2].Box != unbounded {
		t.Fatalf("shading after Q should be unbounded, got %+v", items[2].Box)
	}
}

func TestTraceXObjects(t *testing.T) {
	img := raw.Dict()
	img.Set("Subtype", raw.NameLiteral("Image"))
	form := raw.Dict()
	form.Set("Subtype", raw.NameLiteral("Form"))
	form.Set("BBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(10), raw.NumberInt(10)))
	form.Set("Matrix", raw.NewArray(raw.NumberInt(2), raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(2), raw.NumberInt(0), raw.NumberInt(0)))
	xobj := raw.Dict()
	xobj.Set("Im1", raw.NewStream(img, nil))
	xobj.Set("Fm1", raw.NewStream(form, nil))
	res := raw.Dict()
	res.Set("XObject", xobj)

	ops := mustParse(t, "q 20 0 0 30 5 5 cm /Im1 Do Q 1 0 0 1 100 100 cm /Fm1 Do /Missing Do BI /W 1 /H 1 ID \x00 EI")
	items := NewTracer(NewResources(nil, res), coords.Identity()).Trace(ops)
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Kind != ItemImage || items[0].Name != "Im1" || !rectNear(items[0].Box, coords.Rect{X0: 5, Y0: 5, X1: 25, Y1: 35}) {
		t.Fatalf("image item = %+v", items[0])
	}
	if items[1].Kind != ItemForm || !rectNear(items[1].Box, coords.Rect{X0: 100, Y0: 100, X1: 120, Y1: 120}) {
		t.Fatalf("form item = %+v", items[1])
	}
	if items[2].Kind != ItemInlineImage || !rectNear(items[2].Box, coords.Rect{X0: 100, Y0: 100, X1: 101, Y1: 101}) {
		t.Fatalf("inline item = %+v", items[2])
	}
}

func TestTraceInitialMatrix(t *testing.T) {
	// Top-left origin for an 800pt tall page.
	ctm := coords.Matrix{1, 0, 0, -1, 0, 800}
	items := NewTracer(nil, ctm).Trace(mustParse(t, "10 700 20 50 re f"))
	if !rectNear(items[0].Box, coords.Rect{X0: 10, Y0: 50, X1: 30, Y1: 100}) {
		t.Fatalf("box = %+v", items[0].Box)
	}
}

func TestFontWidthsFromDictionary(t *testing.T) {
	d := raw.Dict()
	d.Set("Subtype", raw.NameLiteral("TrueType"))
	d.Set("BaseFont", raw.NameLiteral("ABCDEF+Custom"))
	d.Set("FirstChar", raw.NumberInt(65))
	d.Set("Widths", raw.NewArray(raw.NumberInt(500), raw.NumberInt(250)))
	f := LoadFont(nil, d)
	if !near(f.Width(65), 0.5) || !near(f.Width(66), 0.25) {
		t.Fatalf("widths = %v %v", f.Width(65), f.Width(66))
	}
	if f.TwoByte {
		t.Fatalf("simple font reported two-byte codes")
	}
}
