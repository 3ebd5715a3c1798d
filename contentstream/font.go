package contentstream

import (
	"context"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
)

// Font carries what glyph positioning needs: code length and widths.
// Widths are in text space units per unit of font size.
type Font struct {
	Subtype  string
	BaseFont string
	// TwoByte is set for composite fonts, whose codes are two bytes.
	TwoByte bool
	Ascent  float64
	Descent float64

	widths       map[int]float64
	defaultWidth float64
}

// Code is one character code within a shown string.
type Code struct {
	Value      int
	Start, End int
}

// Codes splits s into character codes.
func (f *Font) Codes(s []byte) []Code {
	step := 1
	if f.TwoByte {
		step = 2
	}
	out := make([]Code, 0, len(s)/step+1)
	for i := 0; i < len(s); i += step {
		end := i + step
		if end > len(s) {
			end = len(s)
		}
		v := 0
		for _, b := range s[i:end] {
			v = v<<8 | int(b)
		}
		out = append(out, Code{Value: v, Start: i, End: end})
	}
	return out
}

// Width returns the advance of code in text space per unit font size.
func (f *Font) Width(code int) float64 {
	if w, ok := f.widths[code]; ok {
		return w
	}
	return f.defaultWidth
}

// WordSpaceApplies reports whether word spacing applies after code.
func (f *Font) WordSpaceApplies(c Code) bool {
	return !f.TwoByte && c.End-c.Start == 1 && c.Value == 32
}

// DefaultFont is used when Tf names a missing font.
func DefaultFont() *Font {
	return standardFont("Helvetica")
}

// LoadFont reads a font dictionary. It never fails: unknown fonts fall
// back to standard metrics.
func LoadFont(r raw.Resolver, obj raw.Object) *Font {
	d := dictOf(r, obj)
	if d == nil {
		return DefaultFont()
	}
	subtype := nameOf(r, d, "Subtype")
	base := nameOf(r, d, "BaseFont")
	if subtype == "Type0" {
		return loadType0(r, d, base)
	}

	f := standardFont(base)
	f.Subtype = subtype
	scale := 0.001
	if subtype == "Type3" {
		if m, ok := raw.Floats(deref(r, dictGet(d, "FontMatrix"))); ok && len(m) == 6 {
			scale = m[0]
		}
	}
	desc := dictOf(r, dictGet(d, "FontDescriptor"))
	applyDescriptor(r, f, desc)

	widths, ok := raw.Floats(deref(r, dictGet(d, "Widths")))
	if ok && len(widths) > 0 {
		first, _ := raw.AsInt(deref(r, dictGet(d, "FirstChar")))
		f.widths = make(map[int]float64, len(widths))
		for i, w := range widths {
			f.widths[int(first)+i] = w * scale
		}
		if mw, ok := raw.AsFloat(deref(r, dictGet(desc, "MissingWidth"))); ok {
			f.defaultWidth = mw * scale
		}
		return f
	}
	if embedded := trueTypeWidths(r, desc); embedded != nil {
		f.widths = embedded
	}
	return f
}

// loadType0 assumes two-byte codes, which covers Identity-H and the
// common CJK CMaps.
func loadType0(r raw.Resolver, d *raw.DictObj, base string) *Font {
	f := &Font{Subtype: "Type0", BaseFont: base, TwoByte: true, Ascent: 0.8, Descent: -0.2, defaultWidth: 1}
	kids, ok := raw.AsArray(deref(r, dictGet(d, "DescendantFonts")))
	if !ok || kids.Len() == 0 {
		return f
	}
	cid := dictOf(r, kids.Items[0])
	if cid == nil {
		return f
	}
	applyDescriptor(r, f, dictOf(r, dictGet(cid, "FontDescriptor")))
	if dw, ok := raw.AsFloat(deref(r, dictGet(cid, "DW"))); ok {
		f.defaultWidth = dw / 1000
	}
	w, ok := raw.AsArray(deref(r, dictGet(cid, "W")))
	if !ok {
		return f
	}
	f.widths = make(map[int]float64)
	items := w.Items
	for i := 0; i < len(items); {
		first, ok := raw.AsInt(deref(r, items[i]))
		if !ok || i+1 >= len(items) {
			break
		}
		if arr, ok := raw.AsArray(deref(r, items[i+1])); ok {
			for j, v := range arr.Items {
				if wv, ok := raw.AsFloat(deref(r, v)); ok {
					f.widths[int(first)+j] = wv / 1000
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			break
		}
		last, _ := raw.AsInt(deref(r, items[i+1]))
		wv, _ := raw.AsFloat(deref(r, items[i+2]))
		for c := first; c <= last && c-first < 0x10000; c++ {
			f.widths[int(c)] = wv / 1000
		}
		i += 3
	}
	return f
}

func applyDescriptor(r raw.Resolver, f *Font, desc *raw.DictObj) {
	if desc == nil {
		return
	}
	if a, ok := raw.AsFloat(deref(r, dictGet(desc, "Ascent"))); ok && a > 0 {
		f.Ascent = a / 1000
	}
	if d, ok := raw.AsFloat(deref(r, dictGet(desc, "Descent"))); ok && d < 0 {
		f.Descent = d / 1000
	}
}

// trueTypeWidths measures an embedded TrueType program when the font
// dictionary carries no /Widths. Codes are looked up as Latin-1 runes.
func trueTypeWidths(r raw.Resolver, desc *raw.DictObj) map[int]float64 {
	stm, ok := deref(r, dictGet(desc, "FontFile2")).(*raw.StreamObj)
	if !ok {
		return nil
	}
	names, params := filters.ExtractFilters(stm.Dict)
	data, _, err := filters.Default(filters.Limits{}).Decode(context.Background(), stm.Data, names, params)
	if err != nil {
		return nil
	}
	ft, err := sfnt.Parse(data)
	if err != nil {
		return nil
	}
	var buf sfnt.Buffer
	upem := ft.UnitsPerEm()
	ppem := fixed.Int26_6(upem) << 6
	out := make(map[int]float64, 224)
	for code := 32; code < 256; code++ {
		idx, err := ft.GlyphIndex(&buf, rune(code))
		if err != nil || idx == 0 {
			continue
		}
		adv, err := ft.GlyphAdvance(&buf, idx, ppem, font.HintingNone)
		if err != nil {
			continue
		}
		out[code] = float64(adv) / 64 / float64(upem)
	}
	return out
}

func standardFont(base string) *Font {
	name := base
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	f := &Font{Subtype: "Type1", BaseFont: base, Ascent: 0.8, Descent: -0.2, defaultWidth: 0.5}
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "courier") || strings.Contains(lower, "mono"):
		f.defaultWidth = 0.6
		return f
	case strings.Contains(lower, "times") || strings.Contains(lower, "serif") && !strings.Contains(lower, "sans"):
		f.widths = asciiWidths(timesWidths)
	case strings.Contains(lower, "symbol") || strings.Contains(lower, "dingbats"):
		f.defaultWidth = 0.6
		return f
	default:
		f.widths = asciiWidths(helveticaWidths)
	}
	return f
}

func asciiWidths(table [95]int) map[int]float64 {
	out := make(map[int]float64, len(table))
	for i, w := range table {
		out[32+i] = float64(w) / 1000
	}
	return out
}

// Advance widths for codes 32..126 of the standard Helvetica and
// Times-Roman fonts.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

var timesWidths = [95]int{
	250, 333, 408, 500, 500, 833, 778, 180, 333, 333, 500, 564, 250, 333, 250, 278,
	500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 278, 278, 564, 564, 564, 444,
	921, 722, 667, 667, 722, 611, 556, 722, 722, 333, 389, 722, 611, 889, 722, 722,
	556, 722, 667, 556, 611, 722, 722, 944, 722, 722, 611, 333, 278, 333, 469, 500,
	333, 444, 500, 444, 500, 444, 333, 500, 500, 278, 278, 500, 278, 778, 500, 500,
	500, 500, 333, 389, 278, 500, 500, 722, 500, 500, 444, 480, 200, 480, 541,
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

func dictGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func dictOf(r raw.Resolver, o raw.Object) *raw.DictObj {
	d, _ := raw.AsDict(deref(r, o))
	return d
}

func nameOf(r raw.Resolver, d *raw.DictObj, key string) string {
	n, _ := raw.AsName(deref(r, dictGet(d, key)))
	return n
}
