// Package builder writes small PDF files from drawing calls. It backs the
// test fixtures of the document, render and redaction packages and the
// sample command of the terminal front-end.
package builder

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/security"
	"github.com/wudi/pdfmask/writer"
	"github.com/wudi/pdfmask/xref"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	SetVersion(v string) PDFBuilder
	SetTitle(title string) PDFBuilder
	SetCompression(on bool) PDFBuilder
	SetEncryption(ownerPassword, userPassword string, revision int) PDFBuilder
	Build() ([]byte, error)
}

// PageBuilder provides a fluent API for page construction. Coordinates
// are PDF user space, origin bottom-left.
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder
	DrawImage(img *Image, x, y, width, height float64) PageBuilder
	SetCropBox(box coords.Rect) PageBuilder
	SetRotation(degrees int) PageBuilder
	Finish() PDFBuilder
}

// TextOptions configures text drawing.
type TextOptions struct {
	// Font is a standard 14 base font name; Helvetica when empty.
	Font        string
	FontSize    float64
	Color       Color
	CharSpacing float64
	WordSpacing float64
}

// PathOptions configures path drawing.
type PathOptions struct {
	StrokeColor Color
	FillColor   Color
	LineWidth   float64
	Fill        bool
	Stroke      bool
}

// RectOptions configures rectangle drawing (defaults to stroke if neither fill nor stroke is set).
type RectOptions = PathOptions

type LineOptions struct {
	StrokeColor Color
	LineWidth   float64
}

// Color represents an RGB color.
type Color struct {
	R, G, B float64
}

type pageImpl struct {
	b        *builderImpl
	width    float64
	height   float64
	crop     *coords.Rect
	rotate   int
	ops      []contentstream.Operation
	fonts    map[string]string
	xobjects map[string]*Image
	order    []string
}

type builderImpl struct {
	pages      []*pageImpl
	version    string
	title      string
	compress   bool
	encrypted  bool
	owner      string
	user       string
	revision   int
	imageCount int
}

func New() PDFBuilder {
	return &builderImpl{version: "1.7", compress: true}
}

func (b *builderImpl) NewPage(width, height float64) PageBuilder {
	p := &pageImpl{b: b, width: width, height: height, fonts: map[string]string{}, xobjects: map[string]*Image{}}
	b.pages = append(b.pages, p)
	return p
}

func (b *builderImpl) SetVersion(v string) PDFBuilder { b.version = v; return b }

func (b *builderImpl) SetTitle(title string) PDFBuilder { b.title = title; return b }

func (b *builderImpl) SetCompression(on bool) PDFBuilder { b.compress = on; return b }

func (b *builderImpl) SetEncryption(ownerPassword, userPassword string, revision int) PDFBuilder {
	b.encrypted = true
	b.owner, b.user, b.revision = ownerPassword, userPassword, revision
	return b
}

func (p *pageImpl) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	base := opts.Font
	if base == "" {
		base = "Helvetica"
	}
	size := opts.FontSize
	if size == 0 {
		size = 12
	}
	name, ok := p.fonts[base]
	if !ok {
		name = fmt.Sprintf("F%d", len(p.fonts)+1)
		p.fonts[base] = name
	}
	p.ops = append(p.ops,
		contentstream.Op("BT"),
		contentstream.Op("rg", num(opts.Color.R), num(opts.Color.G), num(opts.Color.B)),
		contentstream.Op("Tf", raw.NameLiteral(name), num(size)),
	)
	if opts.CharSpacing != 0 {
		p.ops = append(p.ops, contentstream.Op("Tc", num(opts.CharSpacing)))
	}
	if opts.WordSpacing != 0 {
		p.ops = append(p.ops, contentstream.Op("Tw", num(opts.WordSpacing)))
	}
	p.ops = append(p.ops,
		contentstream.Op("Td", num(x), num(y)),
		contentstream.Op("Tj", raw.Str([]byte(text))),
		contentstream.Op("ET"),
	)
	return p
}

func (p *pageImpl) DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder {
	if !opts.Fill && !opts.Stroke {
		opts.Stroke = true
	}
	p.ops = append(p.ops, contentstream.Op("q"))
	p.ops = append(p.ops, pathState(opts)...)
	p.ops = append(p.ops, contentstream.Op("re", num(x), num(y), num(width), num(height)))
	p.ops = append(p.ops, contentstream.Op(paintOp(opts)), contentstream.Op("Q"))
	return p
}

func (p *pageImpl) DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder {
	p.ops = append(p.ops, contentstream.Op("q"))
	p.ops = append(p.ops, pathState(PathOptions{StrokeColor: opts.StrokeColor, LineWidth: opts.LineWidth, Stroke: true})...)
	p.ops = append(p.ops,
		contentstream.Op("m", num(x1), num(y1)),
		contentstream.Op("l", num(x2), num(y2)),
		contentstream.Op("S"),
		contentstream.Op("Q"),
	)
	return p
}

func (p *pageImpl) DrawImage(img *Image, x, y, width, height float64) PageBuilder {
	p.b.imageCount++
	name := fmt.Sprintf("Im%d", p.b.imageCount)
	p.xobjects[name] = img
	p.order = append(p.order, name)
	p.ops = append(p.ops,
		contentstream.Op("q"),
		contentstream.Op("cm", num(width), num(0), num(0), num(height), num(x), num(y)),
		contentstream.Op("Do", raw.NameLiteral(name)),
		contentstream.Op("Q"),
	)
	return p
}

func (p *pageImpl) SetCropBox(box coords.Rect) PageBuilder {
	box = box.Normalize()
	p.crop = &box
	return p
}

func (p *pageImpl) SetRotation(degrees int) PageBuilder {
	p.rotate = degrees
	return p
}

func (p *pageImpl) Finish() PDFBuilder { return p.b }

func pathState(opts PathOptions) []contentstream.Operation {
	var ops []contentstream.Operation
	if opts.Fill {
		ops = append(ops, contentstream.Op("rg", num(opts.FillColor.R), num(opts.FillColor.G), num(opts.FillColor.B)))
	}
	if opts.Stroke {
		ops = append(ops, contentstream.Op("RG", num(opts.StrokeColor.R), num(opts.StrokeColor.G), num(opts.StrokeColor.B)))
		if opts.LineWidth > 0 {
			ops = append(ops, contentstream.Op("w", num(opts.LineWidth)))
		}
	}
	return ops
}

func paintOp(opts PathOptions) string {
	switch {
	case opts.Fill && opts.Stroke:
		return "B"
	case opts.Fill:
		return "f"
	}
	return "S"
}

func num(v float64) raw.Object {
	if v == float64(int64(v)) {
		return raw.NumberInt(int64(v))
	}
	return raw.NumberFloat(v)
}

// Build lays out catalog, page tree, pages, their content, fonts and
// images, in that order, and serializes them with a classic xref table.
func (b *builderImpl) Build() ([]byte, error) {
	if len(b.pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	var objects []raw.Object
	add := func(o raw.Object) raw.RefObj {
		objects = append(objects, o)
		return raw.Ref(len(objects), 0)
	}
	catalog := raw.Dict()
	catalog.Set("Type", raw.NameLiteral("Catalog"))
	catalogRef := add(catalog)
	pages := raw.Dict()
	pages.Set("Type", raw.NameLiteral("Pages"))
	pagesRef := add(pages)
	catalog.Set("Pages", pagesRef)

	fontRefs := map[string]raw.RefObj{}
	kids := raw.NewArray()
	for _, p := range b.pages {
		page := raw.Dict()
		page.Set("Type", raw.NameLiteral("Page"))
		page.Set("Parent", pagesRef)
		page.Set("MediaBox", rectArray(coords.Rect{X1: p.width, Y1: p.height}))
		if p.crop != nil {
			page.Set("CropBox", rectArray(*p.crop))
		}
		if p.rotate != 0 {
			page.Set("Rotate", raw.NumberInt(int64(p.rotate)))
		}
		kids.Append(add(page))

		content, err := b.stream(raw.Dict(), contentstream.Serialize(p.ops))
		if err != nil {
			return nil, err
		}
		page.Set("Contents", add(content))

		res := raw.Dict()
		if len(p.fonts) > 0 {
			fonts := raw.Dict()
			for base, name := range p.fonts {
				ref, ok := fontRefs[base]
				if !ok {
					ref = add(standardFont(base))
					fontRefs[base] = ref
				}
				fonts.Set(name, ref)
			}
			res.Set("Font", fonts)
		}
		if len(p.order) > 0 {
			xobjects := raw.Dict()
			for _, name := range p.order {
				img, err := b.imageObject(p.xobjects[name], add)
				if err != nil {
					return nil, err
				}
				xobjects.Set(name, add(img))
			}
			res.Set("XObject", xobjects)
		}
		page.Set("Resources", res)
	}
	pages.Set("Kids", kids)
	pages.Set("Count", raw.NumberInt(int64(len(b.pages))))

	trailer := raw.Dict()
	trailer.Set("Root", catalogRef)
	if b.title != "" {
		info := raw.Dict()
		info.Set("Title", raw.Str([]byte(b.title)))
		trailer.Set("Info", add(info))
	}
	id := uuid.New()
	fileID := id[:]
	trailer.Set("ID", raw.NewArray(raw.HexStr(fileID), raw.HexStr(fileID)))

	h := security.NoopHandler()
	encNum := 0
	if b.encrypted {
		enc, handler, err := security.NewStandard(security.StandardConfig{
			UserPassword:  b.user,
			OwnerPassword: b.owner,
			Revision:      b.revision,
			Permissions:   security.Permissions{Print: true, Copy: true},
			FileID:        fileID,
		})
		if err != nil {
			return nil, fmt.Errorf("encryption: %w", err)
		}
		h = handler
		encRef := add(enc)
		encNum = encRef.R.Num
		trailer.Set("Encrypt", encRef)
	}
	return b.serialize(objects, trailer, h, encNum)
}

func (b *builderImpl) serialize(objects []raw.Object, trailer *raw.DictObj, h security.Handler, encNum int) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", b.version)
	offsets := make([]int64, len(objects)+1)
	for i, obj := range objects {
		ref := raw.ObjectRef{Num: i + 1}
		if h.IsEncrypted() && ref.Num != encNum {
			var err error
			if obj, err = writer.EncryptObject(obj, ref, h); err != nil {
				return nil, err
			}
		}
		offsets[ref.Num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", ref.Num)
		raw.WriteObject(&buf, obj)
		buf.WriteString("\nendobj\n")
	}
	start := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString(xref.FormatEntry(0, 65535, false))
	for _, off := range offsets[1:] {
		buf.WriteString(xref.FormatEntry(off, 0, true))
	}
	trailer.Set("Size", raw.NumberInt(int64(len(objects)+1)))
	buf.WriteString("trailer\n")
	raw.WriteObject(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", start)
	return buf.Bytes(), nil
}

func (b *builderImpl) stream(dict *raw.DictObj, data []byte) (*raw.StreamObj, error) {
	if !b.compress {
		return raw.NewStream(dict, data), nil
	}
	enc, err := filters.FlateEncode(data)
	if err != nil {
		return nil, fmt.Errorf("compress stream: %w", err)
	}
	dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	return raw.NewStream(dict, enc), nil
}

func standardFont(base string) *raw.DictObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("Font"))
	d.Set("Subtype", raw.NameLiteral("Type1"))
	d.Set("BaseFont", raw.NameLiteral(base))
	d.Set("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	return d
}

func rectArray(r coords.Rect) *raw.ArrayObj {
	arr := raw.NewArray()
	for _, v := range r.Array() {
		arr.Append(num(v))
	}
	return arr
}
