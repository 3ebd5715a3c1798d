package document

import (
	"context"
	"fmt"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/observability"
)

// AddRedactAnnot marks rect for redaction on the page at index. rect is in
// displayed top-left page space, the space PageInfo.Width and Height
// describe. The area is filled white when applied.
func (d *Document) AddRedactAnnot(index int, rect coords.Rect) (raw.ObjectRef, error) {
	p, err := d.page(index)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	info, err := d.Page(index)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	user := info.FromPage().TransformRect(rect.Normalize())

	annot := raw.Dict()
	annot.Set("Type", raw.NameLiteral("Annot"))
	annot.Set("Subtype", raw.NameLiteral("Redact"))
	annot.Set("Rect", floats(user.Array()))
	annot.Set("IC", floats([]float64{1, 1, 1}))
	annot.Set("P", raw.RefObj{R: p.ref})
	ref := d.Add(annot)

	pg := d.editablePage(p)
	annots := raw.NewArray()
	if orig, ok := raw.AsArray(d.deref(pg.KV["Annots"])); ok {
		annots.Items = append(annots.Items, orig.Items...)
	}
	annots.Append(raw.RefObj{R: ref})
	pg.Set("Annots", annots)
	return ref, nil
}

// ApplyRedactions removes the content under every redaction annotation of
// the page, paints the areas white and drops the annotations. A page
// without redaction annotations is left alone.
func (d *Document) ApplyRedactions(ctx context.Context, index int) (editor.Stats, error) {
	p, err := d.page(index)
	if err != nil {
		return editor.Stats{}, err
	}
	var rects []coords.Rect
	var applied []raw.ObjectRef
	keep := raw.NewArray()
	annots, _ := raw.AsArray(d.deref(p.dict.KV["Annots"]))
	if annots != nil {
		for _, item := range annots.Items {
			a, _ := raw.AsDict(d.deref(item))
			subtype, _ := a.Get("Subtype")
			sub, _ := raw.AsName(subtype)
			if sub != "Redact" {
				keep.Append(item)
				continue
			}
			rect, _ := a.Get("Rect")
			if v, ok := raw.Floats(d.deref(rect)); ok {
				if r, ok := coords.RectFromArray(v); ok {
					rects = append(rects, r.Normalize())
				}
			}
			if ref, ok := item.(raw.RefObj); ok {
				applied = append(applied, ref.R)
			}
		}
	}
	if len(rects) == 0 {
		return editor.Stats{}, nil
	}

	content, err := d.PageContent(ctx, index)
	if err != nil {
		return editor.Stats{}, err
	}
	ed := editor.NewEditor(d, editor.Options{LineArt: d.opts.LineArt, Logger: d.log})
	result, err := ed.Redact(ctx, content.Ops, content.Resources, rects)
	if err != nil {
		return editor.Stats{}, fmt.Errorf("page %d: %w", index, err)
	}
	data, err := filters.FlateEncode(contentstream.Serialize(result.Ops))
	if err != nil {
		return editor.Stats{}, fmt.Errorf("page %d: compress content: %w", index, err)
	}
	stmDict := raw.Dict()
	stmDict.Set("Filter", raw.NameLiteral("FlateDecode"))
	contentRef := d.Add(raw.NewStream(stmDict, data))

	pg := d.editablePage(p)
	pg.Set("Contents", raw.RefObj{R: contentRef})
	if result.Resources != nil && result.Resources != content.Resources {
		pg.Set("Resources", result.Resources)
		p.resources = result.Resources
	}
	if keep.Len() == 0 {
		pg.Delete("Annots")
	} else {
		pg.Set("Annots", keep)
	}
	for _, ref := range applied {
		d.remove(ref)
	}
	d.log.Debug("redactions applied",
		observability.Int("page", index),
		observability.Int("areas", len(rects)),
		observability.Int("glyphs", result.Stats.Glyphs),
		observability.Int("paths", result.Stats.Paths),
		observability.Int("images_whitened", result.Stats.ImagesWhitened),
		observability.Int("images_removed", result.Stats.ImagesRemoved),
		observability.Int("forms", result.Stats.Forms))
	return result.Stats, nil
}

// editablePage returns the page dictionary as an edited object, cloning it
// on first use; loaded objects are shared with the loader's cache.
func (d *Document) editablePage(p *page) *raw.DictObj {
	if _, ok := d.objects[p.ref]; !ok {
		p.dict = raw.Clone(p.dict).(*raw.DictObj)
		d.set(p.ref, p.dict)
	}
	return p.dict
}

func floats(v []float64) *raw.ArrayObj {
	arr := raw.NewArray()
	for _, f := range v {
		if f == float64(int64(f)) {
			arr.Append(raw.NumberInt(int64(f)))
		} else {
			arr.Append(raw.NumberFloat(f))
		}
	}
	return arr
}
