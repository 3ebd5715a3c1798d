package document

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wudi/pdfmask/contentstream"
	"github.com/wudi/pdfmask/filters"
	"github.com/wudi/pdfmask/ir/raw"
)

// Content is the decoded content of a page.
type Content struct {
	Ops       []contentstream.Operation
	Resources *raw.DictObj
	Info      PageInfo
}

// PageContent decodes and parses the content streams of a page, joined in
// order as one stream.
func (d *Document) PageContent(ctx context.Context, index int) (*Content, error) {
	p, err := d.page(index)
	if err != nil {
		return nil, err
	}
	info, err := d.Page(index)
	if err != nil {
		return nil, err
	}
	data, err := d.contentBytes(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", index, err)
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("page %d: parse content: %w", index, err)
	}
	res, _ := raw.AsDict(d.deref(p.resources))
	return &Content{Ops: ops, Resources: res, Info: info}, nil
}

func (d *Document) contentBytes(ctx context.Context, p *page) ([]byte, error) {
	var streams []raw.Object
	switch v := d.deref(p.dict.KV["Contents"]).(type) {
	case *raw.StreamObj:
		streams = append(streams, v)
	case *raw.ArrayObj:
		for _, item := range v.Items {
			streams = append(streams, d.deref(item))
		}
	}
	var buf bytes.Buffer
	pipeline := filters.Default(filters.Limits{MaxDecompressedSize: d.opts.Limits.MaxDecompressedSize})
	for i, obj := range streams {
		stm, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		names, params := filters.ExtractFilters(stm.Dict)
		data, _, err := pipeline.Decode(ctx, stm.Data, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode content stream %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// Resolver resolves objects for content tracing; it sees unsaved edits.
func (d *Document) Resolver() raw.Resolver { return d }
