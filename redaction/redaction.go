// Package redaction commits pending masks to a document: one annotation
// per mask, one apply per page, then a save.
package redaction

import (
	"context"
	"fmt"
	"slices"

	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/coords"
	"github.com/wudi/pdfmask/document"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/masks"
	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/writer"
)

// Document is the part of an open file the engine drives.
type Document interface {
	Valid() bool
	Path() string
	PageCount() int
	AddRedactAnnot(index int, rect coords.Rect) (raw.ObjectRef, error)
	ApplyRedactions(ctx context.Context, index int) (editor.Stats, error)
	Save(ctx context.Context, opts document.SaveOptions) error
}

type Options struct {
	SaveMode writer.Mode
	// DropEncryption writes a full rewrite without the original
	// encryption. Incremental saves always keep it.
	DropEncryption bool
	Logger         observability.Logger
}

type Engine struct {
	opts Options
	log  observability.Logger
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts, log: observability.OrNop(opts.Logger)}
}

// PageReport is what one page commit did.
type PageReport struct {
	Page  int
	Masks int
	Stats editor.Stats
}

// Report lists the page commits in the order they ran.
type Report struct {
	Path  string
	Pages []PageReport
	Saved bool
}

// Masks is the number of masks committed.
func (r *Report) Masks() int {
	n := 0
	for _, p := range r.Pages {
		n += p.Masks
	}
	return n
}

// Apply commits entries to doc and saves it. Entries are validated first;
// nothing is changed when one is invalid. An empty list saves nothing.
func (e *Engine) Apply(ctx context.Context, doc Document, entries []masks.Entry) (*Report, error) {
	if doc == nil || !doc.Valid() {
		return nil, ErrNoDocument
	}
	if doc.Path() == "" {
		return nil, fmt.Errorf("%w: no file path", ErrNoDocument)
	}
	report := &Report{Path: doc.Path()}
	if len(entries) == 0 {
		return report, nil
	}
	if err := Validate(doc.PageCount(), entries); err != nil {
		return nil, err
	}

	byPage := make(map[int][]coords.Rect)
	for _, m := range entries {
		byPage[m.PageIndex] = append(byPage[m.PageIndex], m.Rect.Normalize())
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	slices.Sort(pages)

	touched := false
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			if touched {
				return report, &CommitError{Page: page, Err: err, inconsistent: true}
			}
			return nil, err
		}
		stats, err := e.commitPage(ctx, doc, page, byPage[page])
		touched = true
		if err != nil {
			e.log.Error("page commit failed", observability.Int("page", page), observability.Error(err))
			return report, &CommitError{Page: page, Err: err, inconsistent: true}
		}
		report.Pages = append(report.Pages, PageReport{Page: page, Masks: len(byPage[page]), Stats: stats})
	}

	if err := e.save(ctx, doc); err != nil {
		return report, err
	}
	report.Saved = true
	e.log.Info("redactions committed",
		observability.String("path", report.Path),
		observability.Int("pages", len(report.Pages)),
		observability.Int("masks", report.Masks()))
	return report, nil
}

// RetrySave saves doc again after a failed save, for example once the
// program locking the file was closed.
func (e *Engine) RetrySave(ctx context.Context, doc Document) error {
	if doc == nil || !doc.Valid() {
		return ErrNoDocument
	}
	return e.save(ctx, doc)
}

// Validate checks that every entry lies on one of pageCount pages and has
// an area.
func Validate(pageCount int, entries []masks.Entry) error {
	for i, m := range entries {
		if m.PageIndex < 0 || m.PageIndex >= pageCount {
			return fmt.Errorf("%w: mask %d is on page %d of a %d page document", ErrInvalidMask, i, m.PageIndex+1, pageCount)
		}
		r := m.Rect.Normalize()
		if r.Width() <= 0 || r.Height() <= 0 {
			return fmt.Errorf("%w: mask %d has no area", ErrInvalidMask, i)
		}
	}
	return nil
}

// commitPage adds the annotations of one page and applies them once. A
// panic from the document layer is returned as an error.
func (e *Engine) commitPage(ctx context.Context, doc Document, page int, rects []coords.Rect) (stats editor.Stats, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	for _, r := range rects {
		if _, err := doc.AddRedactAnnot(page, r); err != nil {
			return editor.Stats{}, fmt.Errorf("add annotation: %w", err)
		}
	}
	return doc.ApplyRedactions(ctx, page)
}

func (e *Engine) save(ctx context.Context, doc Document) (err error) {
	path := doc.Path()
	defer func() {
		if p := recover(); p != nil {
			err = &CommitError{Page: -1, Err: fmt.Errorf("panic: %v", p), inconsistent: true}
		}
	}()
	opts := document.SaveOptions{Mode: e.opts.SaveMode, KeepEncryption: !e.opts.DropEncryption}
	if err := doc.Save(ctx, opts); err != nil {
		classified := classifySave(path, err)
		e.log.Warn("save failed", observability.String("path", path), observability.Error(err))
		return classified
	}
	return nil
}
