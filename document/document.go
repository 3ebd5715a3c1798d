// Package document is the open-PDF handle the redaction workflow works on:
// page geometry, redaction annotations, content rewriting and saving.
// Edits are kept in memory as replacement objects until Save.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/parser"
	"github.com/wudi/pdfmask/recovery"
	"github.com/wudi/pdfmask/security"
)

// ErrInvalidPassword is returned by Open when the document is encrypted
// and the password opens it neither as user nor as owner.
var ErrInvalidPassword = security.ErrInvalidPassword

// ErrClosed is returned by operations on a closed or invalidated document.
var ErrClosed = errors.New("document is closed")

type Options struct {
	Password string
	Logger   observability.Logger
	// Recovery handles a damaged cross-reference table. Defaults to
	// repairing by scanning the file.
	Recovery recovery.Strategy
	LineArt  editor.LineArt
	Limits   security.Limits
}

// Document is one opened PDF file.
type Document struct {
	path string
	opts Options
	log  observability.Logger

	res     *parser.Result
	objects map[raw.ObjectRef]raw.Object
	added   map[raw.ObjectRef]bool
	next    int
	pages   []*page
	valid   bool
}

// Open reads and parses the file at path.
func Open(ctx context.Context, path string, opts Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	d, err := OpenBytes(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	d.path = path
	return d, nil
}

// OpenBytes parses an in-memory file. Save needs an explicit path.
func OpenBytes(ctx context.Context, data []byte, opts Options) (*Document, error) {
	opts.Logger = observability.OrNop(opts.Logger)
	if opts.Recovery == nil {
		opts.Recovery = recovery.Lenient{Logger: opts.Logger}
	}
	d := &Document{opts: opts, log: opts.Logger}
	if err := d.load(ctx, data); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) load(ctx context.Context, data []byte) error {
	res, err := parser.NewDocumentParser(parser.Config{
		Recovery: d.opts.Recovery,
		Limits:   d.opts.Limits,
		Password: d.opts.Password,
	}).Parse(ctx, data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	d.res = res
	d.objects = make(map[raw.ObjectRef]raw.Object)
	d.added = make(map[raw.ObjectRef]bool)
	d.next = res.Table.Size()
	// The page walk resolves through d, which refuses while invalid.
	d.valid = true
	if err := d.loadPages(ctx); err != nil {
		d.valid = false
		return err
	}
	if res.Table.Repaired() {
		d.log.Warn("cross-reference table was rebuilt", observability.Int("objects", len(res.Table.Objects())))
	}
	return nil
}

func (d *Document) Path() string { return d.path }

// Valid reports whether the handle can still be used. It turns false on
// Close, and when a saved file cannot be read back.
func (d *Document) Valid() bool { return d != nil && d.valid }

func (d *Document) Close() error {
	if d == nil {
		return nil
	}
	d.valid = false
	d.res = nil
	d.objects = nil
	d.pages = nil
	return nil
}

func (d *Document) PageCount() int {
	if !d.Valid() {
		return 0
	}
	return len(d.pages)
}

// Encrypted reports whether the file uses the standard security handler.
func (d *Document) Encrypted() bool {
	return d.Valid() && d.res.Security != nil && d.res.Security.IsEncrypted()
}

// Modified reports unsaved edits.
func (d *Document) Modified() bool { return len(d.objects) > 0 }

// Resolve returns the current version of an object, edits included.
func (d *Document) Resolve(ref raw.ObjectRef) (raw.Object, error) {
	if !d.Valid() {
		return nil, ErrClosed
	}
	if obj, ok := d.objects[ref]; ok {
		return obj, nil
	}
	return d.res.Loader.Resolve(ref)
}

// Add stores a new object under a fresh number.
func (d *Document) Add(obj raw.Object) raw.ObjectRef {
	ref := raw.ObjectRef{Num: d.next}
	d.next++
	d.objects[ref] = obj
	d.added[ref] = true
	return ref
}

func (d *Document) set(ref raw.ObjectRef, obj raw.Object) {
	d.objects[ref] = obj
}

func (d *Document) remove(ref raw.ObjectRef) {
	if d.added[ref] {
		delete(d.objects, ref)
		delete(d.added, ref)
	}
}

func (d *Document) deref(o raw.Object) raw.Object {
	out, err := raw.Deref(d, o)
	if err != nil {
		return nil
	}
	return out
}
