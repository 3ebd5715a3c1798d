// Package parser turns the bytes of a PDF file into an object loader:
// xref resolution, security setup and lazy, cached object access.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/recovery"
	"github.com/wudi/pdfmask/security"
	"github.com/wudi/pdfmask/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Security security.Handler
	Limits   security.Limits
	Cache    Cache
	Password string
}

// Result is a parsed file. Objects are loaded on demand.
type Result struct {
	Data     []byte
	Table    *xref.Table
	Loader   ObjectLoader
	Security security.Handler
	Version  string
}

// Trailer is the newest trailer dictionary.
func (r *Result) Trailer() *raw.DictObj { return r.Table.Trailer() }

// Root resolves the document catalog.
func (r *Result) Root(ctx context.Context) (*raw.DictObj, error) {
	rootObj, _ := r.Trailer().Get("Root")
	ref, ok := rootObj.(raw.RefObj)
	if !ok {
		return nil, fmt.Errorf("trailer /Root is not a reference")
	}
	obj, err := r.Loader.Load(ctx, ref.R)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("catalog %s is not a dictionary", ref.R)
	}
	return d, nil
}

// DocumentParser resolves the xref chain and authenticates against the
// standard security handler when the file is encrypted.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits.MaxIndirectDepth == 0 {
		cfg.Limits = security.DefaultLimits()
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	return &DocumentParser{cfg: cfg}
}

// SetPassword updates the password for decryption when parsing encrypted PDFs.
func (p *DocumentParser) SetPassword(pwd string) {
	p.cfg.Password = pwd
}

func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*Result, error) {
	table, err := xref.Resolve(ctx, data, p.cfg.XRef)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	sec, err := p.selectSecurity(ctx, data, table)
	if err != nil {
		return nil, fmt.Errorf("security setup: %w", err)
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithXRef(table).
		WithSecurity(sec).
		WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		Build()
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Table:    table,
		Loader:   loader,
		Security: sec,
		Version:  detectHeaderVersion(data),
	}, nil
}

func (p *DocumentParser) selectSecurity(ctx context.Context, data []byte, table *xref.Table) (security.Handler, error) {
	if p.cfg.Security != nil {
		return p.cfg.Security, nil
	}
	trailer := table.Trailer()
	encObj, ok := trailer.Get("Encrypt")
	if !ok {
		return security.NoopHandler(), nil
	}
	var encDict *raw.DictObj
	switch v := encObj.(type) {
	case *raw.DictObj:
		encDict = v
	case raw.RefObj:
		loader, err := (&ObjectLoaderBuilder{}).
			WithData(data).
			WithXRef(table).
			WithLimits(p.cfg.Limits).
			WithRecovery(p.cfg.Recovery).
			Build()
		if err != nil {
			return nil, err
		}
		obj, err := loader.Load(ctx, v.R)
		if err == nil {
			encDict, _ = obj.(*raw.DictObj)
		}
	}
	if encDict == nil {
		return security.NoopHandler(), nil
	}
	handler, err := (&security.HandlerBuilder{}).WithEncryptDict(encDict).WithTrailer(trailer).Build()
	if err != nil {
		return nil, err
	}
	if err := handler.Authenticate(p.cfg.Password); err != nil {
		return nil, err
	}
	return handler, nil
}

func detectHeaderVersion(data []byte) string {
	line := data
	if len(line) > 64 {
		line = line[:64]
	}
	if idx := bytes.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	s := string(line)
	if strings.HasPrefix(s, "%PDF-") && len(s) >= 8 {
		return strings.TrimSpace(s[5:])
	}
	return ""
}
