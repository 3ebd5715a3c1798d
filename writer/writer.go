// Package writer saves an edited document: either as an incremental update
// appended to the original bytes, or as a complete rewrite.
package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfmask/ir/raw"
	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/security"
	"github.com/wudi/pdfmask/xref"
)

type Mode int

const (
	// ModeIncremental appends changed objects, a new xref section and a
	// trailer pointing back at the previous one. The original bytes are
	// kept as they are.
	ModeIncremental Mode = iota
	// ModeFull writes every live object once, dropping earlier revisions.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "incremental":
		return ModeIncremental, nil
	case "full":
		return ModeFull, nil
	}
	return 0, fmt.Errorf("unknown save mode %q", s)
}

// ErrIncrementalUnavailable is returned when the file has no usable xref
// chain to append to, for example after the table had to be rebuilt by
// scanning.
var ErrIncrementalUnavailable = errors.New("incremental update not possible")

type Config struct {
	Mode Mode
	// KeepEncryption re-encrypts a full rewrite with the original security
	// handler. An incremental update always keeps the original encryption,
	// since it shares the /Encrypt dictionary with the earlier sections.
	KeepEncryption bool
}

// Loader provides the plaintext objects of the original file.
type Loader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

// Update is an edited document: the original file plus the objects that
// replace or extend it. Objects hold plaintext.
type Update struct {
	Base     []byte
	Table    *xref.Table
	Loader   Loader
	Security security.Handler
	Version  string
	Objects  map[raw.ObjectRef]raw.Object
}

type Writer interface {
	Write(ctx context.Context, u *Update, out Sink, cfg Config) error
}

type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, bytesWritten int64) error
}

type WriterBuilder struct {
	interceptors []Interceptor
	logger       observability.Logger
}

func (b *WriterBuilder) WithInterceptor(i Interceptor) *WriterBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}

func (b *WriterBuilder) WithLogger(l observability.Logger) *WriterBuilder {
	b.logger = l
	return b
}

func (b *WriterBuilder) Build() Writer {
	return &impl{interceptors: b.interceptors, log: observability.OrNop(b.logger)}
}

type Sink interface {
	Write(p []byte) (n int, err error)
}
