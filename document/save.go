package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wudi/pdfmask/observability"
	"github.com/wudi/pdfmask/writer"
)

type SaveOptions struct {
	Mode writer.Mode
	// KeepEncryption applies to full rewrites; incremental updates always
	// keep the original encryption.
	KeepEncryption bool
	// Path is the destination; the opened file when empty.
	Path string
}

// Save writes the document and reloads it from the written bytes, so
// further edits and saves build on the saved file. A file whose xref had
// to be rebuilt cannot take an incremental update and is rewritten in
// full instead.
func (d *Document) Save(ctx context.Context, opts SaveOptions) error {
	if !d.Valid() {
		return ErrClosed
	}
	dest := opts.Path
	if dest == "" {
		dest = d.path
	}
	if dest == "" {
		return errors.New("save: no destination path")
	}

	update := &writer.Update{
		Base:     d.res.Data,
		Table:    d.res.Table,
		Loader:   d.res.Loader,
		Security: d.res.Security,
		Version:  d.res.Version,
		Objects:  d.objects,
	}
	w := (&writer.WriterBuilder{}).WithLogger(d.log).Build()
	cfg := writer.Config{Mode: opts.Mode, KeepEncryption: opts.KeepEncryption}
	var buf bytes.Buffer
	err := w.Write(ctx, update, &buf, cfg)
	if errors.Is(err, writer.ErrIncrementalUnavailable) {
		d.log.Warn("incremental save unavailable, rewriting the whole file", observability.String("path", dest))
		cfg.Mode = writer.ModeFull
		cfg.KeepEncryption = true
		buf.Reset()
		err = w.Write(ctx, update, &buf, cfg)
	}
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}
	if err := writeFile(dest, buf.Bytes()); err != nil {
		return err
	}
	d.log.Info("document saved",
		observability.String("path", dest),
		observability.String("mode", cfg.Mode.String()),
		observability.Int("objects", len(d.objects)),
		observability.Int("bytes", buf.Len()))

	if err := d.load(ctx, buf.Bytes()); err != nil {
		d.valid = false
		return fmt.Errorf("reload saved file: %w", err)
	}
	d.path = dest
	return nil
}

// writeFile replaces path through a temporary file in the same directory.
// The rename fails while another program holds the target open on
// platforms that lock files.
func writeFile(path string, data []byte) error {
	perm := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pdfmask-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
