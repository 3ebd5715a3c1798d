// Package backup keeps a copy of each file before it is first redacted on
// a given day.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type Backuper struct {
	// Dir is the backup root; copies go to Dir/YYYYMMDD/<name>.
	Dir string
	Now func() time.Time
}

func (b *Backuper) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Path is where pdfPath is copied today.
func (b *Backuper) Path(pdfPath string) string {
	return filepath.Join(b.Dir, b.now().Format("20060102"), filepath.Base(pdfPath))
}

// Backup copies pdfPath unless today's copy exists already, in which case
// existed is true and the earlier copy is left alone. The copy keeps the
// modification time of the source.
func (b *Backuper) Backup(pdfPath string) (dest string, existed bool, err error) {
	if pdfPath == "" {
		return "", false, errors.New("backup: no file")
	}
	dest = b.Path(pdfPath)
	if _, err := os.Stat(dest); err == nil {
		return dest, true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", false, fmt.Errorf("backup: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", false, fmt.Errorf("backup: %w", err)
	}
	if err := copyFile(pdfPath, dest); err != nil {
		return "", false, fmt.Errorf("backup %s: %w", filepath.Base(pdfPath), err)
	}
	return dest, false, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".backup-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	if err = os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
