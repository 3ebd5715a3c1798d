package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupCopiesOncePerDay(t *testing.T) {
	src := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7 original"), 0o644))
	mtime := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	b := &Backuper{Dir: filepath.Join(t.TempDir(), "backup"), Now: func() time.Time { return day }}

	dest, existed, err := b.Backup(src)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, filepath.Join(b.Dir, "20260314", "report.pdf"), dest)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 original", string(got))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))

	// A later save on the same day must not replace the pristine copy.
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7 redacted"), 0o644))
	dest2, existed, err := b.Backup(src)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, dest, dest2)
	got, _ = os.ReadFile(dest)
	assert.Equal(t, "%PDF-1.7 original", string(got))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestBackupNextDayMakesNewCopy(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	day := time.Date(2026, 3, 14, 23, 0, 0, 0, time.Local)
	b := &Backuper{Dir: t.TempDir(), Now: func() time.Time { return day }}

	first, _, err := b.Backup(src)
	require.NoError(t, err)
	day = day.Add(2 * time.Hour)
	second, existed, err := b.Backup(src)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEqual(t, first, second)
}

func TestBackupMissingSource(t *testing.T) {
	b := &Backuper{Dir: t.TempDir()}
	_, _, err := b.Backup(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
	_, _, err = b.Backup("")
	assert.Error(t, err)
}
