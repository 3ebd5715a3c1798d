package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/writer"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdfmask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ZoomConfig{Min: 0.5, Max: 2.0, Step: 0.1}, cfg.Zoom)
	mode, _ := cfg.SaveMode()
	assert.Equal(t, writer.ModeIncremental, mode)
	la, _ := cfg.LineArt()
	assert.Equal(t, editor.LineArtTouched, la)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestPrecedence(t *testing.T) {
	path := writeFile(t, `
data_dir: /srv/pdfmask
log:
  level: debug
zoom:
  max: 3
redaction:
  save_mode: full
  line_art: covered
backup:
  enabled: false
`)
	t.Setenv("PDFMASK_LOG_LEVEL", "warn")
	t.Setenv("PDFMASK_ZOOM_STEP", "0.25")
	t.Setenv("PDFMASK_BACKUP", "not-a-bool")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/pdfmask", cfg.DataDir)
	assert.Equal(t, "warn", cfg.Log.Level, "environment wins over file")
	assert.Equal(t, "console", cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, ZoomConfig{Min: 0.5, Max: 3, Step: 0.25}, cfg.Zoom)
	assert.False(t, cfg.Backup.Enabled, "unparsable env keeps the file value")

	mode, err := cfg.SaveMode()
	require.NoError(t, err)
	assert.Equal(t, writer.ModeFull, mode)
	la, err := cfg.LineArt()
	require.NoError(t, err)
	assert.Equal(t, editor.LineArtCovered, la)

	assert.Equal(t, filepath.Join("/srv/pdfmask", "masks_data"), cfg.MasksDir())
	assert.Equal(t, filepath.Join("/srv/pdfmask", "progress.json"), cfg.ProgressPath())
	assert.Equal(t, filepath.Join("/srv/pdfmask", ".license"), cfg.LicensePath())
	assert.Equal(t, filepath.Join("/srv/pdfmask", "logs"), cfg.LogDir())
	assert.Equal(t, filepath.Join("/srv/pdfmask", "backup"), cfg.BackupDir())
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]string{
		"save mode":  "redaction:\n  save_mode: sometimes\n",
		"line art":   "redaction:\n  line_art: all\n",
		"zoom":       "zoom:\n  min: 2\n  max: 1\n",
		"base scale": "render:\n  base_scale: 0\n",
		"modifier":   "gesture:\n  modifier: hyper\n",
		"yaml":       "zoom: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, content))
			assert.Error(t, err)
		})
	}
}
