// Package config loads settings from defaults, an optional YAML file and
// PDFMASK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wudi/pdfmask/contentstream/editor"
	"github.com/wudi/pdfmask/writer"
)

type Config struct {
	// DataDir holds archives, progress, license, logs and backups.
	DataDir string `yaml:"data_dir"`

	Log       LogConfig       `yaml:"log"`
	Render    RenderConfig    `yaml:"render"`
	Zoom      ZoomConfig      `yaml:"zoom"`
	Redaction RedactionConfig `yaml:"redaction"`
	Backup    BackupConfig    `yaml:"backup"`
	Gesture   GestureConfig   `yaml:"gesture"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	ToFile bool   `yaml:"to_file"`
}

type RenderConfig struct {
	BaseScale float64 `yaml:"base_scale"`
}

// ZoomConfig bounds the zoom multiplier.
type ZoomConfig struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

type RedactionConfig struct {
	SaveMode string `yaml:"save_mode"`
	LineArt  string `yaml:"line_art"`
}

type BackupConfig struct {
	Enabled bool `yaml:"enabled"`
}

type GestureConfig struct {
	Modifier string `yaml:"modifier"`
}

func Default() *Config {
	return &Config{
		DataDir:   ".",
		Log:       LogConfig{Level: "info", Format: "console", ToFile: true},
		Render:    RenderConfig{BaseScale: 1.5},
		Zoom:      ZoomConfig{Min: 0.5, Max: 2.0, Step: 0.1},
		Redaction: RedactionConfig{SaveMode: "incremental", LineArt: "touched"},
		Backup:    BackupConfig{Enabled: true},
		Gesture:   GestureConfig{Modifier: "ctrl"},
	}
}

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.DataDir = envOr("PDFMASK_DATA_DIR", cfg.DataDir)
	cfg.Log.Level = envOr("PDFMASK_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("PDFMASK_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.ToFile = envBool("PDFMASK_LOG_TO_FILE", cfg.Log.ToFile)
	cfg.Render.BaseScale = envFloat("PDFMASK_RENDER_BASE_SCALE", cfg.Render.BaseScale)
	cfg.Zoom.Min = envFloat("PDFMASK_ZOOM_MIN", cfg.Zoom.Min)
	cfg.Zoom.Max = envFloat("PDFMASK_ZOOM_MAX", cfg.Zoom.Max)
	cfg.Zoom.Step = envFloat("PDFMASK_ZOOM_STEP", cfg.Zoom.Step)
	cfg.Redaction.SaveMode = envOr("PDFMASK_SAVE_MODE", cfg.Redaction.SaveMode)
	cfg.Redaction.LineArt = envOr("PDFMASK_LINE_ART", cfg.Redaction.LineArt)
	cfg.Backup.Enabled = envBool("PDFMASK_BACKUP", cfg.Backup.Enabled)
	cfg.Gesture.Modifier = envOr("PDFMASK_MODIFIER", cfg.Gesture.Modifier)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Render.BaseScale <= 0 {
		return fmt.Errorf("render.base_scale must be positive, got %v", c.Render.BaseScale)
	}
	if c.Zoom.Min <= 0 || c.Zoom.Max < c.Zoom.Min || c.Zoom.Step <= 0 {
		return fmt.Errorf("zoom bounds %v..%v step %v are invalid", c.Zoom.Min, c.Zoom.Max, c.Zoom.Step)
	}
	if _, err := c.SaveMode(); err != nil {
		return err
	}
	if _, err := c.LineArt(); err != nil {
		return err
	}
	switch strings.ToLower(c.Gesture.Modifier) {
	case "ctrl", "shift", "alt", "meta":
	default:
		return fmt.Errorf("gesture.modifier %q is not one of ctrl, shift, alt, meta", c.Gesture.Modifier)
	}
	return nil
}

func (c *Config) SaveMode() (writer.Mode, error) { return writer.ParseMode(c.Redaction.SaveMode) }

func (c *Config) LineArt() (editor.LineArt, error) { return editor.ParseLineArt(c.Redaction.LineArt) }

func (c *Config) MasksDir() string     { return filepath.Join(c.DataDir, "masks_data") }
func (c *Config) ProgressPath() string { return filepath.Join(c.DataDir, "progress.json") }
func (c *Config) LicensePath() string  { return filepath.Join(c.DataDir, ".license") }
func (c *Config) LogDir() string       { return filepath.Join(c.DataDir, "logs") }
func (c *Config) BackupDir() string    { return filepath.Join(c.DataDir, "backup") }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
