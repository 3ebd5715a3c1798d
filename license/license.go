// Package license keeps the activation marker of the tool. Verification
// sits behind Verifier; LocalVerifier is an offline stand-in with a fixed
// allowlist and is not a security boundary.
package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/wudi/pdfmask/observability"
)

var (
	ErrEmptySerial    = errors.New("serial number is empty")
	ErrSerialFormat   = errors.New("serial number must look like XXXX-XXXX-XXXX-XXXX")
	ErrUnknownSerial  = errors.New("serial number is not valid")
	ErrNotImplemented = errors.New("verifier not configured")
)

// Verifier checks a normalized serial with whoever issues them.
type Verifier interface {
	Verify(ctx context.Context, serial string) error
}

// LocalVerifier accepts the serials it holds.
type LocalVerifier struct {
	Serials []string
}

// DefaultVerifier returns the offline verifier with the demo serials.
func DefaultVerifier() LocalVerifier {
	return LocalVerifier{Serials: []string{"TEST-1234-5678-ABCD", "DEMO-0000-0000-0001"}}
}

func (v LocalVerifier) Verify(ctx context.Context, serial string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !slices.Contains(v.Serials, serial) {
		return ErrUnknownSerial
	}
	return nil
}

// Marker is the content of the license file.
type Marker struct {
	Activated   bool   `json:"activated"`
	Serial      string `json:"serial"`
	SerialHash  string `json:"serial_hash"`
	ActivatedAt string `json:"activated_at"`
}

type Manager struct {
	// Path is the marker file, usually <data_dir>/.license.
	Path     string
	Verifier Verifier
	Now      func() time.Time
	Logger   observability.Logger
}

// IsLicensed reports whether a readable marker says activated. Any read
// or decode failure counts as not licensed.
func (m *Manager) IsLicensed() bool {
	mk, err := m.Marker()
	return err == nil && mk != nil && mk.Activated
}

// Marker reads the marker file; nil when there is none.
func (m *Manager) Marker() (*Marker, error) {
	data, err := os.ReadFile(m.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license: %w", err)
	}
	var mk Marker
	if err := json.Unmarshal(data, &mk); err != nil {
		return nil, fmt.Errorf("decode license: %w", err)
	}
	return &mk, nil
}

// ValidateFormat returns the normalized serial: trimmed, upper case, four
// groups of four characters.
func ValidateFormat(serial string) (string, error) {
	serial = strings.ToUpper(strings.TrimSpace(serial))
	if serial == "" {
		return "", ErrEmptySerial
	}
	parts := strings.Split(serial, "-")
	if len(parts) != 4 {
		return "", ErrSerialFormat
	}
	for _, p := range parts {
		if len(p) != 4 {
			return "", ErrSerialFormat
		}
	}
	return serial, nil
}

// Activate validates serial, asks the verifier and writes the marker.
func (m *Manager) Activate(ctx context.Context, serial string) error {
	serial, err := ValidateFormat(serial)
	if err != nil {
		return err
	}
	if m.Verifier == nil {
		return ErrNotImplemented
	}
	if err := m.Verifier.Verify(ctx, serial); err != nil {
		return fmt.Errorf("verify serial: %w", err)
	}
	sum := sha256.Sum256([]byte(serial))
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	mk := Marker{
		Activated:   true,
		Serial:      serial,
		SerialHash:  hex.EncodeToString(sum[:]),
		ActivatedAt: now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(mk, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(m.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save license: %w", err)
		}
	}
	if err := os.WriteFile(m.Path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("save license: %w", err)
	}
	observability.OrNop(m.Logger).Info("license activated", observability.String("serial", serial))
	return nil
}

// Deactivate removes the marker. A missing marker is not an error.
func (m *Manager) Deactivate() error {
	if err := os.Remove(m.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove license: %w", err)
	}
	return nil
}
