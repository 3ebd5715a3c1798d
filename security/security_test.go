package security

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wudi/pdfmask/ir/raw"
)

func TestStandardRoundTrip(t *testing.T) {
	for _, rev := range []int{3, 4, 6} {
		enc, h, err := NewStandard(StandardConfig{
			UserPassword:  "user",
			OwnerPassword: "owner",
			Revision:      rev,
			Permissions:   Permissions{Print: true},
			FileID:        []byte("0123456789abcdef"),
		})
		if err != nil {
			t.Fatalf("rev %d: new standard: %v", rev, err)
		}
		plain := []byte("secret data")
		ct, err := h.Encrypt(5, 0, plain, DataClassStream, "")
		if err != nil {
			t.Fatalf("rev %d: encrypt: %v", rev, err)
		}
		if bytes.Equal(ct, plain) {
			t.Fatalf("rev %d: ciphertext equals plaintext", rev)
		}

		for _, pwd := range []string{"user", "owner"} {
			reader, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID([]byte("0123456789abcdef")).Build()
			if err != nil {
				t.Fatalf("rev %d: build: %v", rev, err)
			}
			if err := reader.Authenticate(pwd); err != nil {
				t.Fatalf("rev %d: authenticate %q: %v", rev, pwd, err)
			}
			out, err := reader.Decrypt(5, 0, ct, DataClassStream, "")
			if err != nil {
				t.Fatalf("rev %d: decrypt: %v", rev, err)
			}
			if !bytes.Equal(out, plain) {
				t.Fatalf("rev %d: roundtrip mismatch: got %q", rev, out)
			}
		}

		wrong, _ := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID([]byte("0123456789abcdef")).Build()
		if err := wrong.Authenticate("nope"); !errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("rev %d: expected ErrInvalidPassword, got %v", rev, err)
		}
		if !wrong.Permissions().Print {
			t.Fatalf("rev %d: print permission lost", rev)
		}
	}
}

func TestIdentityCryptFilterPassesThrough(t *testing.T) {
	_, h, err := NewStandard(StandardConfig{Revision: 4, FileID: []byte("id")})
	if err != nil {
		t.Fatalf("new standard: %v", err)
	}
	out, err := h.Decrypt(1, 0, []byte("plain"), DataClassStream, "Identity")
	if err != nil || string(out) != "plain" {
		t.Fatalf("identity filter = %q, %v", out, err)
	}
}

func TestNoopHandler(t *testing.T) {
	h, err := (&HandlerBuilder{}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if h.IsEncrypted() {
		t.Fatalf("handler without dictionary must not be encrypted")
	}
	out, _ := h.Encrypt(1, 0, []byte("x"), DataClassString, "")
	if string(out) != "x" {
		t.Fatalf("noop changed data")
	}
}

func TestUnsupportedFilter(t *testing.T) {
	d := raw.Dict()
	d.Set("Filter", raw.NameLiteral("Adobe.PubSec"))
	if _, err := (&HandlerBuilder{}).WithEncryptDict(d).Build(); err == nil {
		t.Fatalf("expected error for public-key handler")
	}
}
