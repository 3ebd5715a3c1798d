// Package security implements the PDF Standard security handler: password
// authentication and per-object RC4/AES encryption for reading encrypted
// documents and for writing incremental updates that keep their encryption.
package security

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfmask/ir/raw"
)

// ErrInvalidPassword is returned when neither the user nor the owner
// password matches.
var ErrInvalidPassword = errors.New("invalid password")

type Permissions struct{ Print, Modify, Copy, ModifyAnnotations, FillForms, ExtractAccessible, Assemble, PrintHighQuality bool }

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	// Decrypt and Encrypt take the stream's crypt filter name, or "" to use
	// the document default for the class.
	Decrypt(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
}

type HandlerBuilder struct {
	encryptDict *raw.DictObj
	fileID      []byte
}

func (b *HandlerBuilder) WithEncryptDict(d *raw.DictObj) *HandlerBuilder { b.encryptDict = d; return b }
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder           { b.fileID = id; return b }

// WithTrailer takes the file identifier from the trailer /ID array.
func (b *HandlerBuilder) WithTrailer(d *raw.DictObj) *HandlerBuilder {
	if arrObj, ok := d.Get("ID"); ok {
		if arr, ok := raw.AsArray(arrObj); ok && arr.Len() > 0 {
			if s, ok := arr.Items[0].(raw.StringObj); ok {
				b.fileID = s.Bytes
			}
		}
	}
	return b
}

func (b *HandlerBuilder) Build() (Handler, error) {
	if b.encryptDict == nil {
		return noEncryptionHandler{}, nil
	}
	d := b.encryptDict
	if name := nameVal(d, "Filter"); name != "" && name != "Standard" {
		return nil, fmt.Errorf("unsupported security handler %s", name)
	}
	v, _ := numberVal(d, "V")
	if v == 0 {
		v = 1
	}
	if v == 3 || v > 5 {
		return nil, fmt.Errorf("encryption V=%d not supported", v)
	}
	r, ok := numberVal(d, "R")
	if !ok {
		r = 2
	}
	if r < 2 || r > 6 {
		return nil, fmt.Errorf("encryption R=%d not supported", r)
	}
	keyBits := int64(40)
	if n, ok := numberVal(d, "Length"); ok && n > 0 && v > 1 {
		keyBits = n
	}
	if keyBits < 40 {
		// A few producers write the length in bytes.
		keyBits *= 8
	}
	if keyBits%8 != 0 || keyBits > 128 {
		keyBits = 128
	}

	h := &standardHandler{
		v:           int(v),
		r:           int(r),
		keyBytes:    int(keyBits / 8),
		fileID:      b.fileID,
		encryptMeta: true,
	}
	h.o, _ = stringBytes(d, "O")
	h.u, _ = stringBytes(d, "U")
	h.oe, _ = stringBytes(d, "OE")
	h.ue, _ = stringBytes(d, "UE")
	h.perms, _ = stringBytes(d, "Perms")
	p, _ := numberVal(d, "P")
	h.p = uint32(int32(p))
	if em, ok := boolVal(d, "EncryptMetadata"); ok {
		h.encryptMeta = em
	}
	if h.r >= 5 {
		h.keyBytes = 32
		if len(h.o) < 48 || len(h.u) < 48 || len(h.oe) < 32 || len(h.ue) < 32 {
			return nil, errors.New("malformed AES-256 encryption dictionary")
		}
		h.o, h.u = h.o[:48], h.u[:48]
	} else if len(h.o) < 32 || len(h.u) < 16 {
		return nil, errors.New("malformed encryption dictionary")
	}

	base := algoRC4
	if h.v == 5 {
		base = algoAES256
	}
	filters, err := parseCryptFilters(d, base)
	if err != nil {
		return nil, err
	}
	h.cryptFilters = filters
	if h.v >= 4 {
		if h.streamAlgo, err = resolveCryptFilter(d, "StmF", filters); err != nil {
			return nil, err
		}
		if h.stringAlgo, err = resolveCryptFilter(d, "StrF", filters); err != nil {
			return nil, err
		}
	} else {
		h.streamAlgo, h.stringAlgo = algoRC4, algoRC4
	}
	return h, nil
}

type cryptAlgo int

const (
	algoNone cryptAlgo = iota
	algoRC4
	algoAES128
	algoAES256
)

type standardHandler struct {
	key          []byte
	v, r         int
	keyBytes     int
	o, u         []byte
	oe, ue       []byte
	perms        []byte
	p            uint32
	fileID       []byte
	encryptMeta  bool
	authed       bool
	streamAlgo   cryptAlgo
	stringAlgo   cryptAlgo
	cryptFilters map[string]cryptAlgo
}

func (h *standardHandler) IsEncrypted() bool     { return true }
func (h *standardHandler) EncryptMetadata() bool { return h.encryptMeta }

func (h *standardHandler) Authenticate(password string) error {
	var err error
	if h.r >= 5 {
		err = h.authenticateAES256(password)
	} else {
		err = h.authenticateLegacy(password)
	}
	if err != nil {
		return err
	}
	h.authed = true
	return nil
}

func (h *standardHandler) authenticateLegacy(password string) error {
	padded := padPassword([]byte(password))
	if key := h.fileKey(padded); h.checkUser(key) {
		h.key = key
		return nil
	}
	// Owner password: recover the padded user password from /O.
	user := decryptOwnerEntry(ownerRC4Key(padded, h.r, h.keyBytes), h.o[:32], h.r)
	if key := h.fileKey(user); h.checkUser(key) {
		h.key = key
		return nil
	}
	return ErrInvalidPassword
}

func (h *standardHandler) authenticateAES256(password string) error {
	pwd, err := saslPrep(password)
	if err != nil {
		return ErrInvalidPassword
	}
	if key, ok := unwrapAES256Key(h.r, pwd, h.u, nil, h.ue); ok {
		h.key = key
		return nil
	}
	if key, ok := unwrapAES256Key(h.r, pwd, h.o, h.u, h.oe); ok {
		h.key = key
		return nil
	}
	return ErrInvalidPassword
}

func (h *standardHandler) fileKey(paddedUser []byte) []byte {
	return computeFileKey(paddedUser, h.o[:32], h.p, h.fileID, h.keyBytes, h.r, !h.encryptMeta)
}

func (h *standardHandler) checkUser(key []byte) bool {
	u := computeU(key, h.fileID, h.r)
	if h.r == 2 {
		return len(h.u) >= 32 && equal(u, h.u[:32])
	}
	return equal(u[:16], h.u[:16])
}

func (h *standardHandler) algoFor(class DataClass, filter string) (cryptAlgo, error) {
	if class == DataClassMetadataStream && !h.encryptMeta {
		return algoNone, nil
	}
	switch filter {
	case "":
		if class == DataClassString {
			return h.stringAlgo, nil
		}
		return h.streamAlgo, nil
	case "Identity":
		return algoNone, nil
	}
	if algo, ok := h.cryptFilters[filter]; ok {
		return algo, nil
	}
	return algoNone, fmt.Errorf("crypt filter %s not defined", filter)
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	switch algo {
	case algoNone:
		return data, nil
	case algoRC4:
		return rc4Crypt(objectKey(h.key, objNum, gen, false), data), nil
	case algoAES128:
		return aesDecrypt(objectKey(h.key, objNum, gen, true), data)
	default:
		return aesDecrypt(h.key, data)
	}
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	switch algo {
	case algoNone:
		return data, nil
	case algoRC4:
		return rc4Crypt(objectKey(h.key, objNum, gen, false), data), nil
	case algoAES128:
		return aesEncrypt(objectKey(h.key, objNum, gen, true), data)
	default:
		return aesEncrypt(h.key, data)
	}
}

func (h *standardHandler) Permissions() Permissions {
	return Permissions{
		Print:             h.p&0x4 != 0,
		Modify:            h.p&0x8 != 0,
		Copy:              h.p&0x10 != 0,
		ModifyAnnotations: h.p&0x20 != 0,
		FillForms:         h.p&0x100 != 0,
		ExtractAccessible: h.p&0x200 != 0,
		Assemble:          h.p&0x400 != 0,
		PrintHighQuality:  h.p&0x800 != 0,
	}
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool         { return false }
func (noEncryptionHandler) Authenticate(string) error { return nil }
func (noEncryptionHandler) Decrypt(_, _ int, data []byte, _ DataClass, _ string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(_, _ int, data []byte, _ DataClass, _ string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Permissions() Permissions {
	return Permissions{Print: true, Modify: true, Copy: true, ModifyAnnotations: true, FillForms: true, ExtractAccessible: true, Assemble: true, PrintHighQuality: true}
}
func (noEncryptionHandler) EncryptMetadata() bool { return false }

// NoopHandler returns a reusable pass-through encryption handler.
func NoopHandler() Handler { return noEncryptionHandler{} }

func parseCryptFilters(dict *raw.DictObj, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := map[string]cryptAlgo{"Identity": algoNone}
	cfObj, ok := dict.Get("CF")
	if !ok {
		out["StdCF"] = base
		return out, nil
	}
	cfDict, ok := cfObj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("CF must be a dictionary")
	}
	for name, obj := range cfDict.KV {
		entry, ok := obj.(*raw.DictObj)
		if !ok {
			return nil, errors.New("crypt filter entry must be a dictionary")
		}
		algo := base
		switch nameVal(entry, "CFM") {
		case "V2":
			algo = algoRC4
		case "AESV2":
			algo = algoAES128
		case "AESV3":
			algo = algoAES256
		case "None":
			algo = algoNone
		case "":
		default:
			return nil, fmt.Errorf("unsupported crypt filter method %s", nameVal(entry, "CFM"))
		}
		out[name] = algo
	}
	return out, nil
}

func resolveCryptFilter(dict *raw.DictObj, key string, filters map[string]cryptAlgo) (cryptAlgo, error) {
	name := nameVal(dict, key)
	if name == "" || name == "Identity" {
		return algoNone, nil
	}
	if algo, ok := filters[name]; ok {
		return algo, nil
	}
	return algoNone, fmt.Errorf("crypt filter %s not defined", name)
}

func numberVal(dict *raw.DictObj, key string) (int64, bool) {
	v, ok := dict.Get(key)
	if !ok {
		return 0, false
	}
	return raw.AsInt(v)
}

func stringBytes(dict *raw.DictObj, key string) ([]byte, bool) {
	if v, ok := dict.Get(key); ok {
		if s, ok := v.(raw.StringObj); ok {
			return s.Bytes, true
		}
	}
	return nil, false
}

func boolVal(dict *raw.DictObj, key string) (bool, bool) {
	if v, ok := dict.Get(key); ok {
		if b, ok := v.(raw.BoolObj); ok {
			return b.V, true
		}
	}
	return false, false
}

func nameVal(dict *raw.DictObj, key string) string {
	if v, ok := dict.Get(key); ok {
		n, _ := raw.AsName(v)
		return n
	}
	return ""
}
