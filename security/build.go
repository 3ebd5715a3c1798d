package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/wudi/pdfmask/ir/raw"
)

// StandardConfig describes a new Standard security handler.
type StandardConfig struct {
	UserPassword  string
	OwnerPassword string
	// Revision selects the algorithm: 3 is RC4-128, 4 is AES-128 and 6 is
	// AES-256.
	Revision    int
	Permissions Permissions
	FileID      []byte
}

// PermissionsValue builds the /P flags for p.
func PermissionsValue(p Permissions) uint32 {
	val := uint32(0xFFFFF0C0)
	set := func(ok bool, bit uint) {
		if ok {
			val |= 1 << (bit - 1)
		}
	}
	set(p.Print, 3)
	set(p.Modify, 4)
	set(p.Copy, 5)
	set(p.ModifyAnnotations, 6)
	set(p.FillForms, 9)
	set(p.ExtractAccessible, 10)
	set(p.Assemble, 11)
	set(p.PrintHighQuality, 12)
	return val
}

// NewStandard creates an Encrypt dictionary and an authenticated handler
// for it.
func NewStandard(cfg StandardConfig) (*raw.DictObj, Handler, error) {
	owner := cfg.OwnerPassword
	if owner == "" {
		owner = cfg.UserPassword
	}
	p := PermissionsValue(cfg.Permissions)
	enc := raw.Dict()
	enc.Set("Filter", raw.NameLiteral("Standard"))
	enc.Set("P", raw.NumberInt(int64(int32(p))))

	switch cfg.Revision {
	case 3, 4:
		keyBytes := 16
		o := computeO(padPassword([]byte(owner)), padPassword([]byte(cfg.UserPassword)), cfg.Revision, keyBytes)
		key := computeFileKey(padPassword([]byte(cfg.UserPassword)), o, p, cfg.FileID, keyBytes, cfg.Revision, false)
		enc.Set("O", raw.HexStr(o))
		enc.Set("U", raw.HexStr(computeU(key, cfg.FileID, cfg.Revision)))
		enc.Set("R", raw.NumberInt(int64(cfg.Revision)))
		enc.Set("Length", raw.NumberInt(128))
		if cfg.Revision == 3 {
			enc.Set("V", raw.NumberInt(2))
		} else {
			enc.Set("V", raw.NumberInt(4))
			cf := raw.Dict()
			std := raw.Dict()
			std.Set("CFM", raw.NameLiteral("AESV2"))
			std.Set("AuthEvent", raw.NameLiteral("DocOpen"))
			std.Set("Length", raw.NumberInt(16))
			cf.Set("StdCF", std)
			enc.Set("CF", cf)
			enc.Set("StmF", raw.NameLiteral("StdCF"))
			enc.Set("StrF", raw.NameLiteral("StdCF"))
		}
	case 6:
		userPwd, err := saslPrep(cfg.UserPassword)
		if err != nil {
			return nil, nil, err
		}
		ownerPwd, err := saslPrep(owner)
		if err != nil {
			return nil, nil, err
		}
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, err
		}
		u, ue, err := wrapAES256Key(key, userPwd, nil)
		if err != nil {
			return nil, nil, err
		}
		o, oe, err := wrapAES256Key(key, ownerPwd, u)
		if err != nil {
			return nil, nil, err
		}
		perms := make([]byte, 16)
		binary.LittleEndian.PutUint32(perms, p)
		copy(perms[4:], []byte{0xFF, 0xFF, 0xFF, 0xFF, 'T', 'a', 'd', 'b'})
		block, _ := aes.NewCipher(key)
		block.Encrypt(perms, perms)

		enc.Set("V", raw.NumberInt(5))
		enc.Set("R", raw.NumberInt(6))
		enc.Set("Length", raw.NumberInt(256))
		enc.Set("O", raw.HexStr(o))
		enc.Set("U", raw.HexStr(u))
		enc.Set("OE", raw.HexStr(oe))
		enc.Set("UE", raw.HexStr(ue))
		enc.Set("Perms", raw.HexStr(perms))
		cf := raw.Dict()
		std := raw.Dict()
		std.Set("CFM", raw.NameLiteral("AESV3"))
		std.Set("AuthEvent", raw.NameLiteral("DocOpen"))
		std.Set("Length", raw.NumberInt(32))
		cf.Set("StdCF", std)
		enc.Set("CF", cf)
		enc.Set("StmF", raw.NameLiteral("StdCF"))
		enc.Set("StrF", raw.NameLiteral("StdCF"))
	default:
		return nil, nil, fmt.Errorf("unsupported revision %d", cfg.Revision)
	}

	h, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(cfg.FileID).Build()
	if err != nil {
		return nil, nil, err
	}
	if err := h.Authenticate(cfg.UserPassword); err != nil {
		return nil, nil, err
	}
	return enc, h, nil
}

func wrapAES256Key(key, pwd, udata []byte) (entry, wrapped []byte, err error) {
	salts := make([]byte, 16)
	if _, err := rand.Read(salts); err != nil {
		return nil, nil, err
	}
	entry = append(hashR6(6, pwd, salts[:8], udata), salts...)
	kek := hashR6(6, pwd, salts[8:], udata)
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, nil, err
	}
	wrapped = make([]byte, 32)
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(wrapped, key)
	return entry, wrapped, nil
}
