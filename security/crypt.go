package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"

	"github.com/xdg-go/stringprep"
)

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// saslPrep normalizes an AES-256 password and truncates it to 127 bytes.
func saslPrep(pwd string) ([]byte, error) {
	prepped, err := stringprep.SASLprep.Prepare(pwd)
	if err != nil {
		return nil, err
	}
	out := []byte(prepped)
	if len(out) > 127 {
		out = out[:127]
	}
	return out, nil
}

// computeFileKey derives the RC4/AES-128 file key from a padded user
// password (revisions 2 to 4).
func computeFileKey(paddedUser, o []byte, p uint32, fileID []byte, keyBytes, r int, plainMetadata bool) []byte {
	h := md5.New()
	h.Write(paddedUser)
	h.Write(o)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(fileID)
	if r >= 4 && plainMetadata {
		h.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	key := h.Sum(nil)
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:keyBytes])
			key = sum[:]
		}
	}
	return append([]byte(nil), key[:keyBytes]...)
}

// computeU returns the expected /U value for a file key. Only the first 16
// bytes are significant for revisions 3 and 4.
func computeU(key, fileID []byte, r int) []byte {
	if r == 2 {
		return rc4Crypt(key, passwordPadding)
	}
	sum := md5.Sum(append(append([]byte(nil), passwordPadding...), fileID...))
	u := rc4Crypt(key, sum[:])
	u = xorRounds(key, u, 1, 19)
	return append(u, make([]byte, 16)...)
}

func ownerRC4Key(paddedOwner []byte, r, keyBytes int) []byte {
	sum := md5.Sum(paddedOwner)
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			next := md5.Sum(key[:keyBytes])
			key = next[:]
		}
		return key[:keyBytes]
	}
	return key[:5]
}

func computeO(paddedOwner, paddedUser []byte, r, keyBytes int) []byte {
	key := ownerRC4Key(paddedOwner, r, keyBytes)
	o := rc4Crypt(key, paddedUser)
	if r >= 3 {
		o = xorRounds(key, o, 1, 19)
	}
	return o
}

func decryptOwnerEntry(key, o []byte, r int) []byte {
	if r == 2 {
		return rc4Crypt(key, o)
	}
	out := append([]byte(nil), o...)
	for i := 19; i >= 0; i-- {
		out = rc4Crypt(xorKey(key, byte(i)), out)
	}
	return out
}

// xorRounds applies RC4 with key^i for i in [from, to].
func xorRounds(key, data []byte, from, to int) []byte {
	for i := from; i <= to; i++ {
		data = rc4Crypt(xorKey(key, byte(i)), data)
	}
	return data
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ b
	}
	return out
}

// hashR6 is the iterated hash of revision 6; revision 5 uses a single
// SHA-256.
func hashR6(r int, pwd, salt, udata []byte) []byte {
	h := sha256.New()
	h.Write(pwd)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)
	if r == 5 {
		return k
	}
	var e []byte
	for round := 0; round < 64 || int(e[len(e)-1]) > round-32; round++ {
		seq := make([]byte, 0, len(pwd)+len(k)+len(udata))
		seq = append(append(append(seq, pwd...), k...), udata...)
		k1 := bytes.Repeat(seq, 64)
		block, _ := aes.NewCipher(k[:16])
		e = make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		var next hash.Hash
		switch sum % 3 {
		case 0:
			next = sha256.New()
		case 1:
			next = sha512.New384()
		default:
			next = sha512.New()
		}
		next.Write(e)
		k = next.Sum(nil)
	}
	return k[:32]
}

// unwrapAES256Key validates pwd against a 48-byte /U or /O entry and, on
// success, decrypts the file key from /UE or /OE.
func unwrapAES256Key(r int, pwd, entry, udata, wrapped []byte) ([]byte, bool) {
	if !equal(hashR6(r, pwd, entry[32:40], udata), entry[:32]) {
		return nil, false
	}
	kek := hashR6(r, pwd, entry[40:48], udata)
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, false
	}
	key := make([]byte, 32)
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(key, wrapped[:32])
	return key, true
}

func objectKey(fileKey []byte, objNum, gen int, aesSalt bool) []byte {
	buf := append([]byte(nil), fileKey...)
	buf = append(buf, byte(objNum), byte(objNum>>8), byte(objNum>>16), byte(gen), byte(gen>>8))
	if aesSalt {
		buf = append(buf, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	sum := md5.Sum(buf)
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func rc4Crypt(key, data []byte) []byte {
	out := make([]byte, len(data))
	c, err := rc4.NewCipher(key)
	if err != nil {
		return out
	}
	c.XORKeyStream(out, data)
	return out
}

func aesEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	plain := append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	out := make([]byte, aes.BlockSize+len(plain))
	if _, err := rand.Read(out[:aes.BlockSize]); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, out[:aes.BlockSize]).CryptBlocks(out[aes.BlockSize:], plain)
	return out, nil
}

func aesDecrypt(key, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("malformed aes ciphertext")
	}
	iv, ct := data[:aes.BlockSize], data[aes.BlockSize:]
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

func equal(a, b []byte) bool { return bytes.Equal(a, b) }
