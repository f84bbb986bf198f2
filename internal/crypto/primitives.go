package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/mundrapranay/silhouette-ste/internal/errs"
)

const (
	// KeySize is the byte length of every symmetric key.
	KeySize = 32

	// IVSize is the AES-GCM nonce length.
	IVSize = 12

	// PRFSize is the output length of PRF and Digest.
	PRFSize = 64
)

// Keys are the sub-keys derived from one master key.
type Keys struct {
	Enc  []byte // AES-256-GCM entry encryption
	PRF  []byte // token and noise PRF
	GGM  []byte // root of the delegatable tree PRF
	DPRF []byte // master of the distributed PRF shares
}

// GenerateKey returns a fresh random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey expands secret into size bytes bound to info using HKDF-SHA512.
func DeriveKey(secret []byte, info string, size int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errs.Errorf("DeriveKey", errs.ErrInvalidParameter, "empty secret")
	}
	out := make([]byte, size)
	r := hkdf.New(sha512.New, secret, nil, []byte("silhouette-ste/"+info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", info, err)
	}
	return out, nil
}

// DeriveKeys splits master into independent sub-keys.
func DeriveKeys(master []byte) (*Keys, error) {
	if len(master) != KeySize {
		return nil, errs.Errorf("DeriveKeys", errs.ErrInvalidParameter, "master key must be %d bytes, got %d", KeySize, len(master))
	}

	keys := &Keys{}
	for _, k := range []struct {
		info string
		dst  *[]byte
	}{
		{"enc", &keys.Enc},
		{"prf", &keys.PRF},
		{"ggm", &keys.GGM},
		{"dprf", &keys.DPRF},
	} {
		derived, err := DeriveKey(master, k.info, KeySize)
		if err != nil {
			return nil, err
		}
		*k.dst = derived
	}
	return keys, nil
}

// Ciphertext is an AES-GCM sealed payload with its explicit nonce.
type Ciphertext struct {
	IV   []byte
	Data []byte
}

// Cipher seals and opens entries under one key. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates an AES-256-GCM cipher for key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errs.Errorf("NewCipher", errs.ErrInvalidParameter, "key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random IV.
func (c *Cipher) Seal(plaintext []byte) (*Ciphertext, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return c.SealWithIV(iv, plaintext)
}

// SealWithIV encrypts plaintext under the caller's IV.
func (c *Cipher) SealWithIV(iv, plaintext []byte) (*Ciphertext, error) {
	if len(iv) != IVSize {
		return nil, errs.Errorf("SealWithIV", errs.ErrInvalidParameter, "IV must be %d bytes, got %d", IVSize, len(iv))
	}
	return &Ciphertext{
		IV:   append([]byte(nil), iv...),
		Data: c.aead.Seal(nil, iv, plaintext, nil),
	}, nil
}

// Open authenticates and decrypts ct. It returns no plaintext on failure.
func (c *Cipher) Open(ct *Ciphertext) ([]byte, error) {
	if ct == nil || len(ct.IV) != IVSize {
		return nil, errs.Errorf("Open", errs.ErrAuthentication, "malformed ciphertext")
	}
	plaintext, err := c.aead.Open(nil, ct.IV, ct.Data, nil)
	if err != nil {
		return nil, errs.E("Open", errs.ErrAuthentication)
	}
	return plaintext, nil
}

// Encrypt seals plaintext under key with a random IV.
func Encrypt(key, plaintext []byte) (*Ciphertext, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Seal(plaintext)
}

// EncryptWithIV seals plaintext under key with an explicit IV.
func EncryptWithIV(key, iv, plaintext []byte) (*Ciphertext, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.SealWithIV(iv, plaintext)
}

// Decrypt opens ct under key, failing with errs.ErrAuthentication on a tag mismatch.
func Decrypt(key []byte, ct *Ciphertext) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Open(ct)
}

// PRF evaluates HMAC-SHA512 over the concatenation of input.
func PRF(key []byte, input ...[]byte) []byte {
	mac := hmac.New(sha512.New, key)
	for _, in := range input {
		mac.Write(in)
	}
	return mac.Sum(nil)
}

// Digest returns SHA3-512 over the concatenation of input.
func Digest(input ...[]byte) []byte {
	h := sha3.New512()
	for _, in := range input {
		h.Write(in)
	}
	return h.Sum(nil)
}
