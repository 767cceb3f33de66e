// Package secrets encrypts the completion-endpoint credential before it is
// written to the settings store. The cipher is AES-256-CTR with a fresh random
// 16-byte IV per write; the stored form is "<iv-hex>:<ciphertext-hex>" so the
// IV travels with the ciphertext. The encrypted form is write-only: no API
// response ever echoes it back.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the required AES key length in bytes (AES-256).
const KeySize = 32

var (
	// ErrBadKey indicates the key is not a valid 32-byte AES-256 key.
	ErrBadKey = errors.New("encryption key must be 32 bytes")
	// ErrMalformed indicates stored ciphertext that does not match the
	// "<iv-hex>:<ciphertext-hex>" layout.
	ErrMalformed = errors.New("malformed encrypted value")
)

// Cipher encrypts and decrypts short credential strings with a fixed key.
type Cipher struct {
	key []byte
}

// NewCipher builds a Cipher from a 32-byte key. ParseKey converts the hex
// form used in configuration.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Cipher{key: k}, nil
}

// ParseKey decodes a 64-character hex string into an AES-256 key.
func ParseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	return key, nil
}

// Encrypt returns the "<iv-hex>:<ciphertext-hex>" form of plaintext, using a
// freshly generated IV. Two calls with identical input produce different
// output.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(out, []byte(plaintext))

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It returns ErrMalformed when the stored value
// does not carry an IV prefix of the right size.
func (c *Cipher) Decrypt(stored string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(stored, ":")
	if !ok {
		return "", ErrMalformed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformed
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", ErrMalformed
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(ct))
	cipher.NewCTR(block, iv).XORKeyStream(out, ct)
	return string(out), nil
}
