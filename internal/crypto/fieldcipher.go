// Package crypto provides the field-level encryption capability used for PII
// at rest (session origin addresses). Callers treat Encrypt/Decrypt as
// opaque; the algorithm is an implementation detail.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// FieldCipher encrypts and decrypts individual record fields.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AESFieldCipher implements FieldCipher with AES-GCM. Ciphertexts carry the
// nonce as a prefix and are base64 encoded for storage in string fields.
type AESFieldCipher struct {
	aead cipher.AEAD
}

// NewAESFieldCipher builds a cipher from a 16, 24 or 32 byte key.
func NewAESFieldCipher(key []byte) (*AESFieldCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize field cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM mode: %w", err)
	}
	return &AESFieldCipher{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random nonce.
func (c *AESFieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertexts fail.
func (c *AESFieldCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("malformed field ciphertext: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("field ciphertext too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt field: %w", err)
	}
	return string(plain), nil
}

// NoOpFieldCipher stores fields as-is. Used when no key is configured and in
// tests that assert on stored values.
type NoOpFieldCipher struct{}

func (NoOpFieldCipher) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (NoOpFieldCipher) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

var (
	_ FieldCipher = (*AESFieldCipher)(nil)
	_ FieldCipher = NoOpFieldCipher{}
)
