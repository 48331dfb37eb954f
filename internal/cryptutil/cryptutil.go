// Package cryptutil provides envelope AEAD encryption for the encrypted
// columns in internal/store (UserSettings.provider_credentials,
// UserSettings.custom_providers). No third-party AEAD library is imported by
// any repo in the retrieved pack for this exact concern, so this uses the
// standard library's crypto/aes + crypto/cipher directly (see DESIGN.md).
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrKeySize is returned when the supplied key is not a valid AES key size.
var ErrKeySize = errors.New("cryptutil: key must be 16, 24, or 32 bytes")

// Sealer encrypts and decrypts column payloads with a single AES-GCM key.
// One Sealer is shared process-wide; key rotation is out of scope (spec §1).
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer from a raw AES key (16/24/32 bytes for
// AES-128/192/256).
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: %w", ErrKeySize)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: building GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext for storage in a BLOB
// column.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptutil: generating nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, errors.New("cryptutil: ciphertext too short")
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return s.gcm.Open(nil, nonce, ciphertext, nil)
}

// SealJSON marshals v and seals it.
func (s *Sealer) SealJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: marshaling: %w", err)
	}
	return s.Seal(raw)
}

// OpenJSON decrypts blob and unmarshals into v. If decryption fails, it
// falls back to treating blob as already-plaintext JSON (legacy rows written
// before encryption was enabled, or rows migrated from a plaintext source)
// before giving up.
func (s *Sealer) OpenJSON(blob []byte, v any) error {
	plain, err := s.Open(blob)
	if err != nil {
		if jsonErr := json.Unmarshal(blob, v); jsonErr == nil {
			return nil
		}
		return fmt.Errorf("cryptutil: decrypting: %w", err)
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("cryptutil: unmarshaling decrypted payload: %w", err)
	}
	return nil
}
