package familykey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
)

const (
	// KeySize is the length of a raw family key (AES-256).
	KeySize = 32

	// EncodedKeySize is the length of a base64 encoded family key.
	EncodedKeySize = 44
)

// Key is an extractable AES-256-GCM family key handle.
type Key struct {
	raw  [KeySize]byte
	aead cipher.AEAD
}

func newKey(raw []byte) (*Key, error) {
	k := &Key{}
	copy(k.raw[:], raw)

	block, err := aes.NewCipher(k.raw[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	k.aead = aead
	return k, nil
}

// AEAD returns the key's AES-GCM cipher.
func (k *Key) AEAD() cipher.AEAD {
	return k.aead
}

// Base64 exports the raw key for distribution.
func (k *Key) Base64() string {
	return base64.StdEncoding.EncodeToString(k.raw[:])
}

// Equal reports whether two handles hold the same key material.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.raw == other.raw
}

// GenerateFamilyKey creates a fresh family key and its base64 export.
func GenerateFamilyKey() (*Key, string, error) {
	return generateFrom(rand.Reader)
}

func generateFrom(r io.Reader) (*Key, string, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, "", fmt.Errorf("generating family key: %w: %v", kerrors.ErrCryptoUnavailable, err)
	}
	k, err := newKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("generating family key: %w: %v", kerrors.ErrCryptoUnavailable, err)
	}
	return k, k.Base64(), nil
}

// DecodeFamilyKey validates a base64 family key and returns its raw bytes.
func DecodeFamilyKey(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("family key is not valid base64: %w", kerrors.ErrInvalidKeyMaterial)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("family key must be %d bytes, got %d: %w", KeySize, len(raw), kerrors.ErrInvalidKeyMaterial)
	}
	return raw, nil
}

// ImportFamilyKey builds a handle from a base64 family key.
func ImportFamilyKey(encoded string) (*Key, error) {
	raw, err := DecodeFamilyKey(encoded)
	if err != nil {
		return nil, err
	}
	k, err := newKey(raw)
	if err != nil {
		return nil, fmt.Errorf("importing family key: %w: %v", kerrors.ErrInvalidKeyMaterial, err)
	}
	return k, nil
}
