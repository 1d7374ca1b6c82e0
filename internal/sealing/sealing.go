// Package sealing seals small values at rest under the device key.
//
// A sealed value is base64(nonce || ciphertext || tag) using AES-256-GCM
// with a random 96-bit nonce.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrAuthFailed indicates the value was sealed under another key or was modified.
	ErrAuthFailed = errors.New("sealed value authentication failed")

	// ErrRandomUnavailable indicates a nonce could not be generated.
	ErrRandomUnavailable = errors.New("secure random source unavailable")
)

// KeySize is the required key length.
const KeySize = 32

const checkLabel = "whanau-sealing-key-check-v1"

// Sealer seals and opens values under one key.
type Sealer struct {
	aead  cipher.AEAD
	check string
	rand  io.Reader
}

// New builds a sealer for the given key.
func New(key [KeySize]byte) (*Sealer, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(checkLabel))
	h.Write(key[:])

	return &Sealer{aead: aead, check: hex.EncodeToString(h.Sum(nil)), rand: rand.Reader}, nil
}

// CheckValue identifies the key without revealing it. Two sealers share a
// check value only if they share a key.
func (s *Sealer) CheckValue() string {
	return s.check
}

// Seal encrypts plaintext and returns the encoded sealed value.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decodes and decrypts a sealed value.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrAuthFailed
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return nil, ErrAuthFailed
	}
	plaintext, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
