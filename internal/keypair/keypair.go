package keypair

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	// PublicKeySize is the length of an X25519 box public key.
	PublicKeySize = 32

	// SecretKeySize is the length of an X25519 box secret key.
	SecretKeySize = 32

	// EncodedPublicKeySize is the length of a standard base64 encoded public key.
	EncodedPublicKeySize = 44
)

// Keypair is a user's box keypair. The public key is already base64 encoded
// for transport; the secret key never leaves the device.
type Keypair struct {
	PublicKey string
	SecretKey *[SecretKeySize]byte
}

// Generate creates a new keypair from the system's secure random source.
func Generate() (*Keypair, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom creates a new keypair reading randomness from r.
func GenerateFrom(r io.Reader) (*Keypair, error) {
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generating box keypair: %w: %v", kerrors.ErrCryptoUnavailable, err)
	}

	encoded, err := EncodePublicKey(pub[:])
	if err != nil {
		return nil, err
	}

	return &Keypair{PublicKey: encoded, SecretKey: priv}, nil
}

// EncodePublicKey base64 encodes a raw public key.
func EncodePublicKey(raw []byte) (string, error) {
	if len(raw) != PublicKeySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d: %w", PublicKeySize, len(raw), kerrors.ErrInvalidKeyLength)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePublicKey validates and decodes a base64 public key.
// The format is checked before the decoded length.
func DecodePublicKey(encoded string) (*[PublicKeySize]byte, error) {
	if len(encoded) != EncodedPublicKeySize {
		return nil, fmt.Errorf("public key must be %d base64 characters, got %d: %w", EncodedPublicKeySize, len(encoded), kerrors.ErrInvalidKeyFormat)
	}

	raw, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("public key is not valid base64: %w", kerrors.ErrInvalidKeyFormat)
	}

	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("decoded public key must be %d bytes, got %d: %w", PublicKeySize, len(raw), kerrors.ErrInvalidKeyLength)
	}

	var key [PublicKeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// SecretKeyFromBytes copies a raw secret key into the fixed size array the box primitives take.
func SecretKeyFromBytes(raw []byte) (*[SecretKeySize]byte, error) {
	if len(raw) != SecretKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d: %w", SecretKeySize, len(raw), kerrors.ErrInvalidKeyLength)
	}
	var key [SecretKeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// PublicKeyFromSecret recomputes the encoded public key for a secret key.
func PublicKeyFromSecret(secret []byte) (string, error) {
	if len(secret) != SecretKeySize {
		return "", fmt.Errorf("secret key must be %d bytes, got %d: %w", SecretKeySize, len(secret), kerrors.ErrInvalidKeyLength)
	}
	pub, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("deriving public key: %w", kerrors.ErrInvalidKeyMaterial)
	}
	return EncodePublicKey(pub)
}

// Fingerprint returns a short hex digest of an encoded public key, for humans
// to compare keys out-of-band. It does not validate the key.
func Fingerprint(encoded string) string {
	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:8])
}

// Zero overwrites a secret key in place.
func Zero(key *[SecretKeySize]byte) {
	if key == nil {
		return
	}
	for i := range key {
		key[i] = 0
	}
}
