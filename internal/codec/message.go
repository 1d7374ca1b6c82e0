package codec

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
)

// IVSize is the AES-GCM nonce length.
const IVSize = 12

var randReader io.Reader = rand.Reader

// EncryptMessage seals a UTF-8 message and returns it base64 encoded.
func EncryptMessage(plaintext string, key *familykey.Key) (string, error) {
	sealed, err := seal([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMessage opens a message produced by EncryptMessage.
func DecryptMessage(encoded string, key *familykey.Key) (string, error) {
	raw, err := base64.StdEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("message is not valid base64: %w", kerrors.ErrDecryptionFailed)
	}
	plaintext, err := open(raw, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func seal(plaintext []byte, key *familykey.Key) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("no family key: %w", kerrors.ErrFamilyKeyNotFound)
	}
	aead := key.AEAD()

	out := make([]byte, IVSize, IVSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(randReader, out); err != nil {
		return nil, fmt.Errorf("generating IV: %w: %v", kerrors.ErrCryptoUnavailable, err)
	}
	return aead.Seal(out, out[:IVSize], plaintext, nil), nil
}

func open(sealed []byte, key *familykey.Key) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("no family key: %w", kerrors.ErrFamilyKeyNotFound)
	}
	aead := key.AEAD()

	if len(sealed) < IVSize+aead.Overhead() {
		return nil, fmt.Errorf("ciphertext is %d bytes, too short: %w", len(sealed), kerrors.ErrDecryptionFailed)
	}
	plaintext, err := aead.Open(nil, sealed[:IVSize], sealed[IVSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("authenticating ciphertext: %w", kerrors.ErrDecryptionFailed)
	}
	return plaintext, nil
}
