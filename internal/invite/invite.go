// Package invite encrypts a family key for exactly one recipient.
//
// The sender's X25519 secret key and the recipient's public key seal the
// base64 family key with NaCl box. Only the holder of the recipient's secret
// key can open it, and the server relaying the result never sees the family
// key in plaintext.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
	"github.com/PolarWolf314/whanau/internal/keypair"
	"golang.org/x/crypto/nacl/box"
)

// NonceSize is the NaCl box nonce length.
const NonceSize = 24

// PrivateKeySource looks up a user's stored secret key. It returns nil, nil
// when the user has no key on this device.
type PrivateKeySource interface {
	GetPrivateKey(ctx context.Context, userID string) ([]byte, error)
}

// Sealed is a family key encrypted for one recipient.
type Sealed struct {
	EncryptedKey string
	Nonce        string
}

// Encryptor seals and opens family keys with locally stored secret keys.
type Encryptor struct {
	keys PrivateKeySource
	rand io.Reader
}

func NewEncryptor(keys PrivateKeySource) *Encryptor {
	return &Encryptor{keys: keys, rand: rand.Reader}
}

// EncryptFamilyKeyForRecipient seals familyKeyB64 so only the owner of recipientPublicKey can read it.
// Every call uses a fresh nonce.
func (e *Encryptor) EncryptFamilyKeyForRecipient(ctx context.Context, familyKeyB64, recipientPublicKey, senderUserID string) (*Sealed, error) {
	rawKey, err := familykey.DecodeFamilyKey(familyKeyB64)
	if err != nil {
		return nil, err
	}
	recipient, err := keypair.DecodePublicKey(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("recipient public key: %w", err)
	}

	secret, err := e.secretKey(ctx, senderUserID, kerrors.ErrSenderKeyNotFound)
	if err != nil {
		return nil, err
	}
	defer keypair.Zero(secret)

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(e.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w: %v", kerrors.ErrCryptoUnavailable, err)
	}

	ciphertext := box.Seal(nil, rawKey, &nonce, recipient, secret)

	return &Sealed{
		EncryptedKey: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:        base64.StdEncoding.EncodeToString(nonce[:]),
	}, nil
}

// DecryptFamilyKey opens a family key sealed by senderPublicKey for recipientUserID.
// Any failure to authenticate is reported as ErrDecryptionFailed with no partial output.
func (e *Encryptor) DecryptFamilyKey(ctx context.Context, encryptedKeyB64, nonceB64, senderPublicKey, recipientUserID string) (string, error) {
	sender, err := keypair.DecodePublicKey(senderPublicKey)
	if err != nil {
		return "", fmt.Errorf("sender public key: %w", err)
	}

	secret, err := e.secretKey(ctx, recipientUserID, kerrors.ErrRecipientKeyNotFound)
	if err != nil {
		return "", err
	}
	defer keypair.Zero(secret)

	ciphertext, err := base64.StdEncoding.Strict().DecodeString(encryptedKeyB64)
	if err != nil {
		return "", fmt.Errorf("encrypted key is not valid base64: %w", kerrors.ErrDecryptionFailed)
	}
	rawNonce, err := base64.StdEncoding.Strict().DecodeString(nonceB64)
	if err != nil || len(rawNonce) != NonceSize {
		return "", fmt.Errorf("nonce must be %d bytes of base64: %w", NonceSize, kerrors.ErrDecryptionFailed)
	}
	var nonce [NonceSize]byte
	copy(nonce[:], rawNonce)

	plaintext, ok := box.Open(nil, ciphertext, &nonce, sender, secret)
	if !ok {
		return "", fmt.Errorf("opening family key: %w", kerrors.ErrDecryptionFailed)
	}

	if len(plaintext) != familykey.KeySize {
		return "", fmt.Errorf("decrypted family key has %d bytes: %w", len(plaintext), kerrors.ErrDecryptionFailed)
	}
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (e *Encryptor) secretKey(ctx context.Context, userID string, missing error) (*[keypair.SecretKeySize]byte, error) {
	raw, err := e.keys.GetPrivateKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading private key for %s: %w", userID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("no private key stored for %s: %w", userID, missing)
	}
	secret, err := keypair.SecretKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("private key for %s: %w", userID, err)
	}
	return secret, nil
}
