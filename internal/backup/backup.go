// Package backup moves a family key off a device in forms a person can carry:
// a 24 word phrase, or an armored file locked with a passphrase.
package backup

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
	"github.com/fxamacker/cbor/v2"
	"github.com/tyler-smith/go-bip39"
)

// Ext is the extension suggested for backup files.
const Ext = ".whanau-key"

// workFactor is the scrypt cost (log2 N) for new backups.
var workFactor = 18

// Words encodes a base64 family key as a 24 word BIP-39 phrase.
func Words(encoded string) (string, error) {
	raw, err := familykey.DecodeFamilyKey(encoded)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(raw)
}

// FromWords decodes a phrase produced by Words back into a base64 family key.
// Case and spacing are ignored; the checksum word is not.
func FromWords(words string) (string, error) {
	phrase := strings.Join(strings.Fields(strings.ToLower(words)), " ")
	raw, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return "", fmt.Errorf("recovery phrase: %w: %v", kerrors.ErrInvalidKeyMaterial, err)
	}
	if len(raw) != familykey.KeySize {
		return "", fmt.Errorf("recovery phrase must have 24 words: %w", kerrors.ErrInvalidKeyMaterial)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// IsWords reports whether s looks like a phrase rather than a base64 key.
func IsWords(s string) bool {
	return len(strings.Fields(s)) > 1
}

// File is the content of a backup once opened.
type File struct {
	FamilyID string `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint"`
	Key      string `cbor:"3,keyasint"`
}

// Seal encrypts f to passphrase and returns an ASCII armored age file.
func Seal(f File, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, kerrors.ErrPassphraseRequired
	}
	if _, err := familykey.DecodeFamilyKey(f.Key); err != nil {
		return nil, err
	}
	payload, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding backup: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating backup recipient: %w", err)
	}
	recipient.SetWorkFactor(workFactor)

	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)
	w, err := age.Encrypt(armored, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating backup encryptor: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("writing backup: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing backup: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing backup armor: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a backup written by Seal.
//
// Returns ErrDecryptionFailed if the passphrase is wrong or the file was changed.
func Open(data []byte, passphrase string) (*File, error) {
	if passphrase == "" {
		return nil, kerrors.ErrPassphraseRequired
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating backup identity: %w", err)
	}

	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), identity)
	if err != nil {
		return nil, fmt.Errorf("opening backup: %w: %v", kerrors.ErrDecryptionFailed, err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading backup: %w: %v", kerrors.ErrDecryptionFailed, err)
	}

	var f File
	if err := cbor.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("decoding backup: %w", kerrors.ErrInvalidKeyMaterial)
	}
	if _, err := familykey.DecodeFamilyKey(f.Key); err != nil {
		return nil, err
	}
	return &f, nil
}
