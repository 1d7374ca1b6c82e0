package codec

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
)

func newKey(t *testing.T) *familykey.Key {
	t.Helper()
	key, _, err := familykey.GenerateFamilyKey()
	if err != nil {
		t.Fatalf("Failed to generate family key: %v", err)
	}
	return key
}

func TestMessageRoundTrip(t *testing.T) {
	key := newKey(t)
	tests := []struct {
		name    string
		message string
	}{
		{"Empty", ""},
		{"ASCII", "Dinner at 6"},
		{"Unicode", "Kia ora e te whānau 👋"},
		{"Long", strings.Repeat("a", 64*1024)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := EncryptMessage(tc.message, key)
			if err != nil {
				t.Fatalf("EncryptMessage failed: %v", err)
			}
			got, err := DecryptMessage(enc, key)
			if err != nil {
				t.Fatalf("DecryptMessage failed: %v", err)
			}
			if got != tc.message {
				t.Errorf("Expected %q, got %q", tc.message, got)
			}
		})
	}
}

func TestMessageNonDeterministic(t *testing.T) {
	key := newKey(t)
	a, _ := EncryptMessage("same message", key)
	b, _ := EncryptMessage("same message", key)
	if a == b {
		t.Error("Expected different ciphertexts for repeated encryption")
	}
}

func TestMessageLayout(t *testing.T) {
	key := newKey(t)
	enc, err := EncryptMessage("hello", key)
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("Ciphertext is not base64: %v", err)
	}
	if want := IVSize + len("hello") + 16; len(raw) != want {
		t.Errorf("Expected %d bytes (IV, ciphertext, tag), got %d", want, len(raw))
	}
}

func TestMessageTamperDetection(t *testing.T) {
	key := newKey(t)
	enc, _ := EncryptMessage("the family meeting is on sunday", key)
	raw, _ := base64.StdEncoding.DecodeString(enc)

	for i := range raw {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x80
		if _, err := DecryptMessage(base64.StdEncoding.EncodeToString(tampered), key); !errors.Is(err, kerrors.ErrDecryptionFailed) {
			t.Fatalf("Flipping byte %d: expected ErrDecryptionFailed, got %v", i, err)
		}
	}

	for _, n := range []int{0, 1, IVSize, IVSize + 15, len(raw) - 1} {
		if _, err := DecryptMessage(base64.StdEncoding.EncodeToString(raw[:n]), key); !errors.Is(err, kerrors.ErrDecryptionFailed) {
			t.Errorf("Truncating to %d bytes: expected ErrDecryptionFailed, got %v", n, err)
		}
	}

	if _, err := DecryptMessage("not base64!", key); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed for invalid base64, got %v", err)
	}
}

func TestMessageWrongKey(t *testing.T) {
	enc, _ := EncryptMessage("secret", newKey(t))
	got, err := DecryptMessage(enc, newKey(t))
	if !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
	if got != "" {
		t.Errorf("Expected no output, got %q", got)
	}
}

func TestNilKey(t *testing.T) {
	if _, err := EncryptMessage("x", nil); !errors.Is(err, kerrors.ErrFamilyKeyNotFound) {
		t.Errorf("Expected ErrFamilyKeyNotFound, got %v", err)
	}
}

func TestFailingRandomSource(t *testing.T) {
	orig := randReader
	randReader = bytes.NewReader(nil)
	defer func() { randReader = orig }()

	if _, err := EncryptMessage("x", newKey(t)); !errors.Is(err, kerrors.ErrCryptoUnavailable) {
		t.Errorf("Expected ErrCryptoUnavailable, got %v", err)
	}
}

func TestFileRoundTrip(t *testing.T) {
	key := newKey(t)
	tests := []Blob{
		{Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}, Type: "image/png"},
		{Data: []byte("%PDF-1.7"), Type: "application/pdf"},
		{Data: []byte{}, Type: "text/plain"},
		{Data: []byte("no type"), Type: ""},
	}
	for _, file := range tests {
		t.Run(file.Type, func(t *testing.T) {
			enc, err := EncryptFile(file, key)
			if err != nil {
				t.Fatalf("EncryptFile failed: %v", err)
			}
			if enc.Type != OctetStream {
				t.Errorf("Expected ciphertext type %q, got %q", OctetStream, enc.Type)
			}
			if len(file.Data) > 0 && bytes.Contains(enc.Data, file.Data) {
				t.Error("Ciphertext contains the plaintext")
			}

			got, err := DecryptFile(enc, key)
			if err != nil {
				t.Fatalf("DecryptFile failed: %v", err)
			}
			if !bytes.Equal(got.Data, file.Data) {
				t.Errorf("Expected data %v, got %v", file.Data, got.Data)
			}
			if got.Type != file.Type {
				t.Errorf("Expected type %q, got %q", file.Type, got.Type)
			}
		})
	}
}

func TestFileTamperAndWrongKey(t *testing.T) {
	key := newKey(t)
	enc, _ := EncryptFile(Blob{Data: []byte("photo"), Type: "image/jpeg"}, key)

	tampered := Blob{Data: append([]byte(nil), enc.Data...), Type: enc.Type}
	tampered.Data[len(tampered.Data)/2] ^= 0x01
	if _, err := DecryptFile(tampered, key); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed for tampered file, got %v", err)
	}

	if _, err := DecryptFile(enc, newKey(t)); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed for wrong key, got %v", err)
	}
}

func TestFileRejectsNonEnvelopePayload(t *testing.T) {
	key := newKey(t)
	sealed, err := seal([]byte{0xff, 0x00}, key)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := DecryptFile(Blob{Data: sealed, Type: OctetStream}, key); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
}

func TestBatchMessages(t *testing.T) {
	ctx := context.Background()
	key := newKey(t)

	messages := make([]string, 50)
	for i := range messages {
		messages[i] = fmt.Sprintf("message %d", i)
	}

	enc, err := EncryptMessages(ctx, messages, key)
	if err != nil {
		t.Fatalf("EncryptMessages failed: %v", err)
	}
	dec, err := DecryptMessages(ctx, enc, key)
	if err != nil {
		t.Fatalf("DecryptMessages failed: %v", err)
	}
	for i := range messages {
		if dec[i] != messages[i] {
			t.Errorf("Index %d: expected %q, got %q", i, messages[i], dec[i])
		}
	}

	enc[7] = "corrupt"
	if _, err := DecryptMessages(ctx, enc, key); !errors.Is(err, kerrors.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed for batch with one bad element, got %v", err)
	}
}

func TestBatchEmpty(t *testing.T) {
	ctx := context.Background()
	key := newKey(t)

	msgs, err := EncryptMessages(ctx, nil, key)
	if err != nil || msgs == nil || len(msgs) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v (err %v)", msgs, err)
	}
	files, err := DecryptFiles(ctx, []Blob{}, key)
	if err != nil || files == nil || len(files) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v (err %v)", files, err)
	}
}

func TestBatchFiles(t *testing.T) {
	ctx := context.Background()
	key := newKey(t)
	files := []Blob{
		{Data: []byte("one"), Type: "text/plain"},
		{Data: []byte("two"), Type: "image/gif"},
		{Data: []byte("three"), Type: "audio/ogg"},
	}

	enc, err := EncryptFiles(ctx, files, key)
	if err != nil {
		t.Fatalf("EncryptFiles failed: %v", err)
	}
	dec, err := DecryptFiles(ctx, enc, key)
	if err != nil {
		t.Fatalf("DecryptFiles failed: %v", err)
	}
	for i := range files {
		if !bytes.Equal(dec[i].Data, files[i].Data) || dec[i].Type != files[i].Type {
			t.Errorf("Index %d: expected %+v, got %+v", i, files[i], dec[i])
		}
	}
}

func TestBatchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := EncryptMessages(ctx, []string{"a", "b"}, newKey(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
