package familykey

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
)

const (
	// InviteCodePrefix starts every invite code.
	InviteCodePrefix = "FAMILY-"

	// InviteCodeLength is the number of random symbols after the prefix.
	InviteCodeLength = 16

	// InviteAlphabet omits 0, O and I, which are easily confused when read aloud or copied by hand.
	InviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ123456789"

	packageSeparator = ":"
)

// acceptLimit is the largest multiple of the alphabet size that fits in a byte.
// Bytes at or above it are rejected so every symbol is equally likely.
const acceptLimit = 256 - 256%len(InviteAlphabet)

// PackagedInvite is the parsed form of CODE:KEY.
type PackagedInvite struct {
	Code      string
	Base64Key string
}

// GenerateInviteCode returns FAMILY- followed by 16 uniformly random symbols.
func GenerateInviteCode() (string, error) {
	return generateInviteCodeFrom(rand.Reader)
}

func generateInviteCodeFrom(r io.Reader) (string, error) {
	var b strings.Builder
	b.Grow(len(InviteCodePrefix) + InviteCodeLength)
	b.WriteString(InviteCodePrefix)

	buf := make([]byte, InviteCodeLength)
	for n := 0; n < InviteCodeLength; {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("generating invite code: %w: %v", kerrors.ErrCryptoUnavailable, err)
		}
		for _, c := range buf {
			if int(c) >= acceptLimit {
				continue
			}
			b.WriteByte(InviteAlphabet[int(c)%len(InviteAlphabet)])
			n++
			if n == InviteCodeLength {
				break
			}
		}
	}
	return b.String(), nil
}

// ValidateInviteCode checks a bare invite code produced by GenerateInviteCode.
func ValidateInviteCode(code string) error {
	body, ok := strings.CutPrefix(code, InviteCodePrefix)
	if !ok || len(body) != InviteCodeLength {
		return fmt.Errorf("invite code must be %s followed by %d symbols: %w", InviteCodePrefix, InviteCodeLength, kerrors.ErrInvalidInviteFormat)
	}
	for _, c := range body {
		if !strings.ContainsRune(InviteAlphabet, c) {
			return fmt.Errorf("invite code contains %q: %w", c, kerrors.ErrInvalidInviteFormat)
		}
	}
	return nil
}

// CreateInviteCodeWithKey packages a code with the base64 family key.
func CreateInviteCodeWithKey(code, base64Key string) string {
	return code + packageSeparator + base64Key
}

// ParseInviteCode splits a packaged invite. It requires exactly two non-empty parts.
func ParseInviteCode(packaged string) (*PackagedInvite, error) {
	parts := strings.Split(packaged, packageSeparator)
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected CODE:KEY, got %d parts: %w", len(parts), kerrors.ErrInvalidInviteFormat)
	}
	if parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invite code and key must both be present: %w", kerrors.ErrInvalidInviteFormat)
	}
	return &PackagedInvite{Code: parts[0], Base64Key: parts[1]}, nil
}
