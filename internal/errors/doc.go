// Package errors provides typed error values for whanau.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching. Every
// cryptographic failure in the core propagates to the caller as one of these
// values; none are retried inside the core.
//
// # Error Categories
//
//   - Platform errors: ErrCryptoUnavailable, ErrEnvironmentUnsupported, ErrStorageQuotaExceeded
//   - Input errors: ErrInvalidKeyFormat, ErrInvalidKeyLength, ErrInvalidKeyMaterial
//   - Invite errors: ErrInvalidInviteFormat, ErrInviteExpired
//   - Key store errors: ErrSenderKeyNotFound, ErrRecipientKeyNotFound
//   - Crypto errors: ErrDecryptionFailed
//
// # Usage
//
// Wrap errors with additional context:
//
//	return fmt.Errorf("loading key for user %s: %w", userID, errors.ErrSenderKeyNotFound)
//
// Handle errors in the CLI layer:
//
//	if errors.Is(err, kerrors.ErrDecryptionFailed) {
//	    // Show user-friendly message
//	}
package errors
