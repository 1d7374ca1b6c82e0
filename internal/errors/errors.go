package errors

import "errors"

// Platform errors indicate the host lacks something the crypto core needs.
var (
	// ErrCryptoUnavailable indicates the secure random source or a required primitive is unavailable.
	ErrCryptoUnavailable = errors.New("required cryptographic primitives are unavailable")

	// ErrEnvironmentUnsupported indicates the local encrypted storage engine cannot be used on this device.
	ErrEnvironmentUnsupported = errors.New("local encrypted storage is not supported in this environment")

	// ErrStorageQuotaExceeded indicates the device refused a write for lack of space.
	ErrStorageQuotaExceeded = errors.New("local storage quota exceeded")
)

// Input errors indicate malformed key material. Operations are never attempted on such input.
var (
	// ErrInvalidKeyFormat indicates an encoded key is not well-formed base64 of the expected size.
	ErrInvalidKeyFormat = errors.New("invalid key format")

	// ErrInvalidKeyLength indicates a key has the wrong number of bytes.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrInvalidKeyMaterial indicates a family key could not be imported.
	ErrInvalidKeyMaterial = errors.New("invalid family key material")

	// ErrInvalidUserID indicates an empty or malformed user id.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidFamilyID indicates an empty or malformed family id.
	ErrInvalidFamilyID = errors.New("invalid family id")

	// ErrInvalidEmail indicates the email format is invalid.
	ErrInvalidEmail = errors.New("invalid email format")
)

// Invite errors are user-correctable and surface as form errors.
var (
	// ErrInvalidInviteFormat indicates a packaged invite code is not exactly CODE:KEY.
	ErrInvalidInviteFormat = errors.New("invalid invite code format")

	// ErrInviteNotFound indicates the server has no record of the invite code.
	ErrInviteNotFound = errors.New("invite not found")

	// ErrInviteExpired indicates the invite is past its expiry time.
	ErrInviteExpired = errors.New("invite has expired")

	// ErrInviteNotPending indicates the invite was already accepted or cancelled.
	ErrInviteNotPending = errors.New("invite is no longer pending")

	// ErrInviteMismatch indicates the invite was addressed to a different user or uses a different protocol.
	ErrInviteMismatch = errors.New("invite does not match this user")
)

// Key store errors mean a private key the protocol relies on is missing locally.
// They indicate incomplete registration or a wiped store and call for re-registration.
var (
	// ErrSenderKeyNotFound indicates the inviter's private key is not in the local store.
	ErrSenderKeyNotFound = errors.New("sender private key not found")

	// ErrRecipientKeyNotFound indicates the invitee's private key is not in the local store.
	ErrRecipientKeyNotFound = errors.New("recipient private key not found")

	// ErrFamilyKeyNotFound indicates no family key is stored locally for the family.
	ErrFamilyKeyNotFound = errors.New("family key not found")

	// ErrNotRegistered indicates the local user has not created a keypair yet.
	ErrNotRegistered = errors.New("user has not registered a keypair")

	// ErrAlreadyRegistered indicates a keypair already exists for the user on this device.
	ErrAlreadyRegistered = errors.New("a keypair already exists on this device")

	// ErrFamilyNotFound indicates the user does not belong to the named family.
	ErrFamilyNotFound = errors.New("family not found")

	// ErrFamilyExists indicates the user already belongs to a family with that name.
	ErrFamilyExists = errors.New("family already exists")

	// ErrPassphraseRequired indicates a family key backup was sealed or opened without a passphrase.
	ErrPassphraseRequired = errors.New("a backup passphrase is required")
)

// Cryptographic errors are terminal for the ciphertext involved.
var (
	// ErrDecryptionFailed indicates authentication failed. No plaintext is ever returned alongside it.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrEncryptFailed indicates encryption could not be completed.
	ErrEncryptFailed = errors.New("encryption failed")
)

// Directory errors come from the external server collaborator.
var (
	// ErrPublicKeyNotFound indicates no public key is registered for the email.
	ErrPublicKeyNotFound = errors.New("public key not found")

	// ErrRecipientNotRegistered indicates the invitee has no registered public key yet.
	ErrRecipientNotRegistered = errors.New("recipient has not registered a public key")

	// ErrDirectoryNotConfigured indicates neither a shared directory nor a server url is configured.
	ErrDirectoryNotConfigured = errors.New("no directory configured")
)

// Session errors gate decryption behind an authenticated device.
var (
	// ErrNotAuthenticated indicates no access token is stored for the user on this device.
	ErrNotAuthenticated = errors.New("device is not authenticated")

	// ErrInvalidTransition indicates an orchestration step was attempted out of order.
	ErrInvalidTransition = errors.New("invalid membership state transition")
)

// File errors indicate issues with file discovery or access.
var (
	// ErrNoFilesFound indicates no files matched the provided patterns.
	ErrNoFilesFound = errors.New("no matching files found")

	// ErrFileNotFound indicates a specific file could not be located.
	ErrFileNotFound = errors.New("file not found")
)
