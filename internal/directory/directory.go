// Package directory is where public keys and encrypted invites are exchanged.
//
// A Directory never sees private keys or plaintext family keys: it stores
// public keys by user and opaque {encryptedFamilyKey, nonce} invite records.
//
// Two implementations are provided. FileDirectory keeps TOML records in a
// shared .whanau folder, which a family can sync however they like.
// HTTPDirectory talks JSON to a relay served by Handler.
//
// A directory does not authenticate who publishes a key. Anyone able to
// write to it (a bearer token holder, or anyone with the shared folder) can
// replace a user's key or register a new id under someone else's email, and
// since the most recent registration for an email wins, later targeted
// invites would be sealed to that key. Inviters should compare the
// recipient fingerprint out of band before sharing the invite code.
package directory

import (
	"context"
	"time"
)

// Status is the lifecycle state of an invite record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// UserKey is a registered user's public key.
type UserKey struct {
	UserID       string    `toml:"user_id" json:"user_id"`
	Email        string    `toml:"email" json:"email"`
	PublicKey    string    `toml:"-" json:"public_key"`
	Device       string    `toml:"device" json:"device,omitempty"`
	RegisteredAt time.Time `toml:"registered_at" json:"registered_at"`
}

// InviteRecord is what the server stores for a targeted invite.
// EncryptedFamilyKey and Nonce are opaque to it.
type InviteRecord struct {
	ID                 string    `toml:"id" json:"id"`
	FamilyID           string    `toml:"family_id" json:"family_id"`
	FamilyName         string    `toml:"family_name" json:"family_name"`
	InviterID          string    `toml:"inviter_id" json:"inviter_id"`
	InviteeEmail       string    `toml:"invitee_email" json:"invitee_email"`
	EncryptedFamilyKey string    `toml:"encrypted_family_key" json:"encrypted_family_key"`
	Nonce              string    `toml:"nonce" json:"nonce"`
	InviteCode         string    `toml:"invite_code" json:"invite_code"`
	ExpiresAt          time.Time `toml:"expires_at" json:"expires_at"`
	Status             Status    `toml:"status" json:"status"`
	CreatedAt          time.Time `toml:"created_at" json:"created_at"`
}

// Expired reports whether a pending invite has passed its expiry.
func (r *InviteRecord) Expired(now time.Time) bool {
	return r.Status == StatusPending && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Packaged reports whether the record belongs to a packaged code, which
// carries no recipient and no encrypted key.
func (r *InviteRecord) Packaged() bool {
	return r.InviteeEmail == "" && r.EncryptedFamilyKey == "" && r.Nonce == ""
}

// Bundle is what an invitee fetches to decrypt an invite locally.
type Bundle struct {
	Invite           InviteRecord `json:"invite"`
	InviterPublicKey string       `json:"inviter_public_key"`
}

// Directory is the server side of key and invite exchange.
type Directory interface {
	// PublishPublicKey registers or replaces a user's public key.
	PublishPublicKey(ctx context.Context, key UserKey) error

	// LookupPublicKey finds the public key registered for an email.
	// Returns ErrPublicKeyNotFound if nobody registered with it.
	LookupPublicKey(ctx context.Context, email string) (*UserKey, error)

	// SubmitInvite stores a new pending invite keyed by its invite code.
	SubmitInvite(ctx context.Context, invite InviteRecord) error

	// FetchInvite returns an invite and its inviter's public key. A pending
	// invite past its expiry is returned with status expired.
	FetchInvite(ctx context.Context, inviteCode string) (*Bundle, error)

	// UpdateInviteStatus moves a pending invite to a final status.
	UpdateInviteStatus(ctx context.Context, inviteCode string, status Status) error

	// ListInvites returns a family's invites, oldest first.
	ListInvites(ctx context.Context, familyID string) ([]InviteRecord, error)
}
