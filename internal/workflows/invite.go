package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/configs"
	"github.com/PolarWolf314/whanau/internal/directory"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
	"github.com/PolarWolf314/whanau/internal/keypair"
	"github.com/PolarWolf314/whanau/internal/utils"
	"github.com/google/uuid"
)

// IssueInviteOptions configures the issue-invite workflow.
type IssueInviteOptions struct {
	// Family is a family id or name the user administers.
	Family string

	// Method is PackagedCode{} or TargetedEncrypted{InviteeEmail: ...}.
	Method InviteMethod

	// TTL defaults to DefaultInviteTTL.
	TTL time.Duration
}

// IssueInviteResult contains the outcome of an issue-invite operation.
type IssueInviteResult struct {
	FamilyID   string
	FamilyName string
	Method     string

	// InviteCode is the bare code the directory knows the invite by.
	InviteCode string

	// PackagedCode is CODE:KEY, set only for PackagedCode invites. It must
	// travel out of band.
	PackagedCode string

	InviteeEmail string

	// RecipientFingerprint identifies the public key the family key was sealed to.
	RecipientFingerprint string

	ExpiresAt time.Time

	// Published is false for a packaged code issued with no directory configured.
	Published bool

	State State
}

// IssueInvite creates an invite to a family the user administers.
//
// A packaged code needs no recipient; the directory stores only the bare
// code so the invite can be tracked and used once. A targeted invite looks
// up the invitee's public key and stores the sealed family key and nonce.
//
// Returns ErrFamilyNotFound if the user does not belong to the family.
// Returns ErrInvalidTransition if the user is not the family's admin.
// Returns ErrFamilyKeyNotFound if the family key is no longer on this device.
// Returns ErrRecipientNotRegistered if a targeted invitee has no public key.
// Returns ErrSenderKeyNotFound if the user has not registered on this device.
func (r *Runtime) IssueInvite(ctx context.Context, opts IssueInviteOptions) (*IssueInviteResult, error) {
	if opts.Method == nil {
		return nil, fmt.Errorf("no invite method given: %w", kerrors.ErrInvalidTransition)
	}

	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	familyID, m, err := r.resolveFamily(config, opts.Family)
	if err != nil {
		return nil, err
	}
	state, err := Advance(stateOf(config, familyID), StateInviteIssued)
	if err != nil {
		return nil, fmt.Errorf("only the admin of %s can invite: %w", m.Name, err)
	}

	familyKey, err := r.FamilyKeys.GetFamilyKeyBase64(familyID)
	if err != nil {
		return nil, err
	}
	if familyKey == "" {
		return nil, fmt.Errorf("family %s: %w", m.Name, kerrors.ErrFamilyKeyNotFound)
	}

	code, err := familykey.GenerateInviteCode()
	if err != nil {
		return nil, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	record := directory.InviteRecord{
		ID:         uuid.New().String(),
		FamilyID:   familyID,
		FamilyName: m.Name,
		InviterID:  config.User.UserID,
		InviteCode: code,
		ExpiresAt:  r.now().Add(ttl).UTC(),
	}
	result := &IssueInviteResult{
		FamilyID:   familyID,
		FamilyName: m.Name,
		Method:     opts.Method.Name(),
		InviteCode: code,
		ExpiresAt:  record.ExpiresAt,
		State:      state,
	}

	dir, dirErr := r.Directory()

	switch method := opts.Method.(type) {
	case PackagedCode:
		result.PackagedCode = familykey.CreateInviteCodeWithKey(code, familyKey)
		if errors.Is(dirErr, kerrors.ErrDirectoryNotConfigured) {
			r.Log.Infof("No directory configured; the code cannot be tracked")
			dir, dirErr = nil, nil
		}

	case TargetedEncrypted:
		if dirErr != nil {
			return nil, dirErr
		}
		email := utils.NormalizeEmail(method.InviteeEmail)
		if !utils.IsValidEmail(email) {
			return nil, fmt.Errorf("%q: %w", method.InviteeEmail, kerrors.ErrInvalidEmail)
		}

		recipient, err := dir.LookupPublicKey(ctx, email)
		if errors.Is(err, kerrors.ErrPublicKeyNotFound) {
			return nil, fmt.Errorf("%s: %w", email, kerrors.ErrRecipientNotRegistered)
		}
		if err != nil {
			return nil, err
		}

		sealed, err := r.Invites.EncryptFamilyKeyForRecipient(ctx, familyKey, recipient.PublicKey, config.User.UserID)
		if err != nil {
			return nil, err
		}
		record.InviteeEmail = email
		record.EncryptedFamilyKey = sealed.EncryptedKey
		record.Nonce = sealed.Nonce
		result.InviteeEmail = email
		result.RecipientFingerprint = keypair.Fingerprint(recipient.PublicKey)

	default:
		return nil, fmt.Errorf("unknown invite method %T: %w", opts.Method, kerrors.ErrInvalidTransition)
	}

	if dirErr != nil {
		return nil, dirErr
	}
	if dir != nil {
		if err := r.requireRegistered(ctx, config); err != nil {
			return nil, err
		}
		if err := dir.SubmitInvite(ctx, record); err != nil {
			return nil, fmt.Errorf("submitting invite: %w", err)
		}
		result.Published = true
	}

	config.RecordInvite(familyID)
	if err := r.saveConfig(config); err != nil {
		return nil, err
	}

	r.audit(config, audit.Entry{
		Operation:  audit.OpInviteIssue,
		FamilyID:   familyID,
		FamilyName: m.Name,
		Method:     result.Method,
		Invitee:    result.InviteeEmail,
		InviteCode: code,
	})
	return result, nil
}

// requireRegistered checks the inviter has a keypair, since the invitee
// verifies the invite against the inviter's published public key.
func (r *Runtime) requireRegistered(ctx context.Context, config *configs.UserConfig) error {
	ok, err := r.Keys.HasPrivateKey(ctx, config.User.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("register before inviting: %w", kerrors.ErrSenderKeyNotFound)
	}
	return nil
}

// AcceptInviteOptions configures the accept workflow.
type AcceptInviteOptions struct {
	// InviteCode is the bare FAMILY- code the inviter shared.
	InviteCode string
}

// AcceptResult contains the outcome of accepting or joining.
type AcceptResult struct {
	FamilyID   string
	FamilyName string
	InviterID  string
	Method     string
	State      State
}

// AcceptInvite accepts a targeted invite: it fetches the sealed family key,
// opens it with this device's private key, stores it, and marks the invite
// accepted. If the invite cannot be marked accepted the stored key is removed
// again.
//
// Returns ErrNotAuthenticated if the device has no saved session.
// Returns ErrInviteExpired or ErrInviteNotPending if the invite cannot be used.
// Returns ErrInviteMismatch if the invite is a packaged code or addressed to someone else.
// Returns ErrRecipientKeyNotFound if the user has not registered on this device.
// Returns ErrDecryptionFailed if the sealed key does not open.
func (r *Runtime) AcceptInvite(ctx context.Context, opts AcceptInviteOptions) (*AcceptResult, error) {
	code := strings.TrimSpace(opts.InviteCode)
	if err := familykey.ValidateInviteCode(code); err != nil {
		return nil, err
	}
	if err := r.requireSession(); err != nil {
		return nil, err
	}

	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := r.Directory()
	if err != nil {
		return nil, err
	}

	bundle, err := dir.FetchInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	record := bundle.Invite
	if err := r.checkUsable(record); err != nil {
		return nil, err
	}
	if record.Packaged() {
		return nil, fmt.Errorf("%s is a packaged code, join with CODE:KEY instead: %w", code, kerrors.ErrInviteMismatch)
	}
	if record.InviteeEmail != utils.NormalizeEmail(config.User.Email) {
		return nil, fmt.Errorf("invite is for %s: %w", record.InviteeEmail, kerrors.ErrInviteMismatch)
	}
	if err := r.canJoin(config, record.FamilyID, record.FamilyName); err != nil {
		return nil, err
	}

	familyKey, err := r.Invites.DecryptFamilyKey(ctx, record.EncryptedFamilyKey, record.Nonce, bundle.InviterPublicKey, config.User.UserID)
	if err != nil {
		return nil, err
	}

	return r.completeJoin(ctx, config, dir, record, familyKey, audit.OpInviteAccept)
}

// JoinWithCodeOptions configures the join workflow.
type JoinWithCodeOptions struct {
	// Packaged is the CODE:KEY string the inviter shared.
	Packaged string

	// FamilyID and FamilyName identify the family when no directory is
	// configured and the code cannot be looked up.
	FamilyID   string
	FamilyName string
}

// JoinWithCode joins a family from a packaged CODE:KEY. The key half never
// leaves this device. When a directory is configured the code must be
// pending there and is marked accepted.
//
// Returns ErrInvalidInviteFormat if the packaged code is malformed.
// Returns ErrInvalidKeyMaterial if the key half is not a family key.
// Returns ErrInviteMismatch if the code belongs to a targeted invite.
// Returns ErrDirectoryNotConfigured if there is no directory and no FamilyID.
func (r *Runtime) JoinWithCode(ctx context.Context, opts JoinWithCodeOptions) (*AcceptResult, error) {
	packaged, err := familykey.ParseInviteCode(strings.TrimSpace(opts.Packaged))
	if err != nil {
		return nil, err
	}
	if err := familykey.ValidateInviteCode(packaged.Code); err != nil {
		return nil, err
	}
	if _, err := familykey.ImportFamilyKey(packaged.Base64Key); err != nil {
		return nil, err
	}

	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	dir, err := r.Directory()
	if errors.Is(err, kerrors.ErrDirectoryNotConfigured) {
		if opts.FamilyID == "" {
			return nil, fmt.Errorf("give the family id to join offline: %w", err)
		}
		name := opts.FamilyName
		if name == "" {
			name = opts.FamilyID
		}
		record := directory.InviteRecord{FamilyID: opts.FamilyID, FamilyName: name, InviteCode: packaged.Code}
		if err := r.canJoin(config, record.FamilyID, name); err != nil {
			return nil, err
		}
		return r.completeJoin(ctx, config, nil, record, packaged.Base64Key, audit.OpJoin)
	}
	if err != nil {
		return nil, err
	}

	bundle, err := dir.FetchInvite(ctx, packaged.Code)
	if err != nil {
		return nil, err
	}
	record := bundle.Invite
	if err := r.checkUsable(record); err != nil {
		return nil, err
	}
	if !record.Packaged() {
		return nil, fmt.Errorf("%s is a targeted invite, accept it with the bare code: %w", packaged.Code, kerrors.ErrInviteMismatch)
	}
	if err := r.canJoin(config, record.FamilyID, record.FamilyName); err != nil {
		return nil, err
	}

	return r.completeJoin(ctx, config, dir, record, packaged.Base64Key, audit.OpJoin)
}

// checkUsable refuses invites that are not pending, including ones the
// directory has not yet noticed are past their expiry.
func (r *Runtime) checkUsable(record directory.InviteRecord) error {
	switch {
	case record.Status == directory.StatusExpired || record.Expired(r.now()):
		return fmt.Errorf("invite expired at %s: %w", record.ExpiresAt.Format(time.RFC3339), kerrors.ErrInviteExpired)
	case record.Status != directory.StatusPending:
		return fmt.Errorf("invite is %s: %w", record.Status, kerrors.ErrInviteNotPending)
	}
	return nil
}

// canJoin refuses to join a family the device already holds a key for. A
// membership whose key was wiped or cleared can be joined again.
func (r *Runtime) canJoin(config *configs.UserConfig, familyID, name string) error {
	state := stateOf(config, familyID)
	if state != StateNoFamily {
		key, err := r.FamilyKeys.GetFamilyKey(familyID)
		if err != nil {
			return err
		}
		if key == nil {
			r.Log.Debugf("Rejoining %s, which has no family key on this device", familyID)
			state = StateNoFamily
		}
	}
	if _, err := Advance(state, StateInviteAccepted); err != nil {
		return fmt.Errorf("already a member of %s: %w", name, err)
	}
	return nil
}

// completeJoin stores the family key, marks the invite accepted and records
// membership. Nothing is kept if the directory refuses the status change.
func (r *Runtime) completeJoin(ctx context.Context, config *configs.UserConfig, dir directory.Directory, record directory.InviteRecord, familyKey, op string) (*AcceptResult, error) {
	if _, err := r.FamilyKeys.InitializeFamilyKey(familyKey, record.FamilyID); err != nil {
		return nil, err
	}

	if dir != nil {
		if err := dir.UpdateInviteStatus(ctx, record.InviteCode, directory.StatusAccepted); err != nil {
			r.forgetFamilyKey(record.FamilyID)
			return nil, fmt.Errorf("accepting invite: %w", err)
		}
	}

	state, err := Advance(StateInviteAccepted, StateMember)
	if err != nil {
		return nil, err
	}
	// A rejoin keeps the existing membership and its role.
	if _, ok := config.Families[record.FamilyID]; !ok {
		config.AddFamily(record.FamilyID, record.FamilyName, configs.RoleMember, r.now())
	}
	if err := r.saveConfig(config); err != nil {
		return nil, err
	}

	method := MethodOf(record).Name()
	r.audit(config, audit.Entry{
		Operation:  op,
		FamilyID:   record.FamilyID,
		FamilyName: record.FamilyName,
		Method:     method,
		InviteCode: record.InviteCode,
	})
	return &AcceptResult{
		FamilyID:   record.FamilyID,
		FamilyName: record.FamilyName,
		InviterID:  record.InviterID,
		Method:     method,
		State:      state,
	}, nil
}

// ListInvitesOptions configures the list-invites workflow.
type ListInvitesOptions struct {
	Family string

	// PendingOnly drops accepted, expired and cancelled invites.
	PendingOnly bool
}

// ListInvites returns a family's invites as the directory knows them, oldest first.
func (r *Runtime) ListInvites(ctx context.Context, opts ListInvitesOptions) ([]directory.InviteRecord, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	familyID, _, err := r.resolveFamily(config, opts.Family)
	if err != nil {
		return nil, err
	}
	dir, err := r.Directory()
	if err != nil {
		return nil, err
	}

	invites, err := dir.ListInvites(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if !opts.PendingOnly {
		return invites, nil
	}
	pending := make([]directory.InviteRecord, 0, len(invites))
	for _, inv := range invites {
		if inv.Status == directory.StatusPending {
			pending = append(pending, inv)
		}
	}
	return pending, nil
}

// CancelInvite withdraws a pending invite issued by this user.
//
// Returns ErrInviteMismatch if the user did not issue the invite.
// Returns ErrInviteExpired or ErrInviteNotPending if it can no longer be cancelled.
func (r *Runtime) CancelInvite(ctx context.Context, inviteCode string) error {
	code := strings.TrimSpace(inviteCode)
	if err := familykey.ValidateInviteCode(code); err != nil {
		return err
	}
	config, err := r.loadConfig()
	if err != nil {
		return err
	}
	dir, err := r.Directory()
	if err != nil {
		return err
	}

	bundle, err := dir.FetchInvite(ctx, code)
	if err != nil {
		return err
	}
	record := bundle.Invite
	if record.InviterID != config.User.UserID {
		return fmt.Errorf("invite was issued by someone else: %w", kerrors.ErrInviteMismatch)
	}
	if err := dir.UpdateInviteStatus(ctx, code, directory.StatusCancelled); err != nil {
		return err
	}

	r.audit(config, audit.Entry{
		Operation:  audit.OpInviteCancel,
		FamilyID:   record.FamilyID,
		FamilyName: record.FamilyName,
		Method:     MethodOf(record).Name(),
		InviteCode: code,
	})
	return nil
}
