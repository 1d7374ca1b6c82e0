package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PolarWolf314/whanau/internal/configs"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
	"github.com/PolarWolf314/whanau/internal/keypair"
	"github.com/PolarWolf314/whanau/internal/utils"
	"github.com/google/uuid"
)

// FileDirectory keeps the directory in a folder:
//
//	<root>/public_keys/<user id>.pub
//	<root>/users.toml
//	<root>/invites/<invite code>.toml
//
// It serializes access within one process only.
type FileDirectory struct {
	root string
	now  func() time.Time
	mu   sync.Mutex
}

type usersFile struct {
	Users map[string]UserKey `toml:"users"`
}

// NewFileDirectory uses root as the directory folder, creating it if needed.
func NewFileDirectory(root string) (*FileDirectory, error) {
	if root == "" {
		return nil, fmt.Errorf("no directory folder configured: %w", kerrors.ErrDirectoryNotConfigured)
	}
	for _, dir := range []string{root, filepath.Join(root, "public_keys"), filepath.Join(root, "invites")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &FileDirectory{root: root, now: time.Now}, nil
}

// WithClock replaces the clock used to expire invites.
func (d *FileDirectory) WithClock(now func() time.Time) *FileDirectory {
	d.now = now
	return d
}

func (d *FileDirectory) Root() string {
	return d.root
}

func (d *FileDirectory) publicKeyPath(userID string) string {
	return filepath.Join(d.root, "public_keys", userID+".pub")
}

func (d *FileDirectory) usersPath() string {
	return filepath.Join(d.root, "users.toml")
}

func (d *FileDirectory) invitePath(code string) string {
	return filepath.Join(d.root, "invites", code+".toml")
}

func (d *FileDirectory) loadUsers() (*usersFile, error) {
	users := &usersFile{Users: make(map[string]UserKey)}
	if _, err := os.Stat(d.usersPath()); os.IsNotExist(err) {
		return users, nil
	}
	if err := configs.LoadTOML(d.usersPath(), users); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	if users.Users == nil {
		users.Users = make(map[string]UserKey)
	}
	return users, nil
}

func (d *FileDirectory) PublishPublicKey(_ context.Context, key UserKey) error {
	if err := validateUserKey(&key); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.loadUsers()
	if err != nil {
		return err
	}

	if key.RegisteredAt.IsZero() {
		key.RegisteredAt = d.now().UTC()
	}
	if err := os.WriteFile(d.publicKeyPath(key.UserID), []byte(key.PublicKey+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	users.Users[key.UserID] = key
	if err := configs.SaveTOML(d.usersPath(), users); err != nil {
		return fmt.Errorf("failed to save users: %w", err)
	}
	return nil
}

func (d *FileDirectory) LookupPublicKey(_ context.Context, email string) (*UserKey, error) {
	email = utils.NormalizeEmail(email)

	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.loadUsers()
	if err != nil {
		return nil, err
	}

	// The most recent registration for an email wins.
	var found *UserKey
	for _, u := range users.Users {
		if u.Email != email {
			continue
		}
		if found == nil || u.RegisteredAt.After(found.RegisteredAt) {
			found = &u
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no public key registered for %s: %w", email, kerrors.ErrPublicKeyNotFound)
	}

	pub, err := d.readPublicKey(found.UserID)
	if err != nil {
		return nil, err
	}
	found.PublicKey = pub
	return found, nil
}

func (d *FileDirectory) readPublicKey(userID string) (string, error) {
	data, err := os.ReadFile(d.publicKeyPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("public key file for %s is missing: %w", userID, kerrors.ErrPublicKeyNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read public key: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (d *FileDirectory) SubmitInvite(_ context.Context, invite InviteRecord) error {
	if err := validateInvite(&invite); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.invitePath(invite.InviteCode)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("invite %s already exists: %w", invite.InviteCode, kerrors.ErrInviteNotPending)
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = d.now().UTC()
	}
	invite.Status = StatusPending
	invite.InviteeEmail = utils.NormalizeEmail(invite.InviteeEmail)

	if err := configs.SaveTOML(path, invite); err != nil {
		return fmt.Errorf("failed to save invite: %w", err)
	}
	return nil
}

func (d *FileDirectory) loadInvite(code string) (*InviteRecord, error) {
	path := d.invitePath(code)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("invite %s: %w", code, kerrors.ErrInviteNotFound)
	}
	var invite InviteRecord
	if err := configs.LoadTOML(path, &invite); err != nil {
		return nil, fmt.Errorf("failed to load invite %s: %w", code, err)
	}
	return &invite, nil
}

// expire marks a lapsed pending invite expired on disk.
func (d *FileDirectory) expire(invite *InviteRecord) error {
	if !invite.Expired(d.now()) {
		return nil
	}
	invite.Status = StatusExpired
	return configs.SaveTOML(d.invitePath(invite.InviteCode), invite)
}

func (d *FileDirectory) FetchInvite(_ context.Context, inviteCode string) (*Bundle, error) {
	if err := familykey.ValidateInviteCode(inviteCode); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	invite, err := d.loadInvite(inviteCode)
	if err != nil {
		return nil, err
	}
	if err := d.expire(invite); err != nil {
		return nil, fmt.Errorf("failed to expire invite: %w", err)
	}

	pub, err := d.readPublicKey(invite.InviterID)
	if err != nil {
		return nil, fmt.Errorf("inviter key: %w", err)
	}
	return &Bundle{Invite: *invite, InviterPublicKey: pub}, nil
}

func (d *FileDirectory) UpdateInviteStatus(_ context.Context, inviteCode string, status Status) error {
	if !status.Valid() || status == StatusPending {
		return fmt.Errorf("cannot set invite status to %q: %w", status, kerrors.ErrInvalidTransition)
	}
	if err := familykey.ValidateInviteCode(inviteCode); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	invite, err := d.loadInvite(inviteCode)
	if err != nil {
		return err
	}
	if err := d.expire(invite); err != nil {
		return fmt.Errorf("failed to expire invite: %w", err)
	}
	if err := checkPending(invite); err != nil {
		return err
	}

	invite.Status = status
	if err := configs.SaveTOML(d.invitePath(inviteCode), invite); err != nil {
		return fmt.Errorf("failed to save invite: %w", err)
	}
	return nil
}

func (d *FileDirectory) ListInvites(_ context.Context, familyID string) ([]InviteRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(d.root, "invites", "*.toml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}

	invites := make([]InviteRecord, 0)
	for _, path := range paths {
		code := strings.TrimSuffix(filepath.Base(path), ".toml")
		invite, err := d.loadInvite(code)
		if err != nil {
			return nil, err
		}
		if familyID != "" && invite.FamilyID != familyID {
			continue
		}
		if err := d.expire(invite); err != nil {
			return nil, fmt.Errorf("failed to expire invite: %w", err)
		}
		invites = append(invites, *invite)
	}

	sort.Slice(invites, func(i, j int) bool {
		return invites[i].CreatedAt.Before(invites[j].CreatedAt)
	})
	return invites, nil
}

// validateUserID accepts only the UUIDs configs generates, since ids name
// files under the directory root.
func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id must not be empty: %w", kerrors.ErrInvalidUserID)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%q is not a user id: %w", userID, kerrors.ErrInvalidUserID)
	}
	return nil
}

func validateUserKey(key *UserKey) error {
	if err := validateUserID(key.UserID); err != nil {
		return err
	}
	key.Email = utils.NormalizeEmail(key.Email)
	if !utils.IsValidEmail(key.Email) {
		return fmt.Errorf("%q is not a valid email: %w", key.Email, kerrors.ErrInvalidEmail)
	}
	if _, err := keypair.DecodePublicKey(key.PublicKey); err != nil {
		return err
	}
	return nil
}

func validateInvite(invite *InviteRecord) error {
	if err := familykey.ValidateInviteCode(invite.InviteCode); err != nil {
		return err
	}
	if invite.FamilyID == "" {
		return fmt.Errorf("invite has no family: %w", kerrors.ErrInvalidFamilyID)
	}
	if err := validateUserID(invite.InviterID); err != nil {
		return fmt.Errorf("inviter: %w", err)
	}
	// A packaged code carries the key out of band, so its record has no
	// recipient and no ciphertext.
	if invite.Packaged() {
		return nil
	}
	if !utils.IsValidEmail(utils.NormalizeEmail(invite.InviteeEmail)) {
		return fmt.Errorf("%q is not a valid email: %w", invite.InviteeEmail, kerrors.ErrInvalidEmail)
	}
	if invite.EncryptedFamilyKey == "" || invite.Nonce == "" {
		return fmt.Errorf("invite carries no encrypted family key: %w", kerrors.ErrInvalidKeyMaterial)
	}
	return nil
}

func checkPending(invite *InviteRecord) error {
	switch invite.Status {
	case StatusPending:
		return nil
	case StatusExpired:
		return fmt.Errorf("invite expired at %s: %w", invite.ExpiresAt.Format(time.RFC3339), kerrors.ErrInviteExpired)
	default:
		return fmt.Errorf("invite is %s: %w", invite.Status, kerrors.ErrInviteNotPending)
	}
}
