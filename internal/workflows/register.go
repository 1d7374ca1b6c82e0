package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/directory"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/keypair"
	"github.com/PolarWolf314/whanau/internal/utils"
)

// RegisterOptions configures the register workflow.
type RegisterOptions struct {
	// Email identifies the user to inviters. Required on first registration.
	Email string

	// Device names this device. Defaults to a sanitized hostname.
	Device string

	// Force replaces an existing keypair. Family keys already on the device
	// are kept, but pending targeted invites sealed to the old key are lost.
	Force bool
}

// RegisterResult contains the outcome of a register operation.
type RegisterResult struct {
	UserID      string
	Email       string
	Device      string
	PublicKey   string
	Fingerprint string

	// Published is false when no directory is configured. The keypair still
	// works for packaged codes.
	Published bool

	Replaced bool
}

// Register creates the user's keypair, seals the private key into the
// device store and publishes the public key to the directory.
//
// If publishing fails the previous private key, if any, is restored, so a
// failed registration leaves the device as it was.
//
// Returns ErrInvalidEmail if the email is malformed.
// Returns ErrAlreadyRegistered if a keypair exists and Force is not set.
func (r *Runtime) Register(ctx context.Context, opts RegisterOptions) (*RegisterResult, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	email := utils.NormalizeEmail(opts.Email)
	if email == "" {
		email = config.User.Email
	}
	if !utils.IsValidEmail(email) {
		return nil, fmt.Errorf("%q: %w", opts.Email, kerrors.ErrInvalidEmail)
	}

	device := config.User.Device
	if strings.TrimSpace(opts.Device) != "" {
		device = utils.SanitizeDeviceName(opts.Device)
	}
	if device == "" {
		device = utils.DeviceName()
	}

	userID := config.User.UserID
	previous, err := r.Keys.GetPrivateKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer clear(previous)
	if previous != nil && !opts.Force {
		return nil, kerrors.ErrAlreadyRegistered
	}

	kp, err := keypair.Generate()
	if err != nil {
		return nil, err
	}
	defer keypair.Zero(kp.SecretKey)

	if err := r.Keys.StorePrivateKey(ctx, userID, kp.SecretKey[:]); err != nil {
		return nil, err
	}
	r.Log.Debugf("Stored private key for %s", userID)

	result := &RegisterResult{
		UserID:      userID,
		Email:       email,
		Device:      device,
		PublicKey:   kp.PublicKey,
		Fingerprint: keypair.Fingerprint(kp.PublicKey),
		Replaced:    previous != nil,
	}

	dir, err := r.Directory()
	switch {
	case errors.Is(err, kerrors.ErrDirectoryNotConfigured):
		r.Log.Infof("No directory configured; public key not published")
	case err != nil:
		r.restorePrivateKey(ctx, userID, previous)
		return nil, err
	default:
		key := directory.UserKey{
			UserID:       userID,
			Email:        email,
			PublicKey:    kp.PublicKey,
			Device:       device,
			RegisteredAt: r.now().UTC(),
		}
		if err := dir.PublishPublicKey(ctx, key); err != nil {
			r.restorePrivateKey(ctx, userID, previous)
			return nil, fmt.Errorf("publishing public key: %w", err)
		}
		result.Published = true
	}

	config.User.Email = email
	config.User.Device = device
	if err := r.saveConfig(config); err != nil {
		return nil, err
	}

	r.audit(config, audit.Entry{Operation: audit.OpRegister, Device: device})
	return result, nil
}

func (r *Runtime) restorePrivateKey(ctx context.Context, userID string, previous []byte) {
	var err error
	if previous == nil {
		err = r.Keys.DeletePrivateKey(ctx, userID)
	} else {
		err = r.Keys.StorePrivateKey(ctx, userID, previous)
	}
	if err != nil {
		r.Log.Warnf("Failed to roll back private key: %v", err)
	}
}

// KeyStatus describes this device's registration.
type KeyStatus struct {
	UserID      string
	Email       string
	Device      string
	Registered  bool
	PublicKey   string
	Fingerprint string
}

// KeyInfo reports whether this device holds a private key and its public half.
func (r *Runtime) KeyInfo(ctx context.Context) (*KeyStatus, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	status := &KeyStatus{
		UserID: config.User.UserID,
		Email:  config.User.Email,
		Device: config.User.Device,
	}

	secret, err := r.Keys.GetPrivateKey(ctx, config.User.UserID)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return status, nil
	}
	defer clear(secret)

	pub, err := keypair.PublicKeyFromSecret(secret)
	if err != nil {
		return nil, err
	}
	status.Registered = true
	status.PublicKey = pub
	status.Fingerprint = keypair.Fingerprint(pub)
	return status, nil
}
