package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/configs"
	"github.com/PolarWolf314/whanau/internal/directory"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
	"github.com/PolarWolf314/whanau/internal/fingerprint"
	"github.com/PolarWolf314/whanau/internal/invite"
	"github.com/PolarWolf314/whanau/internal/keystore"
	"github.com/PolarWolf314/whanau/internal/kvstore"
	logger "github.com/PolarWolf314/whanau/internal/logging"
	"github.com/PolarWolf314/whanau/internal/sealing"
	"github.com/PolarWolf314/whanau/internal/session"
	"github.com/PolarWolf314/whanau/internal/utils"
)

// DefaultInviteTTL is how long an invite stays pending when no TTL is given.
const DefaultInviteTTL = 7 * 24 * time.Hour

// RuntimeOptions configures Open.
type RuntimeOptions struct {
	// Settings locates the config file and data directory.
	// Defaults to configs.UserWhanauSettings.
	Settings *configs.UserSettings

	// Environment supplies the device fingerprint the local stores are sealed under.
	// Defaults to fingerprint.SystemEnvironment.
	Environment fingerprint.Environment

	// Sessions stores the access token. Defaults to a file keyring in the data directory.
	Sessions session.Store

	// Prompt asks for the session keyring password when WHANAU_KEYRING_PASSWORD is unset.
	Prompt func(string) (string, error)

	// Directory overrides the directory named in the user config.
	Directory directory.Directory

	// HTTP tunes the client used when the config names a server URL.
	HTTP directory.HTTPOptions

	// Now defaults to time.Now.
	Now func() time.Time

	Log logger.Logger
}

// Runtime is everything a workflow needs on this device.
type Runtime struct {
	Keys       *keystore.Store
	FamilyKeys *familykey.Manager
	Invites    *invite.Encryptor
	Sessions   session.Store

	ConfigPath string
	AuditPath  string
	Log        logger.Logger

	now       func() time.Time
	bolt      *kvstore.Bolt
	directory directory.Directory
	dirErr    error
	wiped     bool
}

// Open builds a Runtime from the user's settings.
//
// The private-key store is opened eagerly so that a changed device key is
// detected, and the family keys sealed under the old key are cleared, before
// any workflow reads them.
//
// Returns ErrEnvironmentUnsupported if the local stores cannot be opened.
func Open(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	settings := opts.Settings
	if settings == nil {
		settings = configs.UserWhanauSettings
	}
	env := opts.Environment
	if env == nil {
		env = fingerprint.SystemEnvironment{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(settings.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w: %v", kerrors.ErrEnvironmentUnsupported, err)
	}

	sealer, err := sealing.New(fingerprint.DeriveKey(env))
	if err != nil {
		return nil, fmt.Errorf("deriving device key: %w", err)
	}
	bolt, err := kvstore.OpenBolt(settings.FamilyKeysPath())
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		FamilyKeys: familykey.NewManager(kvstore.NewSealed(bolt, sealer)),
		ConfigPath: settings.ConfigPath(),
		AuditPath:  settings.AuditLogPath(),
		Log:        opts.Log,
		now:        now,
		bolt:       bolt,
	}
	r.Keys = keystore.New(keystore.Options{
		Path:         settings.KeystorePath(),
		Environment:  env,
		OnTransition: r.onKeyTransition,
	})
	r.Invites = invite.NewEncryptor(r.Keys)

	if err := r.Keys.Open(ctx); err != nil {
		r.Close()
		return nil, err
	}

	r.Sessions = opts.Sessions
	if r.Sessions == nil {
		store, err := session.OpenFileKeyring(settings.SessionDir(), opts.Prompt)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Sessions = store
	}

	if opts.Directory != nil {
		r.directory = opts.Directory
	} else {
		r.directory, r.dirErr = r.resolveDirectory(opts.HTTP)
	}

	return r, nil
}

// Close releases the local stores.
func (r *Runtime) Close() error {
	var firstErr error
	if r.Keys != nil {
		if err := r.Keys.Close(); err != nil {
			firstErr = err
		}
	}
	if r.bolt != nil {
		if err := r.bolt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Directory returns the configured directory.
// Returns ErrDirectoryNotConfigured if the user config names none and no
// shared .whanau folder was found.
func (r *Runtime) Directory() (directory.Directory, error) {
	if r.directory == nil {
		if r.dirErr != nil {
			return nil, r.dirErr
		}
		return nil, kerrors.ErrDirectoryNotConfigured
	}
	return r.directory, nil
}

// Wiped reports whether opening the store discarded data sealed under an old device key.
func (r *Runtime) Wiped() bool {
	return r.wiped
}

func (r *Runtime) onKeyTransition(t keystore.Transition) {
	r.Log.Debugf("Key store transition: %s", t)
	if t != keystore.TransitionWipeAndReinitialize {
		return
	}
	r.wiped = true
	r.Log.WarnfAlways("This device's storage key changed; stored keys were cleared. Register again and ask to be re-invited.")
	if err := r.FamilyKeys.ClearFamilyKey(""); err != nil {
		r.Log.Warnf("Failed to clear family keys: %v", err)
	}
}

func (r *Runtime) resolveDirectory(opts directory.HTTPOptions) (directory.Directory, error) {
	config, err := configs.LoadUserConfigFrom(r.ConfigPath)
	if err != nil {
		return nil, err
	}

	if config.Server.URL != "" {
		r.Log.Debugf("Using directory server at %s", config.Server.URL)
		return directory.NewHTTPDirectory(config.Server.URL, r.token, opts)
	}
	if config.Server.Directory != "" {
		r.Log.Debugf("Using shared directory at %s", config.Server.Directory)
		return directory.NewFileDirectory(config.Server.Directory)
	}

	root, err := utils.FindSharedRoot()
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, kerrors.ErrDirectoryNotConfigured
	}
	r.Log.Debugf("Using shared directory found at %s", root)
	return directory.NewFileDirectory(filepath.Join(root, utils.SharedDirName))
}

func (r *Runtime) token(_ context.Context) (string, error) {
	return session.Token(r.Sessions)
}

// requireSession gates operations that reveal plaintext.
func (r *Runtime) requireSession() error {
	if _, err := r.Sessions.Load(); err != nil {
		return err
	}
	return nil
}

func (r *Runtime) loadConfig() (*configs.UserConfig, error) {
	config, err := configs.EnsureUserConfig(r.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading user config: %w", err)
	}
	return config, nil
}

func (r *Runtime) saveConfig(config *configs.UserConfig) error {
	return configs.SaveUserConfigTo(r.ConfigPath, config)
}

// resolveFamily finds a family the user belongs to by id or name.
func (r *Runtime) resolveFamily(config *configs.UserConfig, idOrName string) (string, configs.FamilyMembership, error) {
	id, ok := config.ResolveFamily(idOrName)
	if !ok {
		return "", configs.FamilyMembership{}, fmt.Errorf("%q: %w", idOrName, kerrors.ErrFamilyNotFound)
	}
	return id, config.Families[id], nil
}

// familyKey returns the family's stored key.
func (r *Runtime) familyKey(familyID string) (*familykey.Key, error) {
	key, err := r.FamilyKeys.GetFamilyKey(familyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("family %s: %w", familyID, kerrors.ErrFamilyKeyNotFound)
	}
	return key, nil
}

func (r *Runtime) audit(config *configs.UserConfig, entry audit.Entry) {
	entry.Timestamp = r.now().UTC().Format(audit.TimestampFormat)
	if config != nil {
		entry.User = config.User.Email
		entry.UserID = config.User.UserID
		if entry.Device == "" {
			entry.Device = config.User.Device
		}
	}
	audit.Log(r.AuditPath, entry)
}
