package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/PolarWolf314/whanau/internal/audit"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/session"
)

// LoginOptions configures the login workflow.
type LoginOptions struct {
	// Token is the access token issued by the directory server.
	Token string
}

type LoginResult struct {
	Email string
}

// Login saves an access token for this device. Decrypting invites, messages
// and files requires a saved token.
//
// Returns ErrNotAuthenticated if the token is empty.
func (r *Runtime) Login(_ context.Context, opts LoginOptions) (*LoginResult, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("access token must not be empty: %w", kerrors.ErrNotAuthenticated)
	}

	if err := r.Sessions.Save(session.Session{Token: token, Email: config.User.Email, SavedAt: r.now().UTC()}); err != nil {
		return nil, err
	}

	r.audit(config, audit.Entry{Operation: audit.OpLogin})
	return &LoginResult{Email: config.User.Email}, nil
}

type LogoutResult struct {
	// FamilyKeysCleared counts the family keys removed from this device.
	FamilyKeysCleared int
}

// Logout forgets the access token and every family key on this device.
// Family memberships stay in the config so the user can be re-invited.
func (r *Runtime) Logout(_ context.Context) (*LogoutResult, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	ids, err := r.FamilyKeys.FamilyIDs()
	if err != nil {
		return nil, err
	}
	if err := r.FamilyKeys.ClearFamilyKey(""); err != nil {
		return nil, err
	}
	if err := r.Sessions.Clear(); err != nil {
		return nil, err
	}

	r.audit(config, audit.Entry{Operation: audit.OpLogout, Count: len(ids)})
	return &LogoutResult{FamilyKeysCleared: len(ids)}, nil
}
