package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/backup"
	"github.com/PolarWolf314/whanau/internal/configs"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/familykey"
)

// CreateFamilyOptions configures the create-family workflow.
type CreateFamilyOptions struct {
	Name string
}

type CreateFamilyResult struct {
	FamilyID string
	Name     string
	State    State
}

// CreateFamily generates a family key, stores it on this device and records
// the user as the family's admin.
//
// Returns ErrFamilyExists if the user already belongs to a family with that name.
// Returns ErrCryptoUnavailable if no key can be generated.
func (r *Runtime) CreateFamily(_ context.Context, opts CreateFamilyOptions) (*CreateFamilyResult, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, fmt.Errorf("family name must not be empty: %w", kerrors.ErrInvalidFamilyID)
	}

	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	if _, exists := config.FamilyIDByName(name); exists {
		return nil, fmt.Errorf("%q: %w", name, kerrors.ErrFamilyExists)
	}

	familyID := configs.GenerateFamilyID()
	state, err := Advance(stateOf(config, familyID), StateFamilyCreated)
	if err != nil {
		return nil, err
	}

	_, encoded, err := familykey.GenerateFamilyKey()
	if err != nil {
		return nil, err
	}
	if _, err := r.FamilyKeys.InitializeFamilyKey(encoded, familyID); err != nil {
		return nil, err
	}

	config.AddFamily(familyID, name, configs.RoleAdmin, r.now())
	if err := r.saveConfig(config); err != nil {
		r.forgetFamilyKey(familyID)
		return nil, err
	}

	r.Log.Debugf("Created family %s (%s)", name, familyID)
	r.audit(config, audit.Entry{Operation: audit.OpFamilyCreate, FamilyID: familyID, FamilyName: name})
	return &CreateFamilyResult{FamilyID: familyID, Name: name, State: state}, nil
}

// FamilyInfo summarizes one family membership on this device.
type FamilyInfo struct {
	FamilyID      string
	Name          string
	Role          string
	JoinedAt      time.Time
	InvitesIssued int
	State         State

	// HasKey is false when the family key was cleared or lost with a device key change.
	HasKey bool
}

// ListFamilies returns the user's families, oldest first.
func (r *Runtime) ListFamilies(_ context.Context) ([]FamilyInfo, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	stored, err := r.FamilyKeys.FamilyIDs()
	if err != nil {
		return nil, err
	}
	hasKey := make(map[string]bool, len(stored))
	for _, id := range stored {
		hasKey[id] = true
	}

	families := make([]FamilyInfo, 0, len(config.Families))
	for _, id := range config.SortedFamilyIDs() {
		m := config.Families[id]
		families = append(families, FamilyInfo{
			FamilyID:      id,
			Name:          m.Name,
			Role:          m.Role,
			JoinedAt:      m.JoinedAt,
			InvitesIssued: m.InvitesIssued,
			State:         stateOf(config, id),
			HasKey:        hasKey[id],
		})
	}
	return families, nil
}

// ExportFamilyKeyOptions configures the export workflow.
type ExportFamilyKeyOptions struct {
	// Family is a family id or name.
	Family string

	// Words also renders the key as a 24 word recovery phrase.
	Words bool
}

type ExportFamilyKeyResult struct {
	FamilyID string
	Name     string

	// Key is the base64 family key. It must only be shown to the user.
	Key string

	// Words is Key as a recovery phrase, set when requested.
	Words string
}

// ExportFamilyKey returns a family's key so it can be backed up or moved to
// another of the user's devices.
//
// Returns ErrFamilyNotFound if the user does not belong to the family.
// Returns ErrFamilyKeyNotFound if the key is no longer on this device.
func (r *Runtime) ExportFamilyKey(_ context.Context, opts ExportFamilyKeyOptions) (*ExportFamilyKeyResult, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	familyID, m, err := r.resolveFamily(config, opts.Family)
	if err != nil {
		return nil, err
	}

	encoded, err := r.FamilyKeys.GetFamilyKeyBase64(familyID)
	if err != nil {
		return nil, err
	}
	if encoded == "" {
		return nil, fmt.Errorf("family %s: %w", m.Name, kerrors.ErrFamilyKeyNotFound)
	}

	result := &ExportFamilyKeyResult{FamilyID: familyID, Name: m.Name, Key: encoded}
	if opts.Words {
		if result.Words, err = backup.Words(encoded); err != nil {
			return nil, err
		}
	}

	r.audit(config, audit.Entry{Operation: audit.OpFamilyExport, FamilyID: familyID, FamilyName: m.Name})
	return result, nil
}

// ImportFamilyKeyOptions configures the import workflow.
type ImportFamilyKeyOptions struct {
	// Family is a family id or name the user already belongs to.
	Family string

	// Key is a base64 family key or a recovery phrase.
	Key string
}

// ImportFamilyKey restores a previously exported key for a family the user
// belongs to, for example after a device key change cleared it.
//
// Returns ErrInvalidKeyMaterial if the key is not a valid family key.
func (r *Runtime) ImportFamilyKey(_ context.Context, opts ImportFamilyKeyOptions) (*FamilyInfo, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	familyID, m, err := r.resolveFamily(config, opts.Family)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(opts.Key)
	if backup.IsWords(key) {
		if key, err = backup.FromWords(key); err != nil {
			return nil, err
		}
	}
	if _, err := r.FamilyKeys.InitializeFamilyKey(key, familyID); err != nil {
		return nil, err
	}
	r.audit(config, audit.Entry{Operation: audit.OpFamilyImport, FamilyID: familyID, FamilyName: m.Name})

	return &FamilyInfo{
		FamilyID:      familyID,
		Name:          m.Name,
		Role:          m.Role,
		JoinedAt:      m.JoinedAt,
		InvitesIssued: m.InvitesIssued,
		State:         stateOf(config, familyID),
		HasKey:        true,
	}, nil
}

// ClearFamilyOptions configures the clear workflow.
type ClearFamilyOptions struct {
	// Family is a family id or name. Ignored when All is set.
	Family string

	All bool
}

type ClearFamilyResult struct {
	Cleared []string
}

// ClearFamily removes family keys and memberships from this device.
//
// Returns ErrFamilyNotFound if a single family is named and the user does not belong to it.
func (r *Runtime) ClearFamily(_ context.Context, opts ClearFamilyOptions) (*ClearFamilyResult, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	var ids []string
	if opts.All {
		ids = config.SortedFamilyIDs()
		if err := r.FamilyKeys.ClearFamilyKey(""); err != nil {
			return nil, err
		}
	} else {
		familyID, _, err := r.resolveFamily(config, opts.Family)
		if err != nil {
			return nil, err
		}
		if err := r.FamilyKeys.ClearFamilyKey(familyID); err != nil {
			return nil, err
		}
		ids = []string{familyID}
	}

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, config.Families[id].Name)
		config.RemoveFamily(id)
	}
	if err := r.saveConfig(config); err != nil {
		return nil, err
	}

	entry := audit.Entry{Operation: audit.OpFamilyClear, Count: len(ids)}
	if !opts.All {
		entry.FamilyID = ids[0]
		entry.FamilyName = names[0]
	}
	r.audit(config, entry)
	return &ClearFamilyResult{Cleared: names}, nil
}

func (r *Runtime) forgetFamilyKey(familyID string) {
	if err := r.FamilyKeys.ClearFamilyKey(familyID); err != nil {
		r.Log.Warnf("Failed to roll back family key for %s: %v", familyID, err)
	}
}
