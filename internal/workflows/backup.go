package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/backup"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
)

// BackupFamilyKeyOptions configures the backup workflow.
type BackupFamilyKeyOptions struct {
	// Family is a family id or name.
	Family string

	// Path is where the backup file is written.
	Path string

	Passphrase string

	// Force overwrites an existing file at Path.
	Force bool
}

type BackupFamilyKeyResult struct {
	FamilyID string
	Name     string
	Path     string
}

// BackupFamilyKey writes the family key to a passphrase protected file.
//
// Returns ErrPassphraseRequired if Passphrase is empty.
// Returns ErrFamilyKeyNotFound if the key is no longer on this device.
func (r *Runtime) BackupFamilyKey(_ context.Context, opts BackupFamilyKeyOptions) (*BackupFamilyKeyResult, error) {
	if opts.Passphrase == "" {
		return nil, kerrors.ErrPassphraseRequired
	}
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

	if !opts.Force {
		if _, err := os.Stat(opts.Path); err == nil {
			return nil, fmt.Errorf("%s already exists, use --force to overwrite it", opts.Path)
		}
	}

	data, err := backup.Seal(backup.File{FamilyID: familyID, Name: m.Name, Key: encoded}, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(opts.Path, data, 0600); err != nil {
		return nil, fmt.Errorf("writing backup: %w", err)
	}

	r.audit(config, audit.Entry{Operation: audit.OpFamilyBackup, FamilyID: familyID, FamilyName: m.Name})
	return &BackupFamilyKeyResult{FamilyID: familyID, Name: m.Name, Path: opts.Path}, nil
}

// RestoreFamilyKeyOptions configures the restore workflow.
type RestoreFamilyKeyOptions struct {
	Path       string
	Passphrase string
}

// RestoreFamilyKey opens a backup file and stores its key for the family it
// names. The user must already belong to that family on this device.
//
// Returns ErrFileNotFound if there is no file at Path.
// Returns ErrDecryptionFailed if the passphrase is wrong.
// Returns ErrFamilyNotFound if the backup is for a family this device does not know.
func (r *Runtime) RestoreFamilyKey(_ context.Context, opts RestoreFamilyKeyOptions) (*FamilyInfo, error) {
	data, err := os.ReadFile(opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", opts.Path, kerrors.ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup: %w", err)
	}
	f, err := backup.Open(data, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	m, ok := config.Families[f.FamilyID]
	if !ok {
		return nil, fmt.Errorf("backup is for %s (%s): %w", f.Name, f.FamilyID, kerrors.ErrFamilyNotFound)
	}
	if _, err := r.FamilyKeys.InitializeFamilyKey(f.Key, f.FamilyID); err != nil {
		return nil, err
	}
	r.audit(config, audit.Entry{Operation: audit.OpFamilyRestore, FamilyID: f.FamilyID, FamilyName: m.Name})

	return &FamilyInfo{
		FamilyID:      f.FamilyID,
		Name:          m.Name,
		Role:          m.Role,
		JoinedAt:      m.JoinedAt,
		InvitesIssued: m.InvitesIssued,
		State:         stateOf(config, f.FamilyID),
		HasKey:        true,
	}, nil
}
