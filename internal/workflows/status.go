package workflows

import (
	"context"
	"errors"

	"github.com/PolarWolf314/whanau/internal/configs"
	"github.com/PolarWolf314/whanau/internal/directory"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
)

// StatusResult is a snapshot of this device.
type StatusResult struct {
	Keys     *KeyStatus
	Families []FamilyInfo

	// PendingInvites maps family ids the user administers to their pending invites.
	PendingInvites map[string][]directory.InviteRecord

	Authenticated bool

	// DirectoryConfigured is false when neither the config nor a shared
	// folder names a directory. DirectoryError holds any other failure to
	// reach it.
	DirectoryConfigured bool
	DirectoryError      error

	// Wiped reports that a device key change cleared stored keys on open.
	Wiped bool
}

// Status reports registration, families, session and pending invites.
// An unreachable directory does not fail the status; it is reported instead.
func (r *Runtime) Status(ctx context.Context) (*StatusResult, error) {
	keys, err := r.KeyInfo(ctx)
	if err != nil {
		return nil, err
	}
	families, err := r.ListFamilies(ctx)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Keys:           keys,
		Families:       families,
		PendingInvites: make(map[string][]directory.InviteRecord),
		Wiped:          r.Wiped(),
	}
	if _, err := r.Sessions.Load(); err == nil {
		result.Authenticated = true
	}

	dir, err := r.Directory()
	if errors.Is(err, kerrors.ErrDirectoryNotConfigured) {
		return result, nil
	}
	result.DirectoryConfigured = true
	if err != nil {
		result.DirectoryError = err
		return result, nil
	}

	for _, f := range families {
		if f.Role != configs.RoleAdmin {
			continue
		}
		invites, err := dir.ListInvites(ctx, f.FamilyID)
		if err != nil {
			result.DirectoryError = err
			break
		}
		for _, inv := range invites {
			if inv.Status == directory.StatusPending {
				result.PendingInvites[f.FamilyID] = append(result.PendingInvites[f.FamilyID], inv)
			}
		}
	}
	return result, nil
}
