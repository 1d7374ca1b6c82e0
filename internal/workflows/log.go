package workflows

import (
	"context"
	"time"

	"github.com/PolarWolf314/whanau/internal/audit"
)

// AuditLogOptions configures the log workflow.
type AuditLogOptions struct {
	Operation string

	// Family is a family id or name. Families the user has left still match by id.
	Family string

	Since time.Time

	// Limit keeps only the most recent entries. Zero keeps all.
	Limit int

	// Reverse puts the newest entry first.
	Reverse bool
}

// AuditLog reads this device's audit log.
func (r *Runtime) AuditLog(_ context.Context, opts AuditLogOptions) ([]audit.Entry, error) {
	entries, err := audit.ReadEntries(r.AuditPath)
	if err != nil {
		return nil, err
	}

	familyID := opts.Family
	if familyID != "" {
		if config, err := r.loadConfig(); err == nil {
			if id, ok := config.ResolveFamily(familyID); ok {
				familyID = id
			}
		}
	}

	entries = audit.Filter{Operation: opts.Operation, FamilyID: familyID, Since: opts.Since}.Apply(entries)
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[len(entries)-opts.Limit:]
	}
	if opts.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	return entries, nil
}
