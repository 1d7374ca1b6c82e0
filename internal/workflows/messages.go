package workflows

import (
	"context"

	"github.com/PolarWolf314/whanau/internal/audit"
	"github.com/PolarWolf314/whanau/internal/codec"
)

// MessagesOptions configures the message workflows.
type MessagesOptions struct {
	// Family is a family id or name.
	Family string

	Messages []string
}

type MessagesResult struct {
	FamilyID   string
	FamilyName string

	// Messages holds the results in input order.
	Messages []string
}

// EncryptMessages encrypts each message under the family key.
//
// Returns ErrFamilyNotFound if the user does not belong to the family.
// Returns ErrFamilyKeyNotFound if the family key is not on this device.
func (r *Runtime) EncryptMessages(ctx context.Context, opts MessagesOptions) (*MessagesResult, error) {
	return r.runMessages(ctx, opts, false)
}

// DecryptMessages decrypts each message with the family key. Any message
// that fails to authenticate fails the whole batch.
//
// Returns ErrNotAuthenticated if the device has no saved session.
// Returns ErrDecryptionFailed if any message was tampered with or sealed under another key.
func (r *Runtime) DecryptMessages(ctx context.Context, opts MessagesOptions) (*MessagesResult, error) {
	if err := r.requireSession(); err != nil {
		return nil, err
	}
	return r.runMessages(ctx, opts, true)
}

func (r *Runtime) runMessages(ctx context.Context, opts MessagesOptions, decrypt bool) (*MessagesResult, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	familyID, m, err := r.resolveFamily(config, opts.Family)
	if err != nil {
		return nil, err
	}
	key, err := r.familyKey(familyID)
	if err != nil {
		return nil, err
	}

	op, run := audit.OpEncrypt, codec.EncryptMessages
	if decrypt {
		op, run = audit.OpDecrypt, codec.DecryptMessages
	}
	out, err := run(ctx, opts.Messages, key)
	if err != nil {
		return nil, err
	}

	r.audit(config, audit.Entry{Operation: op, FamilyID: familyID, FamilyName: m.Name, Count: len(out)})
	return &MessagesResult{FamilyID: familyID, FamilyName: m.Name, Messages: out}, nil
}
