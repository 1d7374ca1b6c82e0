package workflows

import "github.com/PolarWolf314/whanau/internal/directory"

// Invite method names, as recorded in the audit log.
const (
	MethodPackaged = "packaged"
	MethodTargeted = "targeted"
)

// InviteMethod selects how a family key reaches an invitee.
// It is one of PackagedCode or TargetedEncrypted.
type InviteMethod interface {
	Name() string
	inviteMethod()
}

// PackagedCode shares CODE:KEY out of band. The directory only ever sees CODE.
type PackagedCode struct{}

// TargetedEncrypted seals the family key to a registered invitee's public key.
// The directory stores only the ciphertext and nonce.
type TargetedEncrypted struct {
	InviteeEmail string
}

func (PackagedCode) Name() string      { return MethodPackaged }
func (TargetedEncrypted) Name() string { return MethodTargeted }

func (PackagedCode) inviteMethod()      {}
func (TargetedEncrypted) inviteMethod() {}

// MethodOf reports which method produced an invite record.
func MethodOf(record directory.InviteRecord) InviteMethod {
	if record.Packaged() {
		return PackagedCode{}
	}
	return TargetedEncrypted{InviteeEmail: record.InviteeEmail}
}
