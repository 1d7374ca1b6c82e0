package workflows

import (
	"fmt"

	"github.com/PolarWolf314/whanau/internal/configs"
	kerrors "github.com/PolarWolf314/whanau/internal/errors"
)

// State is a device's membership state for one family.
type State string

const (
	StateNoFamily       State = "NoFamily"
	StateFamilyCreated  State = "FamilyCreated"
	StateInviteIssued   State = "InviteIssued"
	StateInviteAccepted State = "InviteAccepted"
	StateMember         State = "Member"
)

// transitions lists the states reachable from each state. An admin may keep
// issuing invites; an invitee goes straight from NoFamily to InviteAccepted.
var transitions = map[State][]State{
	StateNoFamily:       {StateFamilyCreated, StateInviteAccepted},
	StateFamilyCreated:  {StateInviteIssued},
	StateInviteIssued:   {StateInviteIssued, StateInviteAccepted},
	StateInviteAccepted: {StateMember},
	StateMember:         {},
}

// Advance moves from one state to the next.
// Returns ErrInvalidTransition if the step is out of order.
func Advance(from, to State) (State, error) {
	for _, next := range transitions[from] {
		if next == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("%s -> %s: %w", from, to, kerrors.ErrInvalidTransition)
}

// stateOf derives the device's state for a family from its membership record.
func stateOf(config *configs.UserConfig, familyID string) State {
	m, ok := config.Families[familyID]
	if !ok {
		return StateNoFamily
	}
	if m.Role != configs.RoleAdmin {
		return StateMember
	}
	if m.InvitesIssued > 0 {
		return StateInviteIssued
	}
	return StateFamilyCreated
}
