// Package workflows contains the business logic behind whanau's commands.
//
// Each workflow is a method on Runtime taking an Options struct and returning
// a Result struct, so commands stay thin: they parse flags, call one
// workflow, and render the result. Workflows never print.
//
// A Runtime ties together the device's sealed private-key store, the sealed
// family-key store, the invite encryptor, the public directory and the
// session store. Runtime.Open builds one from the user's settings.
//
// Membership moves through the states defined in state.go. The two invite
// protocols share one code path and are selected by an InviteMethod:
//
//	PackagedCode{}                     CODE:KEY shared out of band
//	TargetedEncrypted{InviteeEmail: e} family key sealed to e's public key
//
// Every workflow that changes state appends to the audit log.
package workflows
