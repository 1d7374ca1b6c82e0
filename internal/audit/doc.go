// Package audit records what this device did with family keys.
//
// Entries are JSON Lines appended to audit.jsonl in the data directory:
//
//	{"ts":"2026-06-01T09:00:00.000000Z","user":"aroha@example.com","user_id":"...","op":"invite-issue","family_id":"...","method":"targeted","invitee":"tama@example.com"}
//
// Logging is best effort. The log holds identifiers only; invite packages,
// family keys and private keys are never written to it.
package audit
