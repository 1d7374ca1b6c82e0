// Package familykey manages the symmetric key shared by every member of a family.
//
// A family key is a 256-bit AES-GCM key. It is generated by the family admin,
// is extractable so it can be handed to new members, and is stored locally
// per family under "familyKey:<familyID>" so a user in several families never
// mixes their keys.
//
// # Invite Codes
//
// An invite code is FAMILY- followed by 16 symbols from a 33-symbol alphabet.
// The bare code is the only part the server ever sees. A packaged invite
// appends the base64 family key after a single colon:
//
//	FAMILY-ABC123XYZ98765QR:<base64 family key>
//
// and is shared between people out-of-band (QR code, link, in person).
package familykey
