// Package keystore keeps each user's box secret key on this device.
//
// Keys live in a SQLite database with one row per user id. Each value is
// the base64 secret key sealed with AES-256-GCM under a key derived from the
// device fingerprint (see package fingerprint).
//
// # Key Derivation Changes
//
// The store records a check value for the key it was written under. When a
// later open derives a different key, the store moves through
// KeyDerivationChanged and WipeAndReinitialize: every private key is deleted
// and the new check value recorded. The affected user must register again
// and be re-invited to their families.
//
// # Shared Handle
//
// The database is opened on first use. Concurrent first callers share one
// in-flight open; the store never holds two connections to the same file.
package keystore
