// Package codec encrypts chat messages and attachments under a family key.
//
// Messages are AES-256-GCM sealed with a fresh 96-bit IV and transported as
// base64(IV || ciphertext || tag). Files carry their original MIME type
// inside the ciphertext, so relays only ever see application/octet-stream.
//
// Batch variants fan out across goroutines and fail as a whole if any
// element fails; outputs keep the order of the inputs.
package codec
