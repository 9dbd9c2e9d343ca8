// Package token hashes opaque refresh tokens for server-side storage.
//
// A Hasher with a key produces HMAC-SHA256(token, key); without one it falls
// back to SHA-256(token), which is only acceptable for local development.
// Output is always 64 hex characters.
//
// Environment:
//   - CHIRP_TOKEN_HMAC_KEY: enables keyed mode.
package token
