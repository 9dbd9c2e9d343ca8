// Package session is Chirp's identity provider for sessions.
//
// It issues PASETO v4.public access tokens paired with opaque refresh tokens,
// rotates refresh tokens with reuse detection, and invalidates sessions one at
// a time or all at once for a user. Every session carries auth_time, the
// instant of the interactive login that started its rotation chain; refreshed
// tokens keep the original auth_time so revocation cutoffs can be compared
// against it.
//
// Refresh tokens are stored hashed (see cmd/security/token).
package session
