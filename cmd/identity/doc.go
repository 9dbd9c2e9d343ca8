// Package identity owns Chirp's user principals: accounts, roles and
// password credentials.
//
// Sessions and access tokens live in cmd/internal/auth/session; revocation
// state lives in cmd/internal/revocation. This package only answers "who is
// this user and may they log in".
package identity
