package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput    = errors.New("invalid_input")
	ErrNotFound        = errors.New("not_found")
	ErrConflict        = errors.New("conflict")
	ErrBadCredentials  = errors.New("bad_credentials")
	ErrInvalidHash     = errors.New("invalid password hash")
	ErrPasswordTooWeak = errors.New("password does not meet policy")
)
