package revocation

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission_denied")
	ErrInternal         = errors.New("internal")
	ErrInvalidInput     = errors.New("invalid_input")
	ErrRecordNotFound   = errors.New("record_not_found")
)

// OpError carries the operation and kind of a failure. Msg is safe to show
// to the caller; Err holds the underlying cause for logs.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := e.Op + ": " + e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s (%v)", s, e.Err)
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message returns the caller-facing message for err, or a generic one.
func Message(err error) string {
	var oe OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, ErrPermissionDenied):
		return "not allowed to revoke sessions for this user"
	default:
		return "failed to revoke sessions"
	}
}
