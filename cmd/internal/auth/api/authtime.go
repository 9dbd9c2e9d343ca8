package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/revocation"
)

// sessionAuthTime answers revocation checks from the session store, which is
// the identity provider's own record of when each session chain logged in.
type sessionAuthTime struct {
	sessions *session.Service
}

// NewAuthTimeSource adapts s for revocation.Checker.
func NewAuthTimeSource(s *session.Service) revocation.AuthTimeSource {
	return sessionAuthTime{sessions: s}
}

func (a sessionAuthTime) CredentialAuthTime(ctx context.Context, credential string, now time.Time) (string, time.Time, error) {
	uid, at, err := a.sessions.SessionAuthTime(ctx, credential, now)
	if err != nil {
		if session.IsCredentialRejected(err) {
			return "", time.Time{}, fmt.Errorf("%w: %w", revocation.ErrCredentialRejected, err)
		}
		return "", time.Time{}, err
	}
	return uid, at, nil
}

func (a sessionAuthTime) LastAuthTime(ctx context.Context, userID string) (time.Time, error) {
	at, err := a.sessions.LastAuthTime(ctx, userID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return time.Time{}, revocation.ErrNoAuthTime
	}
	return at, err
}
