package session

import (
	"context"
	"net"
	"strings"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps client input to a Platform, defaulting to unknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client device that owns a session.
type DeviceContext struct {
	Platform   Platform
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

// Row mirrors a chirp.sessions row.
type Row struct {
	ID                  string
	UserID              string
	RefreshTokenHash    string
	AuthTime            time.Time
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	RevocationReason    *string
	Platform            Platform
}

// Active reports whether the row may still be used at now.
func (r Row) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ReplacedBySessionID == nil && r.ExpiresAt.After(now)
}

// NewSession is the input for creating a session row.
type NewSession struct {
	UserID      string
	AuthTime    time.Time
	Device      DeviceContext
	RefreshHash string
	ExpiresAt   time.Time
}

// Rotation is the input for an atomic refresh rotation.
type Rotation struct {
	OldRefreshHash string
	NewRefreshHash string
	NewExpiresAt   time.Time
	Device         DeviceContext
}

// Revocation reasons stored on session rows.
const (
	ReasonLogout        = "logout"
	ReasonRevokeAll     = "revoke_all"
	ReasonRotation      = "rotation"
	ReasonReuseDetected = "reuse_detected"
)

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, now time.Time, in NewSession) (sessionID string, err error)
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate atomically swaps a refresh token for a new session that inherits
	// user and auth_time. It returns the old row and the new session id.
	//
	// Presenting an already-rotated token revokes every session of the user
	// and returns ErrRefreshReuseDetected together with the old row.
	Rotate(ctx context.Context, now time.Time, in Rotation) (old Row, newSessionID string, err error)

	Touch(ctx context.Context, now time.Time, sessionID string) error
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes every session of userID that is not yet revoked and
	// returns how many rows changed.
	RevokeAll(ctx context.Context, now time.Time, userID string, reason string) (int64, error)

	// LastAuthTime returns the newest auth_time across all of userID's
	// sessions, revoked or not. ErrSessionNotFound when there are none.
	LastAuthTime(ctx context.Context, userID string) (time.Time, error)
}

// checkRotatable applies the rotation rules shared by every Store.
func checkRotatable(row Row, now time.Time) error {
	if !row.ExpiresAt.After(now) {
		return ErrSessionExpired
	}
	if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
		return ErrRefreshReuseDetected
	}
	if row.RevokedAt != nil {
		return ErrSessionRevoked
	}
	return nil
}
