// Package securitylog is the append-only per-user record of security events:
// revocations, logins, logouts and refresh-token reuse.
package securitylog

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"chirp/cmd/identity/ids"
)

// Action names a security event.
type Action string

const (
	ActionRevokeAllSessions           Action = "REVOKE_ALL_SESSIONS"
	ActionRevokeAllSessionsRecordOnly Action = "REVOKE_ALL_SESSIONS_RECORD_ONLY"
	ActionLoginSuccess                Action = "auth.login.success"
	ActionLoginFailed                 Action = "auth.login.failed"
	ActionLogout                      Action = "auth.logout"
	ActionRefreshReuse                Action = "auth.refresh.reuse_detected"
)

// ErrInvalidEntry is returned for entries missing a user or action.
var ErrInvalidEntry = errors.New("securitylog: invalid entry")

// Entry is one immutable log row.
type Entry struct {
	ID        string
	UserID    string
	Action    Action
	Timestamp time.Time

	ActorID   *string
	SessionID *string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Log appends and lists entries. There is no update or delete.
type Log interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	// List returns the newest entries for userID first, at most limit.
	List(ctx context.Context, userID string, limit int) ([]Entry, error)
	// CountSince counts userID's entries of action at or after since.
	CountSince(ctx context.Context, userID string, action Action, since time.Time) (int, error)
}

func prepare(e Entry, now time.Time) (Entry, error) {
	e.UserID = strings.TrimSpace(e.UserID)
	if e.UserID == "" || strings.TrimSpace(string(e.Action)) == "" {
		return Entry{}, ErrInvalidEntry
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.ID == "" {
		id, err := ids.NewULID(e.Timestamp)
		if err != nil {
			return Entry{}, err
		}
		e.ID = id
	}
	return e, nil
}

// Recorder appends entries without failing the caller; write errors are logged.
type Recorder struct {
	log    Log
	logger *slog.Logger
}

// NewRecorder wraps l. A nil l makes every Record a no-op.
func NewRecorder(l Log, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: l, logger: logger}
}

// Record appends e and reports whether it was stored.
func (r *Recorder) Record(ctx context.Context, e Entry) bool {
	if r == nil || r.log == nil {
		return false
	}
	if _, err := r.log.Append(ctx, e); err != nil {
		r.logger.Error("securitylog.append.fail", "err", err, "action", string(e.Action), "user_id", e.UserID)
		return false
	}
	return true
}

// CountSince forwards to the wrapped log. Without one it reports zero.
func (r *Recorder) CountSince(ctx context.Context, userID string, action Action, since time.Time) (int, error) {
	if r == nil || r.log == nil {
		return 0, nil
	}
	return r.log.CountSince(ctx, userID, action, since)
}
