package revocation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ReasonInvalidToken is the re-auth reason when the credential itself is
// rejected.
const ReasonInvalidToken = "invalid_token"

// ErrCredentialRejected is returned by AuthTimeSource when the presented
// credential is malformed, expired or signed by someone else.
var ErrCredentialRejected = errors.New("credential rejected")

// ErrNoAuthTime is returned by AuthTimeSource.LastAuthTime when the user
// has no sessions at all.
var ErrNoAuthTime = errors.New("no auth time")

// AuthTimeSource answers "when did this user last log in" from the identity
// provider's own state, not from claims a client could have cached.
type AuthTimeSource interface {
	// CredentialAuthTime verifies credential and returns its owner and the
	// auth time stored for its session.
	CredentialAuthTime(ctx context.Context, credential string, now time.Time) (userID string, authTime time.Time, err error)

	// LastAuthTime returns the newest auth time across userID's sessions.
	LastAuthTime(ctx context.Context, userID string) (time.Time, error)
}

// CheckResult is the answer to a session check.
type CheckResult struct {
	RequiresReauth bool
	Reason         string
}

// Checker is the on-demand counterpart of the client-side enforcer.
type Checker struct {
	records RecordStore
	auth    AuthTimeSource
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewChecker builds a Checker. metrics and logger may be nil.
func NewChecker(records RecordStore, auth AuthTimeSource, metrics *Metrics, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{records: records, auth: auth, metrics: metrics, logger: logger, now: time.Now}
}

// CheckSession reports whether userID must re-authenticate.
//
// Re-auth is required only when the record has a cutoff and the
// provider-confirmed auth time is at or before it. With a credential the
// auth time of that credential's session is used; without one the user's
// most recent login is used.
func (c *Checker) CheckSession(ctx context.Context, userID, credential string) (CheckResult, error) {
	const op = "revocation.CheckSession"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CheckResult{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "User ID required"}
	}

	rec, err := c.records.Read(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		c.metrics.check("no_record")
		return CheckResult{}, nil
	}
	if err != nil {
		c.metrics.check("error")
		return CheckResult{}, OpError{Op: op, Kind: ErrInternal, Msg: "record read failed", Err: err}
	}

	cutoff, ok := rec.Cutoff()
	if !ok {
		c.metrics.check("no_cutoff")
		return CheckResult{}, nil
	}

	var authTime time.Time
	if strings.TrimSpace(credential) != "" {
		owner, at, err := c.auth.CredentialAuthTime(ctx, credential, c.now())
		if errors.Is(err, ErrCredentialRejected) || (err == nil && owner != userID) {
			c.metrics.check("reauth")
			return CheckResult{RequiresReauth: true, Reason: ReasonInvalidToken}, nil
		}
		if err != nil {
			c.metrics.check("error")
			return CheckResult{}, OpError{Op: op, Kind: ErrInternal, Msg: "auth time lookup failed", Err: err}
		}
		authTime = at
	} else {
		at, err := c.auth.LastAuthTime(ctx, userID)
		if errors.Is(err, ErrNoAuthTime) {
			c.metrics.check("reauth")
			return CheckResult{RequiresReauth: true, Reason: ReasonSessionRevoked}, nil
		}
		if err != nil {
			c.metrics.check("error")
			return CheckResult{}, OpError{Op: op, Kind: ErrInternal, Msg: "auth time lookup failed", Err: err}
		}
		authTime = at
	}

	if authTime.Unix() <= cutoff {
		c.metrics.check("reauth")
		c.logger.Info("revocation.check.reauth", "user_id", userID, "auth_time", authTime.Unix(), "cutoff", cutoff)
		return CheckResult{RequiresReauth: true, Reason: ReasonSessionRevoked}, nil
	}
	c.metrics.check("valid")
	return CheckResult{}, nil
}
