package revocation

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"chirp/cmd/internal/securitylog"
)

// Invalidator is the identity-provider half of a revocation: after it
// returns, no existing session of userID can refresh or pass live
// validation.
type Invalidator interface {
	InvalidateUser(ctx context.Context, now time.Time, userID string) error
}

// SubscriptionCloser tears down a user's live realtime connections.
type SubscriptionCloser interface {
	DisconnectUser(userID, reason string) int
}

// ReasonSessionRevoked is sent to clients whose subscriptions are closed by
// a revocation and is also the re-auth redirect reason.
const ReasonSessionRevoked = "session_revoked"

// Caller is a verified identity. Build it only from a validated credential.
type Caller struct {
	UserID    string
	SessionID string
	Admin     bool

	IP        net.IP
	UserAgent string
}

// Result is returned to the caller of RevokeAllSessions.
type Result struct {
	Success        bool
	Message        string
	RevocationTime int64

	// RecordWritten is false when the provider invalidation succeeded but
	// the durable record could not be updated.
	RecordWritten bool
}

// Issuer performs revoke-all-sessions. It holds no per-call state and is
// safe for concurrent use.
type Issuer struct {
	provider Invalidator
	records  RecordStore

	audit   *securitylog.Recorder
	subs    SubscriptionCloser
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithSecurityLog appends a REVOKE_ALL_SESSIONS entry per call.
func WithSecurityLog(r *securitylog.Recorder) IssuerOption {
	return func(i *Issuer) { i.audit = r }
}

// WithSubscriptions closes the target's realtime connections after revoking.
func WithSubscriptions(s SubscriptionCloser) IssuerOption {
	return func(i *Issuer) { i.subs = s }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer returns an Issuer that invalidates at provider and records the
// cutoff in records.
func NewIssuer(provider Invalidator, records RecordStore, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		provider: provider,
		records:  records,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// RevokeAllSessions invalidates every credential targetUserID holds as of now.
//
// An empty target means the caller. Revoking another user requires an
// admin caller. The provider is invalidated first; if that fails nothing
// else is written and ErrInternal is returned. A failed record write after
// a successful invalidation is logged and reported through
// Result.RecordWritten, not as an error.
func (i *Issuer) RevokeAllSessions(ctx context.Context, caller *Caller, targetUserID string) (Result, error) {
	const op = "revocation.RevokeAllSessions"

	if caller == nil || strings.TrimSpace(caller.UserID) == "" {
		i.metrics.revocation("unauthenticated")
		return Result{}, OpError{Op: op, Kind: ErrUnauthenticated, Msg: "authentication required"}
	}

	target := strings.TrimSpace(targetUserID)
	if target == "" {
		target = caller.UserID
	}
	if target != caller.UserID && !caller.Admin {
		i.metrics.revocation("denied")
		i.logger.Warn("revocation.issue.denied", "actor_id", caller.UserID, "target_id", target)
		return Result{}, OpError{Op: op, Kind: ErrPermissionDenied, Msg: "not allowed to revoke sessions for this user"}
	}

	now := i.now().UTC()

	if err := i.provider.InvalidateUser(ctx, now, target); err != nil {
		i.metrics.revocation("provider_failed")
		i.logger.Error("revocation.issue.provider.fail", "err", err, "target_id", target, "actor_id", caller.UserID)
		return Result{}, OpError{Op: op, Kind: ErrInternal, Msg: "failed to revoke sessions", Err: err}
	}

	revocationTime := now.Unix()
	res := Result{
		Success:        true,
		Message:        "All sessions have been revoked",
		RevocationTime: revocationTime,
		RecordWritten:  true,
	}

	if err := i.records.Write(ctx, target, UpdateAt(now)); err != nil {
		res.RecordWritten = false
		i.metrics.revocation("record_failed")
		i.logger.Error("revocation.issue.record.fail",
			"err", err,
			"target_id", target,
			"revocation_time", revocationTime,
		)
	} else {
		i.metrics.revocation("ok")
	}

	actor := caller.UserID
	i.audit.Record(ctx, securitylog.Entry{
		UserID:    target,
		Action:    securitylog.ActionRevokeAllSessions,
		Timestamp: now,
		ActorID:   &actor,
		IP:        caller.IP,
		UserAgent: caller.UserAgent,
		Meta: map[string]any{
			"revocation_time": revocationTime,
			"record_written":  res.RecordWritten,
		},
	})

	if i.subs != nil {
		n := i.subs.DisconnectUser(target, ReasonSessionRevoked)
		i.logger.Info("revocation.issue.ok", "target_id", target, "actor_id", actor, "revocation_time", revocationTime, "closed_conns", n)
	} else {
		i.logger.Info("revocation.issue.ok", "target_id", target, "actor_id", actor, "revocation_time", revocationTime)
	}

	return res, nil
}

// WriteRecordOnly stamps the cutoff without touching the identity provider.
// Existing sessions keep refreshing until their clients poll the record;
// this exists for offline operator use, never as a request path.
func WriteRecordOnly(ctx context.Context, records RecordStore, audit *securitylog.Recorder, userID string, now time.Time) (int64, error) {
	const op = "revocation.WriteRecordOnly"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, OpError{Op: op, Kind: ErrInvalidInput, Msg: "user id required"}
	}
	now = now.UTC()
	if err := records.Write(ctx, userID, UpdateAt(now)); err != nil {
		return 0, OpError{Op: op, Kind: ErrInternal, Msg: "record write failed", Err: err}
	}
	audit.Record(ctx, securitylog.Entry{
		UserID:    userID,
		Action:    securitylog.ActionRevokeAllSessionsRecordOnly,
		Timestamp: now,
		Meta:      map[string]any{"revocation_time": now.Unix()},
	})
	return now.Unix(), nil
}
