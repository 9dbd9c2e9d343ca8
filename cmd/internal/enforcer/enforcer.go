// Package enforcer is the client-side half of session revocation: one loop
// per signed-in client that compares the credential's auth_time with the
// user's revocation cutoff and signs the client out when the credential is
// older.
package enforcer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the polling interval when none is configured.
const DefaultInterval = 60 * time.Second

// Reasons carried to the re-authentication entry point.
const (
	ReasonSessionRevoked = "session_revoked"
	ReasonInvalidToken   = "invalid_token"
)

// ErrCredentialRejected marks a failure caused by the credential itself
// (malformed, expired, refused by the provider). Any other error from a
// RecordSource or ClaimsSource is treated as transient.
var ErrCredentialRejected = errors.New("enforcer: credential rejected")

// State is the enforcer's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
	StateChecking
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateChecking:
		return "checking"
	case StateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// RecordSource reads the signed-in user's cutoff. ok is false when the user
// has never been revoked.
type RecordSource interface {
	TokensValidAfter(ctx context.Context) (cutoff int64, ok bool, err error)
}

// ClaimsSource returns the auth_time embedded in the current credential.
type ClaimsSource interface {
	AuthTime(ctx context.Context) (time.Time, error)
}

// Terminator performs the forced sign-out. It is called at most once per
// Start and must clear the credential and close subscriptions together.
type Terminator interface {
	Terminate(ctx context.Context, reason string)
}

// Decision is the outcome of one comparison.
type Decision struct {
	Invalidate bool
	Reason     string
}

// Evaluate compares a credential's auth time with the cutoff. A credential
// issued exactly at the cutoff is valid.
func Evaluate(authTime int64, cutoff int64, hasCutoff bool) Decision {
	if !hasCutoff {
		return Decision{}
	}
	if authTime < cutoff {
		return Decision{Invalidate: true, Reason: ReasonSessionRevoked}
	}
	return Decision{}
}

// Config configures an Enforcer.
type Config struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Enforcer runs the periodic check. It is safe for concurrent use; the
// intended shape is one per process, started at login and stopped at logout.
type Enforcer struct {
	records RecordSource
	claims  ClaimsSource
	term    Terminator

	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	reason string

	// checkMu serializes checks so a tick and CheckNow never overlap.
	checkMu sync.Mutex
}

// New builds an Enforcer. Interval <= 0 selects DefaultInterval.
func New(records RecordSource, claims ClaimsSource, term Terminator, cfg Config) *Enforcer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Enforcer{
		records:  records,
		claims:   claims,
		term:     term,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}
}

// State returns the current state.
func (e *Enforcer) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reason returns the invalidation reason once Invalidated.
func (e *Enforcer) Reason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Interval returns the configured polling interval.
func (e *Enforcer) Interval() time.Duration { return e.interval }

// Start begins a new signed-in session: one immediate check, then one per
// interval. Calling Start while running restarts the loop.
func (e *Enforcer) Start(ctx context.Context) {
	e.Stop()

	e.mu.Lock()
	e.gen++
	gen := e.gen
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = StateActive
	e.reason = ""
	done := e.done
	e.mu.Unlock()

	go e.loop(loopCtx, gen, done)
}

// Stop cancels the timer without waiting for the loop, so a Terminator may
// call it. An in-flight check completes but its result is discarded. Stop
// does not move an Invalidated enforcer back to Idle.
func (e *Enforcer) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.gen++
	if e.state != StateInvalidated {
		e.state = StateIdle
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Done is closed when the most recently started loop exits. nil before the
// first Start.
func (e *Enforcer) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Enforcer) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	if e.check(ctx, gen) {
		return
	}

	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if e.check(ctx, gen) {
				return
			}
		}
	}
}

// CheckNow runs one check outside the timer, for example when the server
// closes a realtime subscription. It returns the state after the check.
func (e *Enforcer) CheckNow(ctx context.Context) State {
	e.mu.Lock()
	gen := e.gen
	running := e.state == StateActive || e.state == StateChecking
	e.mu.Unlock()

	if running {
		e.check(ctx, gen)
	}
	return e.State()
}

// check performs one Active -> Checking -> (Active | Invalidated) step and
// reports whether the loop should exit.
func (e *Enforcer) check(ctx context.Context, gen uint64) bool {
	e.checkMu.Lock()
	defer e.checkMu.Unlock()

	e.mu.Lock()
	if e.gen != gen || e.state != StateActive {
		exit := e.gen != gen || e.state == StateInvalidated
		e.mu.Unlock()
		return exit
	}
	e.state = StateChecking
	e.mu.Unlock()

	decision, err := e.evaluate(ctx)

	e.mu.Lock()
	if e.gen != gen || e.state != StateChecking {
		e.mu.Unlock()
		e.logger.Debug("enforcer.check.discarded")
		return true
	}

	switch {
	case err != nil && errors.Is(err, ErrCredentialRejected):
		decision = Decision{Invalidate: true, Reason: ReasonInvalidToken}
	case err != nil:
		e.state = StateActive
		e.mu.Unlock()
		e.logger.Warn("enforcer.check.transient", "err", err)
		return false
	}

	if !decision.Invalidate {
		e.state = StateActive
		e.mu.Unlock()
		return false
	}

	e.state = StateInvalidated
	e.reason = decision.Reason
	e.mu.Unlock()

	e.logger.Info("enforcer.invalidated", "reason", decision.Reason)
	e.term.Terminate(context.WithoutCancel(ctx), decision.Reason)
	return true
}

func (e *Enforcer) evaluate(ctx context.Context) (Decision, error) {
	cutoff, ok, err := e.records.TokensValidAfter(ctx)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, nil
	}

	authTime, err := e.claims.AuthTime(ctx)
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(authTime.Unix(), cutoff, true), nil
}
