package enforcer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRecords struct {
	mu     sync.Mutex
	cutoff int64
	ok     bool
	err    error
	reads  int
}

func (f *fakeRecords) TokensValidAfter(context.Context) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.cutoff, f.ok, f.err
}

func (f *fakeRecords) set(cutoff int64, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff, f.ok, f.err = cutoff, ok, err
}

func (f *fakeRecords) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeClaims struct {
	mu   sync.Mutex
	auth int64
	err  error
}

func (f *fakeClaims) AuthTime(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	return time.Unix(f.auth, 0), nil
}

func (f *fakeClaims) set(auth int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth, f.err = auth, err
}

type fakeTerminator struct {
	calls  atomic.Int32
	reason atomic.Value
	done   chan struct{}
}

func newFakeTerminator() *fakeTerminator {
	return &fakeTerminator{done: make(chan struct{}, 8)}
}

func (f *fakeTerminator) Terminate(_ context.Context, reason string) {
	f.calls.Add(1)
	f.reason.Store(reason)
	f.done <- struct{}{}
}

func (f *fakeTerminator) lastReason() string {
	r, _ := f.reason.Load().(string)
	return r
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newManual(rec RecordSource, cl ClaimsSource, term Terminator) *Enforcer {
	// A long interval keeps the ticker out of the way; checks are driven by
	// Start's immediate check and CheckNow.
	return New(rec, cl, term, Config{Interval: time.Hour, Logger: discard()})
}

func waitState(t *testing.T, e *Enforcer, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", e.State(), want)
}

func waitReads(t *testing.T, f *fakeRecords, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("reads = %d, want >= %d", f.count(), n)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		authTime  int64
		cutoff    int64
		hasCutoff bool
		want      bool
	}{
		{"no cutoff", 1, 0, false, false},
		{"no cutoff ignores old credential", 0, 1 << 40, false, false},
		{"older than cutoff", 1000, 1050, true, true},
		{"equal to cutoff is valid", 1050, 1050, true, false},
		{"newer than cutoff", 1070, 1050, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.authTime, tt.cutoff, tt.hasCutoff)
			if d.Invalidate != tt.want {
				t.Fatalf("Invalidate = %v, want %v", d.Invalidate, tt.want)
			}
			if d.Invalidate && d.Reason != ReasonSessionRevoked {
				t.Fatalf("Reason = %q", d.Reason)
			}
		})
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	e := New(&fakeRecords{}, &fakeClaims{}, newFakeTerminator(), Config{})
	if e.Interval() != DefaultInterval {
		t.Fatalf("Interval = %s, want %s", e.Interval(), DefaultInterval)
	}
	if e.State() != StateIdle {
		t.Fatalf("State = %s, want idle", e.State())
	}
}

func TestEnforcer_RevocationScenario(t *testing.T) {
	rec := &fakeRecords{}
	cl := &fakeClaims{auth: 1000}
	term := newFakeTerminator()
	e := newManual(rec, cl, term)
	ctx := context.Background()

	// Login at t=1000, never revoked.
	e.Start(ctx)
	waitReads(t, rec, 1)
	waitState(t, e, StateActive)

	// Admin revokes at t=1050; tick at t=1060.
	rec.set(1050, true, nil)
	if got := e.CheckNow(ctx); got != StateInvalidated {
		t.Fatalf("after revoke: state = %s, want invalidated", got)
	}
	<-term.done
	if term.lastReason() != ReasonSessionRevoked {
		t.Fatalf("reason = %q", term.lastReason())
	}
	if e.Reason() != ReasonSessionRevoked {
		t.Fatalf("Reason() = %q", e.Reason())
	}

	// Further checks do nothing once invalidated.
	e.CheckNow(ctx)
	if n := term.calls.Load(); n != 1 {
		t.Fatalf("Terminate calls = %d, want 1", n)
	}

	// Login again at t=1070; tick at t=1080.
	e.Stop()
	cl.set(1070, nil)
	reads := rec.count()
	e.Start(ctx)
	waitReads(t, rec, reads+1)
	waitState(t, e, StateActive)
	if got := e.CheckNow(ctx); got != StateActive {
		t.Fatalf("after re-login: state = %s, want active", got)
	}
	if n := term.calls.Load(); n != 1 {
		t.Fatalf("Terminate calls = %d, want 1", n)
	}
	e.Stop()
}

func TestEnforcer_ImmediateCheckOnStart(t *testing.T) {
	rec := &fakeRecords{cutoff: 2000, ok: true}
	cl := &fakeClaims{auth: 1999}
	term := newFakeTerminator()
	e := newManual(rec, cl, term)

	e.Start(context.Background())
	select {
	case <-term.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stale credential not invalidated at start")
	}
	waitState(t, e, StateInvalidated)
	<-e.Done()
}

func TestEnforcer_EqualityStaysActive(t *testing.T) {
	rec := &fakeRecords{cutoff: 1050, ok: true}
	cl := &fakeClaims{auth: 1050}
	term := newFakeTerminator()
	e := newManual(rec, cl, term)

	e.Start(context.Background())
	defer e.Stop()
	waitReads(t, rec, 1)
	if got := e.CheckNow(context.Background()); got != StateActive {
		t.Fatalf("state = %s, want active", got)
	}
	if term.calls.Load() != 0 {
		t.Fatal("terminated on equal auth time")
	}
}

func TestEnforcer_MissingCutoffNeverInvalidates(t *testing.T) {
	rec := &fakeRecords{}
	cl := &fakeClaims{auth: 0}
	term := newFakeTerminator()
	e := newManual(rec, cl, term)

	e.Start(context.Background())
	defer e.Stop()
	waitReads(t, rec, 1)
	for i := 0; i < 3; i++ {
		if got := e.CheckNow(context.Background()); got != StateActive {
			t.Fatalf("state = %s, want active", got)
		}
	}
	if term.calls.Load() != 0 {
		t.Fatal("terminated without cutoff")
	}
}

func TestEnforcer_TransientErrorFailsOpen(t *testing.T) {
	rec := &fakeRecords{err: errors.New("network down")}
	cl := &fakeClaims{auth: 1000}
	term := newFakeTerminator()
	e := New(rec, cl, term, Config{Interval: 20 * time.Millisecond, Logger: discard()})

	e.Start(context.Background())
	defer e.Stop()

	// Several ticks worth of failed reads: still Active and still retrying.
	waitReads(t, rec, 3)
	if st := e.State(); st == StateInvalidated {
		t.Fatalf("state = %s after transient errors", st)
	}
	if term.calls.Load() != 0 {
		t.Fatal("terminated on transient error")
	}

	// Recovery: the next tick sees the revocation.
	rec.set(1050, true, nil)
	select {
	case <-term.done:
	case <-time.After(2 * time.Second):
		t.Fatal("revocation not picked up after recovery")
	}
	if term.lastReason() != ReasonSessionRevoked {
		t.Fatalf("reason = %q", term.lastReason())
	}
}

func TestEnforcer_ClaimTransientErrorFailsOpen(t *testing.T) {
	rec := &fakeRecords{cutoff: 1050, ok: true}
	cl := &fakeClaims{err: context.DeadlineExceeded}
	term := newFakeTerminator()
	e := newManual(rec, cl, term)

	e.Start(context.Background())
	defer e.Stop()
	waitReads(t, rec, 1)
	if got := e.CheckNow(context.Background()); got != StateActive {
		t.Fatalf("state = %s, want active", got)
	}
}

func TestEnforcer_CredentialRejectedInvalidates(t *testing.T) {
	tests := []struct {
		name string
		rec  *fakeRecords
		cl   *fakeClaims
	}{
		{
			name: "record read rejected",
			rec:  &fakeRecords{err: errors.Join(ErrCredentialRejected, errors.New("401 unauthorized"))},
			cl:   &fakeClaims{auth: 1000},
		},
		{
			name: "claims unparseable",
			rec:  &fakeRecords{cutoff: 1, ok: true},
			cl:   &fakeClaims{err: ErrCredentialRejected},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := newFakeTerminator()
			e := newManual(tt.rec, tt.cl, term)
			e.Start(context.Background())
			select {
			case <-term.done:
			case <-time.After(2 * time.Second):
				t.Fatal("not invalidated")
			}
			if term.lastReason() != ReasonInvalidToken {
				t.Fatalf("reason = %q, want %q", term.lastReason(), ReasonInvalidToken)
			}
			waitState(t, e, StateInvalidated)
		})
	}
}

// blockingRecords holds the first read until released.
type blockingRecords struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRecords) TokensValidAfter(ctx context.Context) (int64, bool, error) {
	b.entered <- struct{}{}
	<-b.release
	return 2000, true, nil
}

func TestEnforcer_StopDiscardsInFlightResult(t *testing.T) {
	rec := &blockingRecords{entered: make(chan struct{}, 1), release: make(chan struct{})}
	cl := &fakeClaims{auth: 1000}
	term := newFakeTerminator()
	e := newManual(rec, cl, term)

	e.Start(context.Background())
	<-rec.entered
	if st := e.State(); st != StateChecking {
		t.Fatalf("state = %s, want checking", st)
	}

	e.Stop()
	close(rec.release)
	<-e.Done()

	if st := e.State(); st != StateIdle {
		t.Fatalf("state = %s, want idle", st)
	}
	if term.calls.Load() != 0 {
		t.Fatal("result of a stopped check was applied")
	}
}

type stoppingTerminator struct {
	e    *Enforcer
	done chan struct{}
}

func (s *stoppingTerminator) Terminate(context.Context, string) {
	s.e.Stop()
	close(s.done)
}

func TestEnforcer_TerminatorMayStop(t *testing.T) {
	rec := &fakeRecords{cutoff: 2, ok: true}
	cl := &fakeClaims{auth: 1}
	term := &stoppingTerminator{done: make(chan struct{})}
	e := newManual(rec, cl, term)
	term.e = e

	e.Start(context.Background())
	select {
	case <-term.done:
	case <-time.After(2 * time.Second):
		t.Fatal("terminator did not return")
	}
	<-e.Done()
	if st := e.State(); st != StateInvalidated {
		t.Fatalf("state = %s, want invalidated", st)
	}
}

func TestEnforcer_CheckNowWhenIdle(t *testing.T) {
	rec := &fakeRecords{cutoff: 2, ok: true}
	e := newManual(rec, &fakeClaims{auth: 1}, newFakeTerminator())
	if got := e.CheckNow(context.Background()); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if rec.count() != 0 {
		t.Fatal("idle enforcer read the record")
	}
}
