package revocation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chirp/cmd/internal/securitylog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeProvider) InvalidateUser(_ context.Context, _ time.Time, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return f.err
}

type failingRecords struct{ RecordStore }

func (failingRecords) Write(context.Context, string, Update) error { return errors.New("db down") }

type fakeSubs struct {
	closed map[string]string
}

func (f *fakeSubs) DisconnectUser(userID, reason string) int {
	if f.closed == nil {
		f.closed = map[string]string{}
	}
	f.closed[userID] = reason
	return 1
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type issuerFixture struct {
	provider *fakeProvider
	records  *MemoryRecordStore
	log      *securitylog.MemoryLog
	subs     *fakeSubs
	metrics  *Metrics
	clock    time.Time
	issuer   *Issuer
}

func newIssuerFixture(t *testing.T) *issuerFixture {
	t.Helper()
	f := &issuerFixture{
		provider: &fakeProvider{},
		records:  NewMemoryRecordStore(),
		log:      securitylog.NewMemoryLog(),
		subs:     &fakeSubs{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
		clock:    time.Unix(1050, 0),
	}
	f.issuer = NewIssuer(f.provider, f.records,
		WithSecurityLog(securitylog.NewRecorder(f.log, discardLogger())),
		WithSubscriptions(f.subs),
		WithMetrics(f.metrics),
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return f.clock }),
	)
	return f
}

func TestIssuer_RevokeSelf(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	res, err := f.issuer.RevokeAllSessions(ctx, &Caller{UserID: "alice"}, "")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !res.Success || res.RevocationTime != 1050 || !res.RecordWritten {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.provider.calls) != 1 || f.provider.calls[0] != "alice" {
		t.Fatalf("provider not invalidated for alice: %v", f.provider.calls)
	}

	rec, err := f.records.Read(ctx, "alice")
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if cut, _ := rec.Cutoff(); cut != 1050 {
		t.Fatalf("cutoff: got %d want 1050", cut)
	}

	entries, _ := f.log.List(ctx, "alice", 10)
	if len(entries) != 1 || entries[0].Action != securitylog.ActionRevokeAllSessions {
		t.Fatalf("expected one REVOKE_ALL_SESSIONS entry, got %+v", entries)
	}
	if f.subs.closed["alice"] != ReasonSessionRevoked {
		t.Fatalf("expected subscriptions closed with session_revoked")
	}
	if got := testutil.ToFloat64(f.metrics.revocations.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok counter: got %v", got)
	}
}

func TestIssuer_Unauthenticated(t *testing.T) {
	f := newIssuerFixture(t)

	for _, c := range []*Caller{nil, {UserID: "  "}} {
		_, err := f.issuer.RevokeAllSessions(context.Background(), c, "alice")
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	}
	if len(f.provider.calls) != 0 {
		t.Fatalf("provider must not be called without a caller")
	}
}

func TestIssuer_OtherUserRequiresAdmin(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()

	_, err := f.issuer.RevokeAllSessions(ctx, &Caller{UserID: "mallory"}, "alice")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	res, err := f.issuer.RevokeAllSessions(ctx, &Caller{UserID: "admin", Admin: true}, "alice")
	if err != nil || !res.Success {
		t.Fatalf("admin revoke failed: %+v %v", res, err)
	}
	entries, _ := f.log.List(ctx, "alice", 10)
	if len(entries) != 1 || entries[0].ActorID == nil || *entries[0].ActorID != "admin" {
		t.Fatalf("expected entry with admin actor, got %+v", entries)
	}
}

func TestIssuer_ProviderFailureWritesNothing(t *testing.T) {
	f := newIssuerFixture(t)
	f.provider.err = errors.New("provider unavailable")
	ctx := context.Background()

	_, err := f.issuer.RevokeAllSessions(ctx, &Caller{UserID: "alice"}, "")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if _, err := f.records.Read(ctx, "alice"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("record must not be written when provider fails")
	}
	if entries, _ := f.log.List(ctx, "alice", 10); len(entries) != 0 {
		t.Fatalf("log must not be appended when provider fails")
	}
	if Message(err) != "failed to revoke sessions" {
		t.Fatalf("unexpected message: %q", Message(err))
	}
}

func TestIssuer_RecordFailureIsNotFatal(t *testing.T) {
	f := newIssuerFixture(t)
	f.issuer.records = failingRecords{f.records}

	res, err := f.issuer.RevokeAllSessions(context.Background(), &Caller{UserID: "alice"}, "")
	if err != nil {
		t.Fatalf("record failure must not fail the call: %v", err)
	}
	if !res.Success || res.RecordWritten {
		t.Fatalf("expected success with RecordWritten=false, got %+v", res)
	}
	if got := testutil.ToFloat64(f.metrics.revocations.WithLabelValues("record_failed")); got != 1 {
		t.Fatalf("record_failed counter: got %v", got)
	}
}

func TestIssuer_IdempotentRepeatedCalls(t *testing.T) {
	f := newIssuerFixture(t)
	ctx := context.Background()
	c := &Caller{UserID: "alice"}

	first, err := f.issuer.RevokeAllSessions(ctx, c, "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	f.clock = f.clock.Add(2 * time.Second)
	second, err := f.issuer.RevokeAllSessions(ctx, c, "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.RevocationTime < first.RevocationTime {
		t.Fatalf("revocation time decreased")
	}

	rec, _ := f.records.Read(ctx, "alice")
	if cut, _ := rec.Cutoff(); cut != second.RevocationTime {
		t.Fatalf("final cutoff %d, want later time %d", cut, second.RevocationTime)
	}
	if entries, _ := f.log.List(ctx, "alice", 10); len(entries) != 2 {
		t.Fatalf("expected two log entries, got %d", len(entries))
	}
}

func TestWriteRecordOnly(t *testing.T) {
	ctx := context.Background()
	records := NewMemoryRecordStore()
	log := securitylog.NewMemoryLog()

	cut, err := WriteRecordOnly(ctx, records, securitylog.NewRecorder(log, discardLogger()), "bob", time.Unix(4242, 0))
	if err != nil {
		t.Fatalf("write record only: %v", err)
	}
	if cut != 4242 {
		t.Fatalf("cutoff: got %d", cut)
	}
	entries, _ := log.List(ctx, "bob", 10)
	if len(entries) != 1 || entries[0].Action != securitylog.ActionRevokeAllSessionsRecordOnly {
		t.Fatalf("expected record-only action, got %+v", entries)
	}

	if _, err := WriteRecordOnly(ctx, records, nil, "", time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
