package securitylog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestMemoryLog_AppendAssignsIDAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryLog()
	m.now = func() time.Time { return fixed }

	e, err := m.Append(context.Background(), Entry{UserID: "u1", Action: ActionRevokeAllSessions})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(e.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", e.ID)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp: got %v want %v", e.Timestamp, fixed)
	}
}

func TestMemoryLog_RejectsInvalid(t *testing.T) {
	m := NewMemoryLog()
	for _, e := range []Entry{
		{Action: ActionLogout},
		{UserID: "  ", Action: ActionLogout},
		{UserID: "u1"},
	} {
		if _, err := m.Append(context.Background(), e); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("expected ErrInvalidEntry for %+v, got %v", e, err)
		}
	}
}

func TestMemoryLog_ListNewestFirstPerUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog()
	base := time.Unix(1000, 0)

	for i, uid := range []string{"a", "b", "a", "a"} {
		if _, err := m.Append(ctx, Entry{UserID: uid, Action: ActionRevokeAllSessions, Timestamp: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := m.List(ctx, "a", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Timestamp.Unix() != 1003 || got[1].Timestamp.Unix() != 1002 {
		t.Fatalf("unexpected order: %v, %v", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestMemoryLog_CountSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog()
	base := time.Unix(2000, 0)

	entries := []Entry{
		{UserID: "a", Action: ActionLoginFailed, Timestamp: base},
		{UserID: "a", Action: ActionLoginFailed, Timestamp: base.Add(10 * time.Second)},
		{UserID: "a", Action: ActionLoginSuccess, Timestamp: base.Add(11 * time.Second)},
		{UserID: "b", Action: ActionLoginFailed, Timestamp: base.Add(12 * time.Second)},
	}
	for _, e := range entries {
		if _, err := m.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tests := []struct {
		since time.Time
		want  int
	}{
		{base, 2},
		{base.Add(time.Second), 1},
		{base.Add(time.Minute), 0},
	}
	for _, tt := range tests {
		got, err := m.CountSince(ctx, "a", ActionLoginFailed, tt.since)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if got != tt.want {
			t.Fatalf("CountSince(%v) = %d, want %d", tt.since, got, tt.want)
		}
	}
}

func TestRecorder_NilLogIsNoop(t *testing.T) {
	var r *Recorder
	if r.Record(context.Background(), Entry{UserID: "u", Action: ActionLogout}) {
		t.Fatalf("nil recorder must not record")
	}

	r = NewRecorder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if r.Record(context.Background(), Entry{UserID: "u", Action: ActionLogout}) {
		t.Fatalf("recorder without log must not record")
	}
}

func TestRecorder_SwallowsErrors(t *testing.T) {
	r := NewRecorder(NewMemoryLog(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if r.Record(context.Background(), Entry{Action: ActionLogout}) {
		t.Fatalf("invalid entry must not be reported as stored")
	}
	if !r.Record(context.Background(), Entry{UserID: "u", Action: ActionLogout}) {
		t.Fatalf("valid entry must be stored")
	}
}
