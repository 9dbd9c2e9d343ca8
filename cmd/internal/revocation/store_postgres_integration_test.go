package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"chirp/cmd/identity/ids"
	"chirp/cmd/internal/db/dbtest"
)

func TestPostgresRecordStore_Monotonic(t *testing.T) {
	pool := dbtest.Pool(t)
	st := NewPostgresRecordStore(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID := ids.MustULID(time.Now())
	name := "rev_" + userID[16:]
	if _, err := pool.Exec(ctx, `INSERT INTO chirp.users (id, username, username_norm) VALUES ($1, $2, $2)`, userID, name); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	rec, err := st.Read(ctx, userID)
	if err != nil {
		t.Fatalf("read fresh: %v", err)
	}
	if _, ok := rec.Cutoff(); ok {
		t.Fatalf("fresh user must have no cutoff")
	}

	if err := st.Write(ctx, userID, UpdateAt(time.Unix(1050, 0))); err != nil {
		t.Fatalf("write 1050: %v", err)
	}
	if err := st.Write(ctx, userID, UpdateAt(time.Unix(1000, 0))); err != nil {
		t.Fatalf("write 1000: %v", err)
	}

	rec, err = st.Read(ctx, userID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cut, _ := rec.Cutoff(); cut != 1050 {
		t.Fatalf("cutoff went backwards: %d", cut)
	}
	if rec.SessionRevokedAt == nil || rec.SessionRevokedAt.Unix() != 1050 {
		t.Fatalf("sessionRevokedAt went backwards: %v", rec.SessionRevokedAt)
	}
	if rec.LastSessionRevocation == nil || *rec.LastSessionRevocation != time.Unix(1050, 0).UTC().Format(time.RFC3339) {
		t.Fatalf("lastSessionRevocation mismatch: %v", rec.LastSessionRevocation)
	}

	if err := st.Write(ctx, ids.MustULID(time.Now()), UpdateAt(time.Now())); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for unknown user, got %v", err)
	}
}
