// Package dbtest opens a migrated Postgres pool for integration tests.
package dbtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"chirp/cmd/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvKey names the DSN used by integration tests.
const EnvKey = "CHIRP_DATABASE_URL"

// Pool returns a pool against CHIRP_DATABASE_URL with migrations applied.
// The test is skipped when the variable is unset or Postgres is unreachable.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(EnvKey))
	if dsn == "" {
		t.Skipf("integration test skipped: %s is not set", EnvKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if unreachable(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping postgres: %v", err)
	}

	if err := db.Migrate(dsn, db.Up); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

func unreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection refused") || strings.Contains(s, "no such host")
}
