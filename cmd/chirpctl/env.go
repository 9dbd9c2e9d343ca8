package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"chirp/cmd/identity"
	"chirp/cmd/internal/app"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/revocation"
	"chirp/cmd/internal/securitylog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// env carries connection settings and the lazily opened stores.
type env struct {
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger

	databaseURL string
	redisURL    string

	pool  *pgxpool.Pool
	redis *redis.Client
}

func newEnv(stdout, stderr io.Writer) *env {
	return &env{
		stdout:      stdout,
		stderr:      stderr,
		log:         slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
		databaseURL: app.EnvString("CHIRP_DATABASE_URL", ""),
		redisURL:    app.EnvString("CHIRP_REDIS_URL", ""),
	}
}

func (e *env) connect(ctx context.Context) error {
	if e.pool != nil {
		return nil
	}
	if e.databaseURL == "" {
		return errors.New("no database: set CHIRP_DATABASE_URL or --database-url")
	}
	pool, err := app.NewDBPool(ctx, app.Config{DatabaseURL: e.databaseURL, DBMaxConns: 2})
	if err != nil {
		return err
	}
	e.pool = pool

	if e.redisURL != "" {
		rdb, err := revocation.ConnectRedis(ctx, e.redisURL)
		if err != nil {
			return err
		}
		e.redis = rdb
	}
	return nil
}

func (e *env) close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// records writes through the Redis cache when one is configured, so servers
// reading through it drop the stale entry immediately.
func (e *env) records() revocation.RecordStore {
	var rs revocation.RecordStore = revocation.NewPostgresRecordStore(e.pool)
	if e.redis != nil {
		rs = revocation.NewCachedRecordStore(rs, e.redis, 0, e.log)
	}
	return rs
}

func (e *env) audit() *securitylog.Recorder {
	return securitylog.NewRecorder(securitylog.NewPostgresLog(e.pool), e.log)
}

func (e *env) sessions() *session.PostgresStore {
	return session.NewPostgresStore(e.pool)
}

func (e *env) users() (*identity.PostgresStore, error) {
	hasher, err := identity.PasswordHasherFromEnv()
	if err != nil {
		return nil, err
	}
	return identity.NewPostgresStore(e.pool, hasher)
}
