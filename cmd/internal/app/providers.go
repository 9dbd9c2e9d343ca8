package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/api"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/enforcer"
	"chirp/cmd/internal/realtime"
	"chirp/cmd/internal/revocation"
	"chirp/cmd/internal/securitylog"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// providers is the wired server-side object graph. Postgres backs every
// store when a database is configured; otherwise everything lives in memory
// and is lost on restart.
type providers struct {
	users    identity.Store
	sessions *session.Service
	records  revocation.RecordStore
	audit    *securitylog.Recorder
	issuer   *revocation.Issuer
	checker  *revocation.Checker
	hub      *realtime.Hub
	gateway  *realtime.WSGateway
	auth     *api.Handler

	pool  *pgxpool.Pool
	redis *redis.Client
}

// newProviders builds the object graph. A nil reg disables metrics.
func newProviders(ctx context.Context, cfg Config, log Logger, reg prometheus.Registerer) (_ *providers, err error) {
	p := &providers{}
	defer func() {
		if err != nil {
			p.close()
		}
	}()

	tokenHasher, err := loadTokenHasher(cfg)
	if err != nil {
		return nil, err
	}
	passwords, err := identity.PasswordHasherFromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := loadSessionConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, fmt.Errorf("session token manager: %w", err)
	}

	var (
		sessionStore session.Store
		auditLog     securitylog.Log
	)
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		if cfg.RedisURL != "" {
			log.Warn("redis.ignored", "reason", "no_database")
		}
		p.users = identity.NewMemoryStore(passwords)
		sessionStore = session.NewMemoryStore()
		p.records = revocation.NewMemoryRecordStore()
		auditLog = securitylog.NewMemoryLog()
	} else {
		p.pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store", "migrated", cfg.DBMigrate)

		if p.users, err = identity.NewPostgresStore(p.pool, passwords); err != nil {
			return nil, err
		}
		sessionStore = session.NewPostgresStore(p.pool)
		auditLog = securitylog.NewPostgresLog(p.pool)
		p.records = revocation.NewPostgresRecordStore(p.pool)

		if cfg.RedisURL != "" {
			p.redis, err = revocation.ConnectRedis(ctx, cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			ttl := recordCacheTTL(cfg.RecordCacheTTL)
			p.records = revocation.NewCachedRecordStore(p.records, p.redis, ttl, log)
			log.Info("redis.enabled.record_cache", "ttl", ttl.String())
		}
	}

	var (
		revMetrics *revocation.Metrics
		rtMetrics  *realtime.Metrics
	)
	if reg != nil {
		revMetrics = revocation.NewMetrics(reg)
		rtMetrics = realtime.NewMetrics(reg)
	}

	p.sessions = session.NewService(sessCfg, sessionStore, tokens, tokenHasher)
	p.audit = securitylog.NewRecorder(auditLog, log)
	p.hub = realtime.NewHub(log, rtMetrics)
	p.gateway = realtime.NewWSGateway(log, p.hub, p.sessions, realtime.LoadGatewayConfigFromEnv())

	p.issuer = revocation.NewIssuer(p.sessions, p.records,
		revocation.WithSecurityLog(p.audit),
		revocation.WithSubscriptions(p.hub),
		revocation.WithMetrics(revMetrics),
		revocation.WithLogger(log),
	)
	p.checker = revocation.NewChecker(p.records, api.NewAuthTimeSource(p.sessions), revMetrics, log)

	p.auth, err = api.NewHandler(log, api.LoadConfigFromEnv(), api.Deps{
		Users:    p.users,
		Hasher:   passwords,
		Sessions: p.sessions,
		Issuer:   p.issuer,
		Checker:  p.checker,
		Records:  p.records,
		Audit:    p.audit,
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// loadSessionConfig reads the session config. In dev mode a missing signing
// key is replaced by one generated now.
func loadSessionConfig(cfg Config, log Logger) (session.Config, error) {
	sc, err := session.LoadConfigFromEnv()
	if err == nil {
		return sc, nil
	}
	keySet := strings.TrimSpace(os.Getenv("CHIRP_PASETO_V4_SECRET_KEY_HEX")) != ""
	if !errors.Is(err, session.ErrConfig) || !cfg.DevEphemeralKey || keySet {
		return session.Config{}, fmt.Errorf("session config: %w", err)
	}

	sc = session.DefaultConfig()
	sc.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	log.Warn("auth.signing_key.ephemeral", "hint", "tokens are invalid after restart; set CHIRP_PASETO_V4_SECRET_KEY_HEX")
	return sc, nil
}

// recordCacheTTL keeps cached cutoffs fresher than one enforcement period,
// so a poll never reads the same stale cutoff twice.
func recordCacheTTL(ttl time.Duration) time.Duration {
	if limit := enforcer.DefaultInterval / 2; ttl > limit {
		return limit
	}
	return ttl
}

func (p *providers) close() {
	if p.redis != nil {
		_ = p.redis.Close()
	}
	if p.pool != nil {
		p.pool.Close()
	}
}
