package session

import (
	"context"
	"errors"
	"time"

	"chirp/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over chirp.sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const rowColumns = `
	id, user_id, refresh_token_hash, auth_time,
	created_at, last_used_at, expires_at, revoked_at,
	replaced_by_session_id, revocation_reason, platform`

func scanRow(r pgx.Row) (Row, error) {
	var (
		row      Row
		platform string
	)
	err := r.Scan(
		&row.ID,
		&row.UserID,
		&row.RefreshTokenHash,
		&row.AuthTime,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
		&row.RevocationReason,
		&platform,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	row.Platform = Platform(platform)
	return row, nil
}

func insertSession(ctx context.Context, q dbtx, now time.Time, in NewSession) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	var ip, ua any
	if in.Device.IP != nil {
		ip = in.Device.IP.String()
	}
	if in.Device.UserAgent != "" {
		ua = in.Device.UserAgent
	}

	_, err = q.Exec(ctx, `
		INSERT INTO chirp.sessions (
			id, user_id, refresh_token_hash, auth_time,
			created_at, last_used_at, expires_at,
			user_agent, ip, platform
		) VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8, $9)
	`, id, in.UserID, in.RefreshHash, in.AuthTime, now, in.ExpiresAt, ua, ip, string(in.Device.Platform))
	if err != nil {
		return "", err
	}
	return id, nil
}

func revokeAll(ctx context.Context, q dbtx, now time.Time, userID, reason string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE chirp.sessions
		   SET revoked_at = $2,
		       revocation_reason = $3
		 WHERE user_id = $1
		   AND revoked_at IS NULL
	`, userID, now, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, in NewSession) (string, error) {
	return insertSession(ctx, s.pool, now, in)
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, `SELECT `+rowColumns+` FROM chirp.sessions WHERE id = $1`, sessionID))
}

// Rotate locks the old row with SELECT ... FOR UPDATE so two concurrent
// refreshes of the same token cannot both succeed.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, in Rotation) (Row, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Row{}, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := scanRow(tx.QueryRow(ctx, `
		SELECT `+rowColumns+`
		  FROM chirp.sessions
		 WHERE refresh_token_hash = $1
		 FOR UPDATE
	`, in.OldRefreshHash))
	if err != nil {
		return Row{}, "", err
	}

	if err := checkRotatable(old, now); err != nil {
		if errors.Is(err, ErrRefreshReuseDetected) {
			if _, rerr := revokeAll(ctx, tx, now, old.UserID, ReasonReuseDetected); rerr != nil {
				return Row{}, "", rerr
			}
			if cerr := tx.Commit(ctx); cerr != nil {
				return Row{}, "", cerr
			}
		}
		return old, "", err
	}

	newID, err := insertSession(ctx, tx, now, NewSession{
		UserID:      old.UserID,
		AuthTime:    old.AuthTime,
		Device:      in.Device,
		RefreshHash: in.NewRefreshHash,
		ExpiresAt:   in.NewExpiresAt,
	})
	if err != nil {
		return Row{}, "", err
	}

	_, err = tx.Exec(ctx, `
		UPDATE chirp.sessions
		   SET last_used_at = $2,
		       revoked_at = $2,
		       replaced_by_session_id = $3,
		       revocation_reason = $4
		 WHERE id = $1
	`, old.ID, now, newID, ReasonRotation)
	if err != nil {
		return Row{}, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return Row{}, "", err
	}
	return old, newID, nil
}

// Touch updates last_used_at for a session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chirp.sessions SET last_used_at = $2 WHERE id = $1`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chirp.sessions
		   SET revoked_at = COALESCE(revoked_at, $2),
		       revocation_reason = COALESCE(revocation_reason, $3)
		 WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes all of a user's live sessions.
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) (int64, error) {
	return revokeAll(ctx, s.pool, now, userID, reason)
}

// LastAuthTime returns the newest auth_time of userID's sessions.
func (s *PostgresStore) LastAuthTime(ctx context.Context, userID string) (time.Time, error) {
	var at *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT max(auth_time) FROM chirp.sessions WHERE user_id = $1`, userID).Scan(&at); err != nil {
		return time.Time{}, err
	}
	if at == nil {
		return time.Time{}, ErrSessionNotFound
	}
	return *at, nil
}
