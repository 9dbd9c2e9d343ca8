package revocation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecordStore stores Records as columns of chirp.users.
type PostgresRecordStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRecordStore returns a store backed by pool.
func NewPostgresRecordStore(pool *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{pool: pool}
}

func (s *PostgresRecordStore) Read(ctx context.Context, userID string) (Record, error) {
	r := Record{UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT tokens_valid_after_time, session_revoked_at, last_session_revocation
		  FROM chirp.users
		 WHERE id = $1
	`, userID).Scan(&r.TokensValidAfterTime, &r.SessionRevokedAt, &r.LastSessionRevocation)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

// Write applies u in a single statement. GREATEST ignores NULL, so the
// cutoff can only move forward even under concurrent writers.
func (s *PostgresRecordStore) Write(ctx context.Context, userID string, u Update) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chirp.users
		   SET tokens_valid_after_time = GREATEST(tokens_valid_after_time, $2::bigint),
		       last_session_revocation = CASE
		           WHEN $3::timestamptz IS NULL THEN COALESCE(last_session_revocation, $4::text)
		           WHEN session_revoked_at IS NULL OR $3::timestamptz >= session_revoked_at THEN COALESCE($4::text, last_session_revocation)
		           ELSE last_session_revocation
		       END,
		       session_revoked_at = GREATEST(session_revoked_at, $3::timestamptz)
		 WHERE id = $1
	`, userID, u.TokensValidAfterTime, u.SessionRevokedAt, u.LastSessionRevocation)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}
