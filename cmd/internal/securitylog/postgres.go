package securitylog

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLog appends to chirp.security_log. The table rejects UPDATE and
// DELETE at the database level.
type PostgresLog struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresLog returns a log backed by pool.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool, now: time.Now}
}

func (p *PostgresLog) Append(ctx context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, p.now())
	if err != nil {
		return Entry{}, err
	}

	var ip any
	if e.IP != nil {
		ip = e.IP.String()
	}
	var ua any
	if e.UserAgent != "" {
		ua = e.UserAgent
	}
	var meta any
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return Entry{}, err
		}
		meta = string(b)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO chirp.security_log (
			id, user_id, action, actor_id, session_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`, e.ID, e.UserID, string(e.Action), e.ActorID, e.SessionID, ip, ua, meta, e.Timestamp)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (p *PostgresLog) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, action, actor_id, session_id, host(ip), user_agent, meta, created_at
		  FROM chirp.security_log
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			action string
			ip     *string
			ua     *string
			meta   []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.ActorID, &e.SessionID, &ip, &ua, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if ip != nil {
			e.IP = net.ParseIP(*ip)
		}
		if ua != nil {
			e.UserAgent = *ua
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresLog) CountSince(ctx context.Context, userID string, action Action, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*)
		  FROM chirp.security_log
		 WHERE user_id = $1
		   AND action = $2
		   AND created_at >= $3
	`, userID, string(action), since).Scan(&n)
	return n, err
}
