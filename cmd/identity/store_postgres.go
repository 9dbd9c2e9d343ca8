package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chirp/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over chirp.users and chirp.user_credentials.
// The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	hasher PasswordHasher
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, hasher PasswordHasher) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return &PostgresStore{pool: pool, hasher: hasher}, nil
}

const userColumns = `id, username, email, display_name, role, created_at`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var (
		u    User
		role string
	)
	dest := append([]any{&u.ID, &u.Username, &u.Email, &u.DisplayName, &role, &u.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// CreateUser inserts the user and its credential row in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	userID, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	var usernameNorm, emailNorm *string
	if in.Username != nil {
		n := NormalizeUsername(*in.Username)
		usernameNorm = &n
	}
	if in.Email != nil {
		n := NormalizeEmail(*in.Email)
		emailNorm = &n
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chirp.users (
			id, username, username_norm, email, email_norm, display_name, role, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, userID, in.Username, usernameNorm, in.Email, emailNorm, in.DisplayName, string(in.Role), in.Now)
	if err != nil {
		if field, ok := classifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chirp.user_credentials (user_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, userID, hash, in.Now)
	if err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}

	return User{
		ID:          userID,
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Role:        in.Role,
		CreatedAt:   in.Now,
	}, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM chirp.users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: "identity.GetUserByID", Kind: ErrNotFound}
	}
	return u, err
}

func (s *PostgresStore) GetCredentialsByLogin(ctx context.Context, login string) (User, string, error) {
	column, value := "username_norm", NormalizeUsername(login)
	if IsEmailLogin(login) {
		column, value = "email_norm", NormalizeEmail(login)
	}

	var hash string
	u, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT u.id, u.username, u.email, u.display_name, u.role, u.created_at, c.password_hash
		  FROM chirp.users u
		  JOIN chirp.user_credentials c ON c.user_id = u.id
		 WHERE u.`+column+` = $1
	`, value), &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, "", OpError{Op: "identity.GetCredentialsByLogin", Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, "", err
	}
	return u, hash, nil
}

func (s *PostgresStore) SetRole(ctx context.Context, userID string, role Role) error {
	const op = "identity.SetRole"
	if !role.Valid() {
		return invalid(op, "unknown role")
	}

	tag, err := s.pool.Exec(ctx, `UPDATE chirp.users SET role = $2 WHERE id = $1`, userID, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	return nil
}

// classifyUniqueViolation maps a 23505 to a logical field name, preferring
// the schema's constraint names.
func classifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case c == "uq_users_username_norm" || strings.Contains(c, "username"):
		return "username", true
	case c == "uq_users_email_norm" || strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
