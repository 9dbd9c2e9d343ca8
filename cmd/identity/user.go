package identity

import (
	"context"
	"time"
)

// Role is a coarse authorization role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// User is Chirp's canonical security principal.
type User struct {
	ID          string
	Username    *string
	Email       *string
	DisplayName *string
	Role        Role
	CreatedAt   time.Time
}

// IsAdmin reports whether the user may act on other users' sessions.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// CreateUserInput describes a registration. At least one of Username or
// Email must be set.
type CreateUserInput struct {
	Username    *string
	Email       *string
	DisplayName *string
	Password    string
	Role        Role
	Now         time.Time
}

// Store is the user persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)

	// GetCredentialsByLogin resolves a username or email and returns the
	// user with its encoded password hash. Missing users yield ErrNotFound.
	GetCredentialsByLogin(ctx context.Context, login string) (User, string, error)

	SetRole(ctx context.Context, userID string, role Role) error
}

// Authenticate checks login + password against st. Unknown users and wrong
// passwords both yield ErrBadCredentials.
func Authenticate(ctx context.Context, st Store, hasher PasswordHasher, login, password string) (User, error) {
	const op = "identity.Authenticate"

	u, encoded, err := st.GetCredentialsByLogin(ctx, login)
	if err != nil {
		if IsNotFound(err) {
			return User{}, OpError{Op: op, Kind: ErrBadCredentials}
		}
		return User{}, err
	}

	ok, err := hasher.Verify(encoded, password)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrBadCredentials}
	}
	return u, nil
}

func validateCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Username = trimPtr(in.Username)
	in.Email = trimPtr(in.Email)
	in.DisplayName = trimPtr(in.DisplayName)

	if in.Username == nil && in.Email == nil {
		return in, invalid(op, "username or email is required")
	}
	if in.Username != nil && IsEmailLogin(*in.Username) {
		return in, invalid(op, "username must not contain @")
	}
	if in.Email != nil && !IsEmailLogin(*in.Email) {
		return in, invalid(op, "email is malformed")
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if !in.Role.Valid() {
		return in, invalid(op, "unknown role")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
