package identity

import (
	"context"
	"sync"

	"chirp/cmd/identity/ids"
)

type memUser struct {
	user User
	hash string
}

// MemoryStore is an in-process Store used when no database is configured
// and in tests.
type MemoryStore struct {
	hasher PasswordHasher

	mu         sync.RWMutex
	byID       map[string]*memUser
	byUsername map[string]string
	byEmail    map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(hasher PasswordHasher) *MemoryStore {
	return &MemoryStore{
		hasher:     hasher,
		byID:       make(map[string]*memUser),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Username != nil {
		if _, taken := s.byUsername[NormalizeUsername(*in.Username)]; taken {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
	}
	if in.Email != nil {
		if _, taken := s.byEmail[NormalizeEmail(*in.Email)]; taken {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	u := User{
		ID:          id,
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Role:        in.Role,
		CreatedAt:   in.Now,
	}
	s.byID[id] = &memUser{user: u, hash: hash}
	if in.Username != nil {
		s.byUsername[NormalizeUsername(*in.Username)] = id
	}
	if in.Email != nil {
		s.byEmail[NormalizeEmail(*in.Email)] = id
	}
	return u, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[userID]
	if !ok {
		return User{}, OpError{Op: "identity.GetUserByID", Kind: ErrNotFound}
	}
	return m.user, nil
}

func (s *MemoryStore) GetCredentialsByLogin(ctx context.Context, login string) (User, string, error) {
	if err := ctx.Err(); err != nil {
		return User{}, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		id string
		ok bool
	)
	if IsEmailLogin(login) {
		id, ok = s.byEmail[NormalizeEmail(login)]
	} else {
		id, ok = s.byUsername[NormalizeUsername(login)]
	}
	if !ok {
		return User{}, "", OpError{Op: "identity.GetCredentialsByLogin", Kind: ErrNotFound}
	}
	m := s.byID[id]
	return m.user, m.hash, nil
}

func (s *MemoryStore) SetRole(ctx context.Context, userID string, role Role) error {
	const op = "identity.SetRole"
	if err := ctx.Err(); err != nil {
		return err
	}
	if !role.Valid() {
		return invalid(op, "unknown role")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[userID]
	if !ok {
		return OpError{Op: op, Kind: ErrNotFound}
	}
	m.user.Role = role
	return nil
}
