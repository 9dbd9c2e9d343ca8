package identity

import (
	"context"
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestMemoryStore_CreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	h := fastHasher()
	st := NewMemoryStore(h)

	u, err := st.CreateUser(ctx, CreateUserInput{
		Username: strPtr("Alice"),
		Email:    strPtr("alice@example.com"),
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Role != RoleUser || u.IsAdmin() {
		t.Fatalf("expected default user role, got %q", u.Role)
	}

	for _, login := range []string{"alice", "ALICE", "Alice@Example.com"} {
		got, err := Authenticate(ctx, st, h, login, "correct horse battery")
		if err != nil {
			t.Fatalf("authenticate %q: %v", login, err)
		}
		if got.ID != u.ID {
			t.Fatalf("authenticate %q: got user %s want %s", login, got.ID, u.ID)
		}
	}

	if _, err := Authenticate(ctx, st, h, "alice", "wrong password!"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if _, err := Authenticate(ctx, st, h, "nobody", "whatever123"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials for unknown user, got %v", err)
	}
}

func TestMemoryStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(fastHasher())

	if _, err := st.CreateUser(ctx, CreateUserInput{Username: strPtr("bob"), Password: "long enough pw"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := st.CreateUser(ctx, CreateUserInput{Username: strPtr("BOB"), Password: "long enough pw"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStore_InvalidInput(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(fastHasher())

	tests := []struct {
		name string
		in   CreateUserInput
	}{
		{name: "no identifier", in: CreateUserInput{Password: "long enough pw"}},
		{name: "username with at", in: CreateUserInput{Username: strPtr("a@b"), Password: "long enough pw"}},
		{name: "bad email", in: CreateUserInput{Email: strPtr("nope"), Password: "long enough pw"}},
		{name: "bad role", in: CreateUserInput{Username: strPtr("carol"), Password: "long enough pw", Role: "root"}},
		{name: "weak password", in: CreateUserInput{Username: strPtr("dave"), Password: "short"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := st.CreateUser(ctx, tc.in); !IsInvalidInput(err) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestMemoryStore_SetRole(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(fastHasher())

	u, err := st.CreateUser(ctx, CreateUserInput{Username: strPtr("erin"), Password: "long enough pw"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.SetRole(ctx, u.ID, RoleAdmin); err != nil {
		t.Fatalf("set role: %v", err)
	}
	got, err := st.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsAdmin() {
		t.Fatalf("expected admin")
	}
	if err := st.SetRole(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", RoleAdmin); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
