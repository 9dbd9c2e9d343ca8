package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"chirp/cmd/identity/ids"
)

var errDuplicateRefreshHash = errors.New("session: duplicate refresh hash")

// MemoryStore keeps sessions in process memory. Used when the server runs
// without a database and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Row
	byHash map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Row),
		byHash: make(map[string]string),
	}
}

func (m *MemoryStore) create(now time.Time, in NewSession) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	if _, dup := m.byHash[in.RefreshHash]; dup {
		return "", errDuplicateRefreshHash
	}
	last := now
	m.byID[id] = &Row{
		ID:               id,
		UserID:           in.UserID,
		RefreshTokenHash: in.RefreshHash,
		AuthTime:         in.AuthTime,
		CreatedAt:        now,
		LastUsedAt:       &last,
		ExpiresAt:        in.ExpiresAt,
		Platform:         in.Device.Platform,
	}
	m.byHash[in.RefreshHash] = id
	return id, nil
}

func (m *MemoryStore) Create(ctx context.Context, now time.Time, in NewSession) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(now, in)
}

func (m *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byID[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *r, nil
}

func (m *MemoryStore) Rotate(ctx context.Context, now time.Time, in Rotation) (Row, string, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[in.OldRefreshHash]
	if !ok {
		return Row{}, "", ErrSessionNotFound
	}
	old := m.byID[id]

	if err := checkRotatable(*old, now); err != nil {
		if err == ErrRefreshReuseDetected {
			m.revokeAll(now, old.UserID, ReasonReuseDetected)
		}
		return *old, "", err
	}

	newID, err := m.create(now, NewSession{
		UserID:      old.UserID,
		AuthTime:    old.AuthTime,
		Device:      in.Device,
		RefreshHash: in.NewRefreshHash,
		ExpiresAt:   in.NewExpiresAt,
	})
	if err != nil {
		return Row{}, "", err
	}

	snapshot := *old
	t := now
	reason := ReasonRotation
	old.LastUsedAt = &t
	old.RevokedAt = &t
	old.ReplacedBySessionID = &newID
	old.RevocationReason = &reason
	return snapshot, newID, nil
}

func (m *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[sessionID]; ok {
		t := now
		r.LastUsedAt = &t
	}
	return nil
}

func (m *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[sessionID]; ok && r.RevokedAt == nil {
		t := now
		r.RevokedAt = &t
		r.RevocationReason = &reason
	}
	return nil
}

func (m *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeAll(now, userID, reason), nil
}

func (m *MemoryStore) revokeAll(now time.Time, userID, reason string) int64 {
	var n int64
	for _, r := range m.byID {
		if r.UserID != userID || r.RevokedAt != nil {
			continue
		}
		t := now
		why := reason
		r.RevokedAt = &t
		r.RevocationReason = &why
		n++
	}
	return n
}

func (m *MemoryStore) LastAuthTime(ctx context.Context, userID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var last time.Time
	for _, r := range m.byID {
		if r.UserID == userID && r.AuthTime.After(last) {
			last = r.AuthTime
		}
	}
	if last.IsZero() {
		return time.Time{}, ErrSessionNotFound
	}
	return last, nil
}
