package revocation

import (
	"context"
	"strings"
	"sync"
)

// MemoryRecordStore keeps Records in process memory. Unlike the Postgres
// store it creates a Record on first write.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRecordStore returns an empty store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]Record)}
}

func (m *MemoryRecordStore) Read(ctx context.Context, userID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[userID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return r, nil
}

func (m *MemoryRecordStore) Write(ctx context.Context, userID string, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return OpError{Op: "revocation.Write", Kind: ErrInvalidInput, Msg: "user id required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[userID]
	if !ok {
		r = Record{UserID: userID}
	}
	m.records[userID] = apply(r, u)
	return nil
}
