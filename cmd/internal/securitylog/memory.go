package securitylog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog keeps entries in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

func (m *MemoryLog) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	e, err := prepare(e, m.now())
	if err != nil {
		return Entry{}, err
	}
	if e.Meta != nil {
		meta := make(map[string]any, len(e.Meta))
		for k, v := range e.Meta {
			meta[k] = v
		}
		e.Meta = meta
	}

	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return e, nil
}

func (m *MemoryLog) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *MemoryLog) CountSince(ctx context.Context, userID string, action Action, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.UserID == userID && e.Action == action && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}
