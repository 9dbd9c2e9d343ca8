package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "chirp/contracts/realtime/v1"
)

// Hub tracks live subscriptions by user so a revocation can reach every
// connection of that user on this node.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

// NewHub constructs a Hub. m may be nil.
func NewHub(log *slog.Logger, m *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		users:   make(map[string]map[string]*Client),
	}
}

// Register adds c under its user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	conns, ok := h.users[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.users[c.UserID] = conns
	}
	conns[c.ConnID] = c
	h.mu.Unlock()

	h.metrics.connected()
}

// Unregister removes c. It is safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	conns, ok := h.users[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := conns[c.ConnID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, c.ConnID)
	if len(conns) == 0 {
		delete(h.users, c.UserID)
	}
	h.mu.Unlock()

	h.metrics.disconnected()
}

// Count returns the number of live subscriptions of userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) snapshot(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.users[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Publish delivers env to every subscription of userID and returns how many
// accepted it. Slow consumers are skipped.
func (h *Hub) Publish(userID string, env v1.Envelope) int {
	n := 0
	for _, c := range h.snapshot(userID) {
		if c.TrySend(env) {
			n++
		} else {
			h.log.Info("ws.publish.drop", "conn_id", c.ConnID, "user_id", userID)
		}
	}
	return n
}

// DisconnectUser sends a session notice to every subscription of userID and
// closes them with reason. It returns the number of subscriptions closed.
func (h *Hub) DisconnectUser(userID, reason string) int {
	clients := h.snapshot(userID)
	if len(clients) == 0 {
		return 0
	}

	now := time.Now().UTC()
	payload, _ := json.Marshal(v1.NoticePayload{Kind: v1.NoticeSessionRevoked, Reason: reason, At: now})
	notice := newEnvelope(v1.TypeNotice, payload, now)

	for _, c := range clients {
		_ = c.TrySend(notice)
		c.CloseWithReason(reason)
		h.Unregister(c)
	}

	h.metrics.kicked(reason, len(clients))
	h.log.Info("ws.user.disconnect", "user_id", userID, "reason", reason, "count", len(clients))
	return len(clients)
}
