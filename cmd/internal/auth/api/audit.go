package api

import (
	"context"
	"net"

	"chirp/cmd/internal/securitylog"
)

func (h *Handler) auditLoginFailed(ctx context.Context, userID string, ip net.IP, ua, identifier, reason string) {
	h.record(ctx, securitylog.ActionLoginFailed, userID, nil, ip, ua, map[string]any{
		"identifier": identifier,
		"reason":     reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua, identifier string) {
	h.record(ctx, securitylog.ActionLoginSuccess, userID, &sessionID, ip, ua, map[string]any{
		"identifier": identifier,
	})
}

func (h *Handler) auditRefreshReuse(ctx context.Context, userID string, ip net.IP, ua string) {
	h.record(ctx, securitylog.ActionRefreshReuse, userID, nil, ip, ua, nil)
}

func (h *Handler) auditLogout(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.record(ctx, securitylog.ActionLogout, userID, &sessionID, ip, ua, nil)
}

// record appends to the security log. Entries need a user, so events
// without one (unknown login identifiers) only reach the process log.
func (h *Handler) record(ctx context.Context, action securitylog.Action, userID string, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if userID == "" {
		return
	}
	h.audit.Record(ctx, securitylog.Entry{
		UserID:    userID,
		Action:    action,
		Timestamp: h.now(),
		SessionID: sessionID,
		IP:        ip,
		UserAgent: ua,
		Meta:      meta,
	})
}
