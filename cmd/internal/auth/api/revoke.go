package api

import (
	"errors"
	"net/http"
	"strings"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/revocation"
)

const msgUserIDRequired = "User ID required"

// handleLogoutAll is "sign out everywhere" for the caller.
func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller, ok := h.callerFromToken(w, r, bearerToken(r))
	if !ok {
		return
	}
	h.revoke(w, r, caller, "")
}

// handleRevokeSessions revokes the sessions of body.userId (default: the
// caller). The credential comes from the bearer header, or from body.token
// for clients that cannot set headers; both are verified the same way.
func (h *Handler) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req revokeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(req.Token)
	}
	caller, ok := h.callerFromToken(w, r, token)
	if !ok {
		return
	}
	h.revoke(w, r, caller, req.UserID)
}

func (h *Handler) handleAdminRevokeSessions(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.PathValue("id"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msgUserIDRequired)
		return
	}
	caller, ok := h.callerFromToken(w, r, bearerToken(r))
	if !ok {
		return
	}
	if caller != nil && !caller.Admin {
		// Self-revocation goes through /auth/logout_all; this route is
		// admin-only even for the caller's own id.
		writeError(w, http.StatusForbidden, "permission_denied", "admin role required")
		return
	}
	h.revoke(w, r, caller, target)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request, caller *revocation.Caller, target string) {
	// Only an authorized admin learns whether another account exists; anyone
	// else gets the Issuer's 401 or 403 first.
	if caller != nil && caller.Admin && caller.UserID != target {
		if _, err := h.users.GetUserByID(r.Context(), target); err != nil {
			if identity.IsNotFound(err) {
				writeError(w, http.StatusNotFound, "not_found", "user not found")
				return
			}
			h.log.Error("auth.revoke.lookup.fail", "err", err, "user_id", target)
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
	}

	res, err := h.issuer.RevokeAllSessions(r.Context(), caller, target)
	if err != nil {
		writeRevocationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{
		Success:        res.Success,
		Message:        res.Message,
		RevocationTime: res.RevocationTime,
		RecordWritten:  res.RecordWritten,
	})
}

// callerFromToken resolves a live credential into a Caller. A missing or
// rejected credential yields a nil Caller so the Issuer reports it as
// unauthenticated; ok is false only when a response was already written.
func (h *Handler) callerFromToken(w http.ResponseWriter, r *http.Request, token string) (*revocation.Caller, bool) {
	if token == "" {
		return nil, true
	}

	ctx := r.Context()
	claims, err := h.sessions.ValidateAccessToken(ctx, token, h.now())
	if err != nil {
		if session.IsCredentialRejected(err) {
			return nil, true
		}
		h.log.Error("auth.caller.validate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to revoke sessions")
		return nil, false
	}

	u, err := h.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, true
		}
		h.log.Error("auth.caller.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to revoke sessions")
		return nil, false
	}

	return &revocation.Caller{
		UserID:    u.ID,
		SessionID: claims.SessionID,
		Admin:     u.IsAdmin(),
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}, true
}

func writeRevocationError(w http.ResponseWriter, err error) {
	msg := revocation.Message(err)
	switch {
	case errors.Is(err, revocation.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", msg)
	case errors.Is(err, revocation.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", msg)
	default:
		writeError(w, http.StatusInternalServerError, "internal", msg)
	}
}

// handleCheckSession answers whether userId must re-authenticate. A bearer
// token, when present, is checked against its own session's auth time.
func (h *Handler) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, checkResponse{Error: msgUserIDRequired})
		return
	}

	res, err := h.checker.CheckSession(r.Context(), req.UserID, bearerToken(r))
	if err != nil {
		if errors.Is(err, revocation.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, checkResponse{Error: msgUserIDRequired})
			return
		}
		h.log.Error("auth.session_check.fail", "err", err)
		writeJSON(w, http.StatusInternalServerError, checkResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{RequiresReauth: res.RequiresReauth, Reason: res.Reason})
}

// handleMeSecurity returns the caller's revocation record. It only checks
// the token signature so a revoked client can still learn that it was
// revoked.
func (h *Handler) handleMeSecurity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireSignature(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Read(r.Context(), claims.UserID)
	if err != nil && !errors.Is(err, revocation.ErrRecordNotFound) {
		h.log.Error("auth.me_security.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toSecurityResponse(rec))
}
