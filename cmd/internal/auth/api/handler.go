// Package api exposes the Chirp auth and session-revocation HTTP endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/revocation"
	"chirp/cmd/internal/securitylog"
)

// Deps are the services a Handler routes to.
type Deps struct {
	Users    identity.Store
	Hasher   identity.PasswordHasher
	Sessions *session.Service
	Issuer   *revocation.Issuer
	Checker  *revocation.Checker
	Records  revocation.RecordStore
	Audit    *securitylog.Recorder
}

// Handler wires HTTP endpoints to the identity, session and revocation
// services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.Store
	hasher   identity.PasswordHasher
	sessions *session.Service
	issuer   *revocation.Issuer
	checker  *revocation.Checker
	records  revocation.RecordStore
	audit    *securitylog.Recorder

	clock func() time.Time

	dummyHash string
}

// HandlerOption configures optional Handler behavior.
type HandlerOption func(*Handler)

// WithClock overrides the request clock.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.clock = now
		}
	}
}

// NewHandler constructs a Handler. Audit may be nil; every other dependency
// is required.
func NewHandler(log *slog.Logger, cfg Config, deps Deps, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Users == nil || deps.Sessions == nil || deps.Issuer == nil || deps.Checker == nil || deps.Records == nil {
		return nil, errors.New("auth: missing dependency")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		users:    deps.Users,
		hasher:   deps.Hasher,
		sessions: deps.Sessions,
		issuer:   deps.Issuer,
		checker:  deps.Checker,
		records:  deps.Records,
		audit:    deps.Audit,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := h.hasher.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

func (h *Handler) now() time.Time { return h.clock().UTC() }

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/sessions/revoke", h.handleRevokeSessions)
	mux.HandleFunc("POST /admin/users/{id}/sessions/revoke", h.handleAdminRevokeSessions)
	mux.HandleFunc("/auth/session/check", h.handleCheckSession)
	mux.HandleFunc("/auth/public_key", h.handlePublicKey)
	mux.HandleFunc("/me", h.handleMe)
	mux.HandleFunc("/me/security", h.handleMeSecurity)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	identifier, password, platform, ok := normalizeLoginRequest(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "username/email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	user, encoded, err := h.users.GetCredentialsByLogin(ctx, identifier)
	if err != nil {
		if identity.IsNotFound(err) {
			// Timing resistance: perform a dummy verify when user is missing.
			if h.dummyHash != "" {
				_, _ = h.hasher.Verify(h.dummyHash, password)
			}
			h.log.Info("auth.login.failed", "reason", "not_found")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if blocked, retryAfter, err := h.checkLoginUserThrottle(ctx, user.ID, now); err != nil {
		h.log.Error("auth.login.throttle_user.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.log.Info("auth.login.locked", "user_id", user.ID, "retry_after_s", int64(retryAfter.Seconds()))
		writeRateLimited(w, retryAfter)
		return
	}

	if okPw, err := h.hasher.Verify(encoded, password); err != nil || !okPw {
		h.auditLoginFailed(ctx, user.ID, ip, ua, identifier, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	issued, err := h.sessions.IssueSession(ctx, now, user.ID, session.DeviceContext{
		Platform:   platform,
		RememberMe: req.RememberMe,
		UserAgent:  ua,
		IP:         ip,
	})
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, user.ID, issued.SessionID, ip, ua, identifier)

	writeJSON(w, http.StatusOK, loginResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, userID, err := h.sessions.RotateRefresh(ctx, now, refreshToken, session.DeviceContext{
		Platform:   session.ParsePlatform(req.Platform),
		RememberMe: req.RememberMe,
		UserAgent:  ua,
		IP:         ip,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReuseDetected):
			h.auditRefreshReuse(ctx, userID, ip, ua)
			h.revokeAfterReuse(r, userID)
			writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionRevoked), errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued)})
}

// revokeAfterReuse turns refresh-token theft into a full revocation so the
// owner's other clients are signed out by their enforcers too.
func (h *Handler) revokeAfterReuse(r *http.Request, userID string) {
	if userID == "" {
		return
	}
	caller := &revocation.Caller{
		UserID:    userID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
	if _, err := h.issuer.RevokeAllSessions(r.Context(), caller, userID); err != nil {
		h.log.Error("auth.refresh.reuse.revoke.fail", "err", err, "user_id", userID)
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.RevokeSession(ctx, h.now(), claims.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogout(ctx, claims.UserID, claims.SessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{
		PublicKeyHex: h.sessions.PublicKeyHex(),
		Issuer:       h.sessions.Issuer(),
	})
}

// ---- auth helpers ----

// requireAuth accepts only live sessions.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(r.Context(), token, h.now())
	if err != nil {
		if !session.IsCredentialRejected(err) {
			h.log.Error("auth.validate.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return session.AccessClaims{}, false
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

// requireSignature accepts any correctly signed, unexpired token, including
// one whose session was revoked.
func (h *Handler) requireSignature(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ParseAccessToken(token, h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}
