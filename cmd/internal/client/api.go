// Package client is the signed-in side of a Chirp session: it talks to the
// auth API, holds the credential, keeps a realtime subscription open and
// runs the revocation enforcer.
//
// The wire types are mirrored here rather than imported from the server's
// api package so client code does not depend on handler internals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chirp/cmd/internal/enforcer"
)

// maxResponseBytes bounds every decoded response body.
const maxResponseBytes = 1 << 20

// APIError is a non-2xx response from the auth API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("chirp api: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chirp api: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Tokens is one issued session.
type Tokens struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AuthTime         int64     `json:"auth_time"`
}

// User is the signed-in account.
type User struct {
	ID          string  `json:"id"`
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	DisplayName *string `json:"display_name"`
	Role        string  `json:"role"`
}

// LoginInput identifies the account by exactly one of Username or Email.
type LoginInput struct {
	Username   string
	Email      string
	Password   string
	Platform   string
	RememberMe bool
}

// LoginResult is the response of POST /auth/login.
type LoginResult struct {
	User    User   `json:"user"`
	Session Tokens `json:"session"`
}

// SecurityRecord is the caller's revocation record.
type SecurityRecord struct {
	TokensValidAfterTime  *int64     `json:"tokensValidAfterTime,omitempty"`
	SessionRevokedAt      *time.Time `json:"sessionRevokedAt,omitempty"`
	LastSessionRevocation *string    `json:"lastSessionRevocation,omitempty"`
}

// RevokeResult is the response of a revocation trigger.
type RevokeResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RevocationTime int64  `json:"revocationTime,omitempty"`
	RecordWritten  bool   `json:"recordWritten"`
}

// CheckResult is the response of POST /auth/session/check.
type CheckResult struct {
	RequiresReauth bool   `json:"requiresReauth"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

// PublicKey is the access-token verification key.
type PublicKey struct {
	Hex    string `json:"public_key_hex"`
	Issuer string `json:"issuer"`
}

// API is a typed client for the Chirp auth API.
type API struct {
	base *url.URL
	http *http.Client
}

// NewAPI builds an API for baseURL. A nil httpClient gets a 10s timeout.
func NewAPI(baseURL string, httpClient *http.Client) (*API, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("client: base url missing host")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{base: u, http: httpClient}, nil
}

// BaseURL returns the API root.
func (a *API) BaseURL() *url.URL {
	u := *a.base
	return &u
}

func (a *API) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	body := map[string]any{
		"password":    in.Password,
		"platform":    in.Platform,
		"remember_me": in.RememberMe,
	}
	if in.Email != "" {
		body["email"] = in.Email
	} else {
		body["username"] = in.Username
	}

	var out LoginResult
	if err := a.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	return out, nil
}

func (a *API) Refresh(ctx context.Context, refreshToken, platform string) (Tokens, error) {
	var out struct {
		Session Tokens `json:"session"`
	}
	body := map[string]any{"refresh_token": refreshToken, "platform": platform}
	if err := a.do(ctx, http.MethodPost, "/auth/refresh", "", body, &out); err != nil {
		return Tokens{}, fmt.Errorf("refresh: %w", err)
	}
	return out.Session, nil
}

func (a *API) Logout(ctx context.Context, accessToken string) error {
	if err := a.do(ctx, http.MethodPost, "/auth/logout", accessToken, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (a *API) PublicKey(ctx context.Context) (PublicKey, error) {
	var out PublicKey
	if err := a.do(ctx, http.MethodGet, "/auth/public_key", "", nil, &out); err != nil {
		return PublicKey{}, fmt.Errorf("public key: %w", err)
	}
	return out, nil
}

// Security reads the caller's revocation record from GET /me/security.
func (a *API) Security(ctx context.Context, accessToken string) (SecurityRecord, error) {
	var out SecurityRecord
	if err := a.do(ctx, http.MethodGet, "/me/security", accessToken, nil, &out); err != nil {
		return SecurityRecord{}, fmt.Errorf("security record: %w", err)
	}
	return out, nil
}

// RevokeAll signs the caller out of every device.
func (a *API) RevokeAll(ctx context.Context, accessToken string) (RevokeResult, error) {
	var out RevokeResult
	if err := a.do(ctx, http.MethodPost, "/auth/logout_all", accessToken, nil, &out); err != nil {
		return RevokeResult{}, fmt.Errorf("revoke all: %w", err)
	}
	return out, nil
}

// RevokeUser revokes every session of userID. The caller must be an admin.
func (a *API) RevokeUser(ctx context.Context, accessToken, userID string) (RevokeResult, error) {
	var out RevokeResult
	path := "/admin/users/" + strings.TrimSpace(userID) + "/sessions/revoke"
	if err := a.do(ctx, http.MethodPost, path, accessToken, nil, &out); err != nil {
		return RevokeResult{}, fmt.Errorf("revoke user: %w", err)
	}
	return out, nil
}

// CheckSession asks whether userID must sign in again. accessToken may be
// empty.
func (a *API) CheckSession(ctx context.Context, userID, accessToken string) (CheckResult, error) {
	var out CheckResult
	err := a.do(ctx, http.MethodPost, "/auth/session/check", accessToken, map[string]any{"userId": userID}, &out)
	if err != nil {
		return CheckResult{}, fmt.Errorf("check session: %w", err)
	}
	return out, nil
}

// do sends one JSON request. A 401 is returned wrapped in
// enforcer.ErrCredentialRejected; any other non-2xx status is an *APIError.
func (a *API) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	u := a.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, raw)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", enforcer.ErrCredentialRejected, apiErr)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// decodeAPIError understands both the {"error":{code,message}} shape and the
// session check's flat {"error":"..."} shape.
func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status}

	var nested struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Error.Code != "" {
		apiErr.Code = nested.Error.Code
		apiErr.Message = nested.Error.Message
		return apiErr
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Error != "" {
		apiErr.Message = flat.Error
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
