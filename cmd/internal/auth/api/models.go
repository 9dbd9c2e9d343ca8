package api

import "time"

type loginRequest struct {
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	Password   string  `json:"password"`
	RememberMe bool    `json:"remember_me"`
	Platform   string  `json:"platform"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	RememberMe   bool   `json:"remember_me"`
	Platform     string `json:"platform"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    *string   `json:"username"`
	Email       *string   `json:"email"`
	DisplayName *string   `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	// AuthTime is the Unix second of the interactive login this session
	// chain descends from.
	AuthTime int64 `json:"auth_time"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type publicKeyResponse struct {
	PublicKeyHex string `json:"public_key_hex"`
	Issuer       string `json:"issuer"`
}

// Revocation and session-check payloads keep the camelCase field names
// existing clients already send.

type revokeRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type revokeResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RevocationTime int64  `json:"revocationTime,omitempty"`
	RecordWritten  bool   `json:"recordWritten"`
}

type checkRequest struct {
	UserID string `json:"userId"`
}

type checkResponse struct {
	RequiresReauth bool   `json:"requiresReauth"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

type securityResponse struct {
	TokensValidAfterTime  *int64     `json:"tokensValidAfterTime,omitempty"`
	SessionRevokedAt      *time.Time `json:"sessionRevokedAt,omitempty"`
	LastSessionRevocation *string    `json:"lastSessionRevocation,omitempty"`
}
