package api

import (
	"net"
	"net/http"
	"strings"

	"chirp/cmd/identity"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/revocation"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		CreatedAt:   u.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		SessionID:        issued.SessionID,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
		AuthTime:         issued.AuthTime.Unix(),
	}
}

func toSecurityResponse(rec revocation.Record) securityResponse {
	return securityResponse{
		TokensValidAfterTime:  rec.TokensValidAfterTime,
		SessionRevokedAt:      rec.SessionRevokedAt,
		LastSessionRevocation: rec.LastSessionRevocation,
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func normalizeLoginRequest(req loginRequest) (identifier, password string, platform session.Platform, ok bool) {
	username := trimPtr(req.Username)
	email := trimPtr(req.Email)
	password = req.Password
	if strings.TrimSpace(password) == "" {
		return "", "", session.PlatformUnknown, false
	}
	if (username == nil) == (email == nil) {
		return "", "", session.PlatformUnknown, false
	}
	if username != nil {
		identifier = identity.NormalizeUsername(*username)
	} else {
		identifier = identity.NormalizeEmail(*email)
	}
	return identifier, password, session.ParsePlatform(req.Platform), true
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
