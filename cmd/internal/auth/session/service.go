package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"chirp/cmd/security/token"
)

// Service implements the session operations of the identity provider.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
	hasher token.Hasher
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
	AuthTime     time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens AccessTokenManager, hasher token.Hasher) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens, hasher: hasher}
}

func (s *Service) refreshTTL(dev DeviceContext) time.Duration {
	switch dev.Platform {
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		if dev.RememberMe {
			return s.cfg.RefreshTTLNative
		}
		return s.cfg.RefreshTTLNativeShort
	default:
		return s.cfg.RefreshTTLWeb
	}
}

func (s *Service) newRefreshToken() (plain, hash string, err error) {
	b := make([]byte, s.cfg.RefreshTokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, s.hasher.Hash(plain), nil
}

// PublicKeyHex returns the access-token verification key.
func (s *Service) PublicKeyHex() string { return s.tokens.PublicKeyHex() }

// Issuer returns the "iss" claim value of access tokens.
func (s *Service) Issuer() string { return s.cfg.Issuer }

// IssueSession starts a new session after an interactive login at now.
// The session's auth_time is now.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, err := s.newRefreshToken()
	if err != nil {
		return Issued{}, err
	}

	authTime := now.UTC().Truncate(time.Second)
	refreshExp := now.Add(s.refreshTTL(dev))

	sessionID, err := s.store.Create(ctx, now, NewSession{
		UserID:      userID,
		AuthTime:    authTime,
		Device:      dev,
		RefreshHash: refreshHash,
		ExpiresAt:   refreshExp,
	})
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(userID, sessionID, authTime, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
		AuthTime:     authTime,
	}, nil
}

// ParseAccessToken checks signature, issuer and expiry only. It does not
// consult session state, so a revoked session's token still parses until it
// expires. Use it only where a revoked client must still be answered, such
// as reading its own revocation record.
func (s *Service) ParseAccessToken(token string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(token, now)
}

// ValidateAccessToken verifies an access token and requires its session to
// be live.
func (s *Service) ValidateAccessToken(ctx context.Context, token string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}

	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}

	return claims, nil
}

// SessionAuthTime verifies token and returns its owner together with the
// auth_time stored on its session row, whether or not the session has since
// been revoked.
func (s *Service) SessionAuthTime(ctx context.Context, token string, now time.Time) (string, time.Time, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return "", time.Time{}, err
	}
	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	if row.UserID != claims.UserID {
		return "", time.Time{}, ErrInvalidToken
	}
	return row.UserID, row.AuthTime, nil
}

// LastAuthTime returns the newest login instant of userID.
func (s *Service) LastAuthTime(ctx context.Context, userID string) (time.Time, error) {
	return s.store.LastAuthTime(ctx, userID)
}

// RevokeSession revokes a single session (logout from one device).
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, ReasonLogout)
}

// InvalidateUser revokes every live session of userID. Refresh and live
// validation fail for all of them from this point on.
func (s *Service) InvalidateUser(ctx context.Context, now time.Time, userID string) error {
	_, err := s.store.RevokeAll(ctx, now, userID, ReasonRevokeAll)
	return err
}

// TouchSession updates last_used_at for a session (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}

// RotateRefresh exchanges a refresh token for a new session in the same
// chain. The new access token keeps the chain's original auth_time.
//
// A rotated token presented again is treated as theft: every session of the
// user is revoked and ErrRefreshReuseDetected is returned with the user id.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshTokenPlain string, dev DeviceContext) (Issued, string, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, "", ErrSessionNotFound
	}

	newPlain, newHash, err := s.newRefreshToken()
	if err != nil {
		return Issued{}, "", err
	}
	newExp := now.Add(s.refreshTTL(dev))

	old, newSessionID, err := s.store.Rotate(ctx, now, Rotation{
		OldRefreshHash: s.hasher.Hash(refreshTokenPlain),
		NewRefreshHash: newHash,
		NewExpiresAt:   newExp,
		Device:         dev,
	})
	if err != nil {
		return Issued{}, old.UserID, err
	}

	accessToken, accessExp, err := s.tokens.Issue(old.UserID, newSessionID, old.AuthTime, now)
	if err != nil {
		return Issued{}, old.UserID, err
	}

	return Issued{
		SessionID:    newSessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   newExp,
		AuthTime:     old.AuthTime,
	}, old.UserID, nil
}
