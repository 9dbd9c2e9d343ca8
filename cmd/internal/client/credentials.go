package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/enforcer"

	paseto "aidanwoods.dev/go-paseto"
	"golang.org/x/sync/singleflight"
)

// ErrSignedOut is returned by Credentials after Clear.
var ErrSignedOut = fmt.Errorf("%w: signed out", enforcer.ErrCredentialRejected)

// refreshLeeway refreshes the access token this long before it expires.
const refreshLeeway = 30 * time.Second

// Credentials holds the signed-in session and is the enforcer's view of it:
// it reads auth_time from the access token (ClaimsSource) and the user's
// cutoff from GET /me/security (RecordSource).
type Credentials struct {
	api      *API
	platform string
	now      func() time.Time

	refresh singleflight.Group

	mu     sync.Mutex
	key    *paseto.V4AsymmetricPublicKey
	issuer string
	userID string
	tokens *Tokens
	gen    uint64
}

// NewCredentials builds an empty holder.
func NewCredentials(api *API, platform string) *Credentials {
	return &Credentials{api: api, platform: platform, now: time.Now}
}

// SetVerifier installs the public key access tokens are checked against.
func (c *Credentials) SetVerifier(pk PublicKey) error {
	key, err := session.ParsePublicKeyHex(pk.Hex)
	if err != nil {
		return fmt.Errorf("client: public key: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = &key
	c.issuer = pk.Issuer
	return nil
}

func (c *Credentials) hasVerifier() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key != nil
}

// Set replaces the held session.
func (c *Credentials) Set(userID string, t Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.tokens = &t
	c.gen++
}

// Clear forgets the session and reports whether one was held. A refresh in
// flight when Clear runs is discarded.
func (c *Credentials) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.tokens != nil
	c.userID = ""
	c.tokens = nil
	c.gen++
	return had
}

// UserID returns the signed-in user, or "" when signed out.
func (c *Credentials) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Tokens returns a copy of the held session.
func (c *Credentials) Tokens() (Tokens, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return Tokens{}, false
	}
	return *c.tokens, true
}

// AccessToken returns a usable access token, refreshing it when it is about
// to expire. Concurrent callers share one refresh.
func (c *Credentials) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.tokens == nil {
		c.mu.Unlock()
		return "", ErrSignedOut
	}
	if c.now().Add(refreshLeeway).Before(c.tokens.AccessExpiresAt) {
		tok := c.tokens.AccessToken
		c.mu.Unlock()
		return tok, nil
	}
	refreshToken := c.tokens.RefreshToken
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.refresh.Do(refreshToken, func() (any, error) {
		next, err := c.api.Refresh(ctx, refreshToken, c.platform)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return "", ErrSignedOut
		}
		c.tokens = &next
		c.gen++
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// AuthTime verifies the access token against the server's public key and
// returns its auth_time claim.
func (c *Credentials) AuthTime(ctx context.Context) (time.Time, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return time.Time{}, err
	}

	c.mu.Lock()
	key, issuer, userID := c.key, c.issuer, c.userID
	c.mu.Unlock()
	if key == nil {
		return time.Time{}, errors.New("client: no verification key")
	}

	claims, err := session.VerifyV4Public(*key, issuer, tok, c.now())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", enforcer.ErrCredentialRejected, err)
	}
	if claims.UserID != userID {
		return time.Time{}, fmt.Errorf("%w: token belongs to another user", enforcer.ErrCredentialRejected)
	}
	return claims.AuthTime, nil
}

// TokensValidAfter reads the signed-in user's revocation cutoff.
func (c *Credentials) TokensValidAfter(ctx context.Context) (int64, bool, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return 0, false, err
	}
	rec, err := c.api.Security(ctx, tok)
	if err != nil {
		return 0, false, err
	}
	if rec.TokensValidAfterTime == nil {
		return 0, false, nil
	}
	return *rec.TokensValidAfterTime, true, nil
}
