package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// AccessClaims is the identity envelope carried by an access token.
type AccessClaims struct {
	UserID    string
	SessionID string
	// AuthTime is the interactive login instant of the session chain.
	AuthTime  time.Time
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
type AccessTokenManager interface {
	Issue(userID, sessionID string, authTime, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	PublicKeyHex() string
}

const claimAuthTime = "auth_time"

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds an AccessTokenManager signing v4.public tokens.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(userID, sessionID string, authTime, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("uid", userID)
	_ = tok.Set("sid", sessionID)
	_ = tok.Set(claimAuthTime, authTime.Unix())

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (AccessClaims, error) {
	return VerifyV4Public(m.public, m.issuer, token, now.Add(m.clockSkew))
}

// VerifyV4Public verifies a Chirp access token with a public key. Clients use
// it to read their own claims with the key from GET /auth/public_key.
func VerifyV4Public(public paseto.V4AsymmetricPublicKey, issuer, token string, validAt time.Time) (AccessClaims, error) {
	// NewParser carries a NotExpired rule bound to the wall clock; ValidAt is
	// the only time rule so exp, nbf and iat are judged at validAt.
	p := paseto.NewParserWithoutExpiryCheck()
	if issuer != "" {
		p.AddRule(paseto.IssuedBy(issuer))
	}
	p.AddRule(paseto.ValidAt(validAt))

	parsed, err := p.ParseV4Public(public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	var authUnix int64
	if err := parsed.Get(claimAuthTime, &authUnix); err != nil || authUnix <= 0 {
		return AccessClaims{}, ErrInvalidToken
	}

	return AccessClaims{
		UserID:    uid,
		SessionID: sid,
		AuthTime:  time.Unix(authUnix, 0).UTC(),
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}

// ParsePublicKeyHex decodes a hex public key as served by the API.
func ParsePublicKeyHex(hexKey string) (paseto.V4AsymmetricPublicKey, error) {
	k, err := paseto.NewV4AsymmetricPublicKeyFromHex(hexKey)
	if err != nil {
		return paseto.V4AsymmetricPublicKey{}, ErrConfig
	}
	return k, nil
}
