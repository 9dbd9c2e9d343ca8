package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the session provider configuration.
type Config struct {
	// Issuer is the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL is the lifetime of access tokens. It also bounds how long
	// a client can keep reading its own revocation record after being revoked.
	AccessTokenTTL time.Duration

	// Refresh token TTL policies per platform.
	RefreshTTLWeb         time.Duration
	RefreshTTLNative      time.Duration
	RefreshTTLNativeShort time.Duration

	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key signing access tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns development defaults. The signing key is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:                "chirp",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTTLWeb:         7 * 24 * time.Hour,
		RefreshTTLNative:      60 * 24 * time.Hour,
		RefreshTTLNativeShort: 14 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
	}
}

// LoadConfigFromEnv overlays environment variables on DefaultConfig.
//
// Required:
//   - CHIRP_PASETO_V4_SECRET_KEY_HEX
//
// Optional (Go duration strings unless noted):
//   - CHIRP_AUTH_ISSUER
//   - CHIRP_AUTH_ACCESS_TTL
//   - CHIRP_AUTH_REFRESH_TTL_WEB
//   - CHIRP_AUTH_REFRESH_TTL_NATIVE
//   - CHIRP_AUTH_REFRESH_TTL_NATIVE_SHORT
//   - CHIRP_AUTH_CLOCK_SKEW
//   - CHIRP_AUTH_REFRESH_TOKEN_BYTES (integer, 32..64)
//
// Any invalid value yields ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CHIRP_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"CHIRP_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"CHIRP_AUTH_REFRESH_TTL_WEB", &cfg.RefreshTTLWeb, false},
		{"CHIRP_AUTH_REFRESH_TTL_NATIVE", &cfg.RefreshTTLNative, false},
		{"CHIRP_AUTH_REFRESH_TTL_NATIVE_SHORT", &cfg.RefreshTTLNativeShort, false},
		{"CHIRP_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("CHIRP_AUTH_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("CHIRP_PASETO_V4_SECRET_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	if cfg.RefreshTTLNative < cfg.RefreshTTLNativeShort {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
