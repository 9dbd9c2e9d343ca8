package app

import (
	"errors"

	"chirp/cmd/security/token"
)

// loadTokenHasher builds the refresh-token hasher and enforces the startup
// security policy. Falling back to plain SHA-256 when HMAC is required is
// never allowed.
func loadTokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: CHIRP_REQUIRE_TOKEN_HMAC=true but CHIRP_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, errors.New("security policy: CHIRP_REQUIRE_TOKEN_HMAC=true but CHIRP_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return token.Hasher{}, err
		}
	}

	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: CHIRP_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
