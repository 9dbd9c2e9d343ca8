package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Progressive per-user lockout, counted from auth.login.failed entries
	// in the security log over LoginUserWindow.
	LoginUserWindow        time.Duration
	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           1 << 20, // 1 MiB
		LoginUserWindow:        15 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv loads auth config from CHIRP_AUTH_* with safe defaults.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	cfg := Config{
		TrustProxy:             envBool("CHIRP_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:           envInt64("CHIRP_AUTH_MAX_BODY_BYTES", d.MaxBodyBytes),
		LoginUserWindow:        envDuration("CHIRP_AUTH_LOGIN_USER_WINDOW", d.LoginUserWindow),
		LockoutShortThreshold:  envInt("CHIRP_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD", d.LockoutShortThreshold),
		LockoutShortDuration:   envDuration("CHIRP_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", d.LockoutShortDuration),
		LockoutLongThreshold:   envInt("CHIRP_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD", d.LockoutLongThreshold),
		LockoutLongDuration:    envDuration("CHIRP_AUTH_LOGIN_LOCKOUT_LONG_DURATION", d.LockoutLongDuration),
		LockoutSevereThreshold: envInt("CHIRP_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD", d.LockoutSevereThreshold),
		LockoutSevereDuration:  envDuration("CHIRP_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION", d.LockoutSevereDuration),
	}

	// Thresholds must escalate; a misordered set falls back to defaults.
	if cfg.LockoutShortThreshold > cfg.LockoutLongThreshold || cfg.LockoutLongThreshold > cfg.LockoutSevereThreshold {
		cfg.LockoutShortThreshold = d.LockoutShortThreshold
		cfg.LockoutLongThreshold = d.LockoutLongThreshold
		cfg.LockoutSevereThreshold = d.LockoutSevereThreshold
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
