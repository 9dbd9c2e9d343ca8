package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	// DBMigrate applies the embedded migrations at startup.
	DBMigrate bool

	// RedisURL enables the revocation record cache. Empty disables it.
	RedisURL       string
	RecordCacheTTL time.Duration

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, CHIRP_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool

	// DevEphemeralKey signs access tokens with a key generated at startup
	// when CHIRP_PASETO_V4_SECRET_KEY_HEX is unset. Tokens do not survive a
	// restart. Dev only.
	DevEphemeralKey bool

	MetricsEnabled bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CHIRP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CHIRP_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHIRP_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHIRP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHIRP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHIRP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHIRP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CHIRP_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CHIRP_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("CHIRP_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CHIRP_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("CHIRP_DB_MIGRATE", false),

		RedisURL:       EnvString("CHIRP_REDIS_URL", ""),
		RecordCacheTTL: EnvDuration("CHIRP_RECORD_CACHE_TTL", 15*time.Second),

		ReadinessRequireDB: EnvBool("CHIRP_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("CHIRP_REQUIRE_TOKEN_HMAC", false),
		DevEphemeralKey:  EnvBool("CHIRP_DEV_EPHEMERAL_KEY", false),

		MetricsEnabled: EnvBool("CHIRP_METRICS_ENABLED", true),

		CORSAllowedOrigins:   EnvCSV("CHIRP_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("CHIRP_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CHIRP_CORS_MAX_AGE_SECONDS", 600),
	}
}
