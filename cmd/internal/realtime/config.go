package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 8

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute

	// Origin is required by default and only localhost is allowed.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig holds the websocket gateway knobs.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads CHIRP_WS_* over the defaults. Invalid
// values fall back to the default.
func LoadGatewayConfigFromEnv() GatewayConfig {
	d := DefaultGatewayConfig()

	cfg := GatewayConfig{
		DevInsecure:      envBoolWS("CHIRP_WS_DEV_INSECURE", false),
		OriginRequired:   envBoolWS("CHIRP_WS_ORIGIN_REQUIRED", d.OriginRequired),
		AllowedOrigins:   splitCSV(envStringWS("CHIRP_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)),
		WriteTimeout:     envDurationWS("CHIRP_WS_WRITE_TIMEOUT", d.WriteTimeout),
		ReadIdleTimeout:  envDurationWS("CHIRP_WS_READ_IDLE_TIMEOUT", d.ReadIdleTimeout),
		SendQueueSize:    envIntWS("CHIRP_WS_SEND_QUEUE", d.SendQueueSize),
		HeartbeatEvery:   envDurationWS("CHIRP_WS_HEARTBEAT_INTERVAL", d.HeartbeatEvery),
		HeartbeatTimeout: envDurationWS("CHIRP_WS_HEARTBEAT_TIMEOUT", d.HeartbeatTimeout),
		RateEvents:       envIntWS("CHIRP_WS_RATE_EVENTS", d.RateEvents),
		RateWindow:       envDurationWS("CHIRP_WS_RATE_WINDOW", d.RateWindow),
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	return cfg
}

func envStringWS(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBoolWS(key string, def bool) bool {
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

func envIntWS(key string, def int) int {
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

func envDurationWS(key string, def time.Duration) time.Duration {
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

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
