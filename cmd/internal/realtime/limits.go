package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit). Clients only send
	// small control envelopes.
	maxFrameBytes = 8 << 10 // 8 KiB
)

const (
	// Heartbeat defaults (overridable by CHIRP_WS_HEARTBEAT_*).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
