package chat

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Attachments arrive
	// base64-encoded inside send_message payloads, so this bounds upload size.
	maxFrameBytes = 32 << 20 // 32 MiB
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
