package realtime

import "time"

// Frame and message limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message body length (runes).
	maxMessageChars = 4000
)

// Gateway defaults; each can be overridden through GatewayConfig.
const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// How long an unauthenticated connection may wait before sending hello.
	authGracePeriod = 10 * time.Second
)
