package chatapi

import (
	"os"
	"strconv"
	"strings"

	v1 "github.com/Joseph-Soncco/app-pruebas/shared/contracts/realtime/v1"
)

// Config controls the REST surface.
type Config struct {
	MaxBodyBytes int64
	// PublicWSURL is advertised by GET /api/realtime. Empty means a path relative to the
	// request host.
	PublicWSURL string
	WSPath      string
	Subprotocol string
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		WSPath:       "/ws",
		Subprotocol:  v1.Subprotocol,
	}
}

// LoadConfigFromEnv reads CHAT_API_* variables over DefaultConfig.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("CHAT_API_MAX_BODY_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
	cfg.PublicWSURL = strings.TrimSpace(os.Getenv("CHAT_API_PUBLIC_WS_URL"))
	return cfg
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if strings.TrimSpace(c.WSPath) == "" {
		c.WSPath = d.WSPath
	}
	if strings.TrimSpace(c.Subprotocol) == "" {
		c.Subprotocol = d.Subprotocol
	}
	return c
}
