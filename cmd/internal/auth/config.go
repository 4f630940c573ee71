package auth

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines the runtime configuration for token verification.
//
// At least one key is required. With only the public key the manager verifies; with the
// secret key it can also issue (the public key is then derived from it).
type Config struct {
	// Issuer is the expected "iss" claim.
	Issuer string

	// AccessTokenTTL is the lifetime of tokens issued by this process.
	AccessTokenTTL time.Duration

	// ClockSkew is the tolerance applied during validation.
	ClockSkew time.Duration

	PasetoV4SecretKeyHex string
	PasetoV4PublicKeyHex string

	// DevTokens enables the "dev:<id>[:<name>]" resolver. Local development only.
	DevTokens bool
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "chat",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// One of these is required unless CHAT_AUTH_DEV=true:
//   - CHAT_PASETO_V4_PUBLIC_KEY_HEX
//   - CHAT_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - CHAT_AUTH_ISSUER
//   - CHAT_AUTH_ACCESS_TTL
//   - CHAT_AUTH_CLOCK_SKEW
//   - CHAT_AUTH_DEV
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CHAT_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("CHAT_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("CHAT_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("CHAT_AUTH_DEV"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.DevTokens = b
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("CHAT_PASETO_V4_SECRET_KEY_HEX"))
	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("CHAT_PASETO_V4_PUBLIC_KEY_HEX"))

	if !cfg.HasKeys() && !cfg.DevTokens {
		return Config{}, ErrConfig
	}
	return cfg, nil
}

// HasKeys reports whether a PASETO key is configured.
func (c Config) HasKeys() bool {
	return c.PasetoV4SecretKeyHex != "" || c.PasetoV4PublicKeyHex != ""
}
