package app

import (
	"errors"
	"slices"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/auth"
)

// ValidateSecurityConfig enforces the startup security policy.
// Production refuses every dev-only switch instead of silently running with it.
func ValidateSecurityConfig(cfg Config, authCfg auth.Config) error {
	if cfg.CORSAllowCredentials && slices.Contains(cfg.CORSAllowedOrigins, "*") {
		return errors.New("security policy: CHAT_CORS_ALLOW_CREDENTIALS=true cannot be combined with a * origin")
	}
	if !cfg.Production() {
		return nil
	}

	if authCfg.DevTokens {
		return errors.New("security policy: CHAT_AUTH_DEV=true is not allowed when CHAT_ENV=production")
	}
	if !authCfg.HasKeys() {
		return errors.New("security policy: production requires a PASETO v4 key")
	}
	if cfg.WSDevInsecure {
		return errors.New("security policy: CHAT_WS_DEV_INSECURE=true is not allowed when CHAT_ENV=production")
	}
	if !cfg.WSOriginRequired {
		return errors.New("security policy: CHAT_WS_ORIGIN_REQUIRED=false is not allowed when CHAT_ENV=production")
	}
	if cfg.ResolvedStoreDriver() == StoreMemory {
		return errors.New("security policy: the in-memory store is not allowed when CHAT_ENV=production")
	}
	return nil
}
