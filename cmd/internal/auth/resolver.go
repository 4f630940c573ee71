package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

// devTokenPrefix marks development credentials: "dev:<id>[:<name>]".
const devTokenPrefix = "dev:"

// TokenResolver verifies access tokens and maps their claims onto an Identity.
type TokenResolver struct {
	tokens TokenManager
	now    func() time.Time
}

var _ realtime.Authenticator = (*TokenResolver)(nil)

// NewTokenResolver wraps tokens.
func NewTokenResolver(tokens TokenManager) *TokenResolver {
	return &TokenResolver{tokens: tokens, now: func() time.Time { return time.Now().UTC() }}
}

// ResolveIdentity implements realtime.Authenticator.
func (r *TokenResolver) ResolveIdentity(ctx context.Context, token string) (realtime.Identity, error) {
	if err := ctx.Err(); err != nil {
		return realtime.Identity{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return realtime.Identity{}, fmt.Errorf("%w: empty token", realtime.ErrAuthFailed)
	}

	claims, err := r.tokens.Verify(token, r.now())
	if err != nil {
		return realtime.Identity{}, fmt.Errorf("%w: %w", realtime.ErrAuthFailed, err)
	}
	return realtime.Identity{ID: claims.UserID, Name: claims.Name}, nil
}

// DevResolver accepts "dev:<id>[:<name>]" credentials without any verification.
type DevResolver struct{}

var _ realtime.Authenticator = DevResolver{}

// ResolveIdentity implements realtime.Authenticator.
func (DevResolver) ResolveIdentity(_ context.Context, token string) (realtime.Identity, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(token), devTokenPrefix)
	if !ok {
		return realtime.Identity{}, fmt.Errorf("%w: not a dev token", realtime.ErrAuthFailed)
	}
	id, name, _ := strings.Cut(rest, ":")
	id = strings.TrimSpace(id)
	if id == "" {
		return realtime.Identity{}, fmt.Errorf("%w: empty dev identity", realtime.ErrAuthFailed)
	}
	return realtime.Identity{ID: id, Name: strings.TrimSpace(name)}, nil
}

// Chain tries each authenticator in order and returns the first success, or the last error.
type Chain []realtime.Authenticator

// ResolveIdentity implements realtime.Authenticator.
func (c Chain) ResolveIdentity(ctx context.Context, token string) (realtime.Identity, error) {
	lastErr := fmt.Errorf("%w: no authenticator configured", realtime.ErrAuthFailed)
	for _, a := range c {
		if a == nil {
			continue
		}
		id, err := a.ResolveIdentity(ctx, token)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return realtime.Identity{}, lastErr
}

// NewAuthenticator builds the authenticator described by cfg.
func NewAuthenticator(cfg Config) (realtime.Authenticator, TokenManager, error) {
	var (
		chain  Chain
		tokens TokenManager
	)
	if cfg.HasKeys() {
		m, err := NewPasetoV4PublicManager(cfg)
		if err != nil {
			return nil, nil, err
		}
		tokens = m
		chain = append(chain, NewTokenResolver(m))
	}
	if cfg.DevTokens {
		chain = append(chain, DevResolver{})
	}
	if len(chain) == 0 {
		return nil, nil, ErrConfig
	}
	if len(chain) == 1 {
		return chain[0], tokens, nil
	}
	return chain, tokens, nil
}
