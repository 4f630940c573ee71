package realtime

import (
	"context"
	"strings"
)

// Identity is the authenticated principal behind a connection. It never changes for the
// lifetime of a Client.
type Identity struct {
	ID   string
	Name string
}

// Valid reports whether the identity carries a user id.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.ID) != ""
}

// DisplayName returns Name, falling back to the id.
func (i Identity) DisplayName() string {
	if n := strings.TrimSpace(i.Name); n != "" {
		return n
	}
	return i.ID
}

// Authenticator resolves a bearer credential to an Identity.
// Implementations return an error wrapping ErrAuthFailed for bad credentials.
type Authenticator interface {
	ResolveIdentity(ctx context.Context, token string) (Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (Identity, error)

func (f AuthenticatorFunc) ResolveIdentity(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}
