package auth

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSigningDisabled is returned by Issue when only the public key is configured.
	ErrSigningDisabled = errors.New("token signing disabled: no secret key")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
