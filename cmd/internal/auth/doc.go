// Package auth resolves bearer credentials into chat identities.
//
// Access tokens are PASETO v4.public, signed by whoever owns the user accounts (the web
// application) and verified here with the public key. When the secret key is configured the
// same manager can also issue tokens, which the CLI and tests use.
//
// A development resolver accepting "dev:<id>[:<name>]" exists for local work and must never
// be enabled in production.
package auth
