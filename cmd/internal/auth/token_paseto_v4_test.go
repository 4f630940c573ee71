package auth

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func newTestManager(t *testing.T, mutate func(*Config)) (TokenManager, Config) {
	t.Helper()
	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.Issuer = "chat-test"
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, cfg
}

func TestPasetoManager_IssueVerify(t *testing.T) {
	m, _ := newTestManager(t, nil)
	now := time.Now().UTC()

	tok, exp, err := m.Issue("user-1", "Ana", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expiration must be in the future")
	}

	claims, err := m.Verify(tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Name != "Ana" || claims.Issuer != "chat-test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestPasetoManager_NameIsOptional(t *testing.T) {
	m, _ := newTestManager(t, nil)
	now := time.Now().UTC()

	tok, _, err := m.Issue("user-1", "", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Name != "" {
		t.Fatalf("expected empty name, got %q", claims.Name)
	}
}

func TestPasetoManager_RejectsExpired(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.AccessTokenTTL = time.Minute
		c.ClockSkew = 0
	})
	issued := time.Now().UTC().Add(-2 * time.Minute)

	tok, _, err := m.Issue("user-1", "", issued)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, time.Now().UTC()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPasetoManager_RejectsForeignIssuer(t *testing.T) {
	m, cfg := newTestManager(t, nil)
	now := time.Now().UTC()

	tok, _, err := m.Issue("user-1", "", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cfg.Issuer = "someone-else"
	other, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := other.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for issuer mismatch, got %v", err)
	}
}

func TestPasetoManager_VerifyOnlyWithPublicKey(t *testing.T) {
	signer, cfg := newTestManager(t, nil)
	now := time.Now().UTC()
	tok, _, err := signer.Issue("user-1", "Ana", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier, err := NewPasetoV4PublicManager(Config{
		Issuer:               cfg.Issuer,
		ClockSkew:            cfg.ClockSkew,
		PasetoV4PublicKeyHex: signer.PublicKeyHex(),
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if _, err := verifier.Verify(tok, now); err != nil {
		t.Fatalf("verify with public key: %v", err)
	}
	if _, _, err := verifier.Issue("user-2", "", now); !errors.Is(err, ErrSigningDisabled) {
		t.Fatalf("expected ErrSigningDisabled, got %v", err)
	}
}

func TestPasetoManager_BadKeys(t *testing.T) {
	cases := []Config{
		{Issuer: "x"},
		{Issuer: "x", PasetoV4SecretKeyHex: "zz"},
		{Issuer: "x", PasetoV4PublicKeyHex: "abcd"},
	}
	for i, cfg := range cases {
		if _, err := NewPasetoV4PublicManager(cfg); !errors.Is(err, ErrConfig) {
			t.Fatalf("case %d: expected ErrConfig, got %v", i, err)
		}
	}
}

func TestGenerateKeyPairHex(t *testing.T) {
	secretHex, publicHex := GenerateKeyPairHex()

	signer, err := NewPasetoV4PublicManager(Config{Issuer: "chat", PasetoV4SecretKeyHex: secretHex})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := NewPasetoV4PublicManager(Config{Issuer: "chat", PasetoV4PublicKeyHex: publicHex})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if signer.PublicKeyHex() != publicHex {
		t.Fatalf("public key mismatch")
	}

	now := time.Now().UTC()
	tok, _, err := signer.Issue("user-2", "", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(tok, now); err != nil {
		t.Fatalf("verify with exported public key: %v", err)
	}
}
