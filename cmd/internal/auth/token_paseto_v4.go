package auth

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the identity envelope carried by an access token.
type Claims struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// TokenManager issues and verifies short-lived access tokens.
type TokenManager interface {
	Issue(userID, name string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Claims, error)
	PublicKeyHex() string
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	canSign bool
	secret  paseto.V4AsymmetricSecretKey
	public  paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds a TokenManager based on PASETO v4.public.
//
// The secret key wins when both keys are configured. Clock skew is applied during
// verification via ValidAt to tolerate minor clock differences.
func NewPasetoV4PublicManager(cfg Config) (TokenManager, error) {
	m := &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultConfig().AccessTokenTTL
	}

	switch {
	case cfg.PasetoV4SecretKeyHex != "":
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = secret
		m.public = secret.Public()
		m.canSign = true
	case cfg.PasetoV4PublicKeyHex != "":
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PasetoV4PublicKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		m.public = public
	default:
		return nil, ErrConfig
	}
	return m, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(userID, name string, now time.Time) (string, time.Time, error) {
	if !m.canSign {
		return "", time.Time{}, ErrSigningDisabled
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("uid", userID)
	if name = strings.TrimSpace(name); name != "" {
		_ = tok.Set("name", name)
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future to avoid failing "nbf" when clocks differ.
	validNow := now.Add(m.clockSkew)

	// Fresh parser per call so rules never accumulate.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, ErrInvalidToken
	}
	// name is optional.
	name, _ := parsed.GetString("name")

	return Claims{
		UserID:    uid,
		Name:      name,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}

// GenerateKeyPairHex returns a fresh v4.public key pair, hex encoded, for
// CHAT_PASETO_V4_SECRET_KEY_HEX and CHAT_PASETO_V4_PUBLIC_KEY_HEX.
func GenerateKeyPairHex() (secretHex, publicHex string) {
	secret := paseto.NewV4AsymmetricSecretKey()
	return secret.ExportHex(), secret.Public().ExportHex()
}
