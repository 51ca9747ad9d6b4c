// Package auth verifies PASETO v4.public bearer tokens issued by the platform's identity service.
package auth

import (
	"errors"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

var (
	// ErrConfig indicates an unusable key or issuer.
	ErrConfig = errors.New("auth: invalid config")
	// ErrInvalidToken is returned for any token that fails parsing or rules.
	ErrInvalidToken = errors.New("auth: invalid token")
)

const defaultClockSkew = 30 * time.Second

// Verifier checks v4.public tokens against the issuer's public key.
// The "uid" claim is the user id used as participant id.
type Verifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
	now       func() time.Time
}

// NewVerifier builds a Verifier from a hex-encoded Ed25519 public key.
func NewVerifier(publicKeyHex, issuer string) (*Verifier, error) {
	publicKeyHex = strings.TrimSpace(publicKeyHex)
	if publicKeyHex == "" {
		return nil, ErrConfig
	}
	pub, err := paseto.NewV4AsymmetricPublicKeyFromHex(publicKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &Verifier{
		issuer:    strings.TrimSpace(issuer),
		clockSkew: defaultClockSkew,
		public:    pub,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// VerifyBearer returns the token's user id.
func (v *Verifier) VerifyBearer(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	// Fresh parser per call so rules do not accumulate.
	p := paseto.NewParser()
	if v.issuer != "" {
		p.AddRule(paseto.IssuedBy(v.issuer))
	}
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(v.now().Add(v.clockSkew)))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return "", ErrInvalidToken
	}
	return uid, nil
}

// Signer mints tokens the Verifier accepts. Used by tooling and tests; production tokens
// come from the identity service.
type Signer struct {
	issuer string
	secret paseto.V4AsymmetricSecretKey
}

// NewSigner builds a Signer from a hex-encoded Ed25519 secret key.
func NewSigner(secretKeyHex, issuer string) (*Signer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	return &Signer{issuer: issuer, secret: secret}, nil
}

// GenerateSigner creates a Signer with a fresh keypair.
func GenerateSigner(issuer string) *Signer {
	return &Signer{issuer: issuer, secret: paseto.NewV4AsymmetricSecretKey()}
}

// PublicKeyHex returns the verification key.
func (s *Signer) PublicKeyHex() string { return s.secret.Public().ExportHex() }

// Issue signs a token for userID valid for ttl from now.
func (s *Signer) Issue(userID string, now time.Time, ttl time.Duration) string {
	tok := paseto.NewToken()
	tok.SetIssuer(s.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(ttl))
	_ = tok.Set("uid", userID)
	return tok.V4Sign(s.secret, nil)
}
