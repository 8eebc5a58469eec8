// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package grant

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer is the iss claim of grants minted by the authenticator.
	DefaultIssuer = "go-pinvault/biometric"

	// DefaultAudience is the aud claim expected by the keystore.
	DefaultAudience = "go-pinvault/keystore"

	// DefaultTTL bounds how long a grant may sit between challenge and finalize.
	DefaultTTL = 30 * time.Second
)

var (
	// ErrInvalidGrant is returned for malformed, unsigned or foreign grants.
	ErrInvalidGrant = errors.New("grant: invalid")

	// ErrExpired is returned when the grant's exp is in the past.
	ErrExpired = errors.New("grant: expired")

	// ErrMismatch is returned when the grant names another operation or key.
	ErrMismatch = errors.New("grant: bound to a different operation")

	// ErrNotUserVerified is returned when the uv claim is absent or false.
	ErrNotUserVerified = errors.New("grant: user not verified")
)

// Claims are the JWT claims carried by a grant.
type Claims struct {
	Operation    string `json:"op"`
	Key          string `json:"key"`
	UserVerified bool   `json:"uv"`
	jwt.RegisteredClaims
}

// Config configures an Issuer or Verifier.
type Config struct {
	// Issuer is the iss claim (default: DefaultIssuer)
	Issuer string
	// Audience is the aud claim (default: DefaultAudience)
	Audience string
	// TTL is how long grants are valid (default: DefaultTTL)
	TTL time.Duration
	// Now overrides the clock, for tests
	Now func() time.Time
}

func (c *Config) withDefaults() Config {
	out := Config{Issuer: DefaultIssuer, Audience: DefaultAudience, TTL: DefaultTTL, Now: time.Now}
	if c == nil {
		return out
	}
	if c.Issuer != "" {
		out.Issuer = c.Issuer
	}
	if c.Audience != "" {
		out.Audience = c.Audience
	}
	if c.TTL > 0 {
		out.TTL = c.TTL
	}
	if c.Now != nil {
		out.Now = c.Now
	}
	return out
}

// Issuer mints grants. Only the authenticator should hold one.
type Issuer struct {
	privateKey ed25519.PrivateKey
	cfg        Config
}

// NewIssuer creates an Issuer signing with privateKey.
func NewIssuer(privateKey ed25519.PrivateKey, config *Config) (*Issuer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("grant: invalid ed25519 private key")
	}
	return &Issuer{privateKey: privateKey, cfg: config.withDefaults()}, nil
}

// Issue returns a signed grant for one operation on one key.
func (i *Issuer) Issue(operationID, keyName string) (string, error) {
	if operationID == "" || keyName == "" {
		return "", fmt.Errorf("grant: operation ID and key name are required")
	}

	now := i.cfg.Now()
	claims := &Claims{
		Operation:    operationID,
		Key:          keyName,
		UserVerified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(i.privateKey)
	if err != nil {
		return "", fmt.Errorf("grant: failed to sign: %w", err)
	}
	return signed, nil
}

// PublicKey returns the key grants are verified with.
func (i *Issuer) PublicKey() crypto.PublicKey {
	return i.privateKey.Public()
}

// TTL returns the grant lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TTL
}

// Verifier checks grants. The keystore holds one.
type Verifier struct {
	publicKey ed25519.PublicKey
	cfg       Config
}

// NewVerifier creates a Verifier for grants signed by the key pair of publicKey.
func NewVerifier(publicKey ed25519.PublicKey, config *Config) (*Verifier, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("grant: invalid ed25519 public key")
	}
	return &Verifier{publicKey: publicKey, cfg: config.withDefaults()}, nil
}

// Verify parses token and checks signature, issuer, audience, expiry, the
// uv claim and that it is bound to operationID and keyName.
func (v *Verifier) Verify(token, operationID, keyName string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.publicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.cfg.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidGrant
	}

	if !claims.UserVerified {
		return nil, ErrNotUserVerified
	}
	if claims.Operation != operationID || claims.Key != keyName {
		return nil, ErrMismatch
	}

	return claims, nil
}

// Now returns the verifier's current time.
func (v *Verifier) Now() time.Time {
	return v.cfg.Now()
}

// Authority is a matched Issuer and Verifier over one in-memory key pair.
// Grants never outlive the process that issued them.
type Authority struct {
	issuer   *Issuer
	verifier *Verifier
}

// NewAuthority generates a fresh Ed25519 key pair.
func NewAuthority(ttl time.Duration) (*Authority, error) {
	return NewAuthorityWithConfig(&Config{TTL: ttl})
}

// NewAuthorityWithConfig generates a fresh Ed25519 key pair with config.
func NewAuthorityWithConfig(config *Config) (*Authority, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("grant: failed to generate key: %w", err)
	}
	issuer, err := NewIssuer(priv, config)
	if err != nil {
		return nil, err
	}
	verifier, err := NewVerifier(pub, config)
	if err != nil {
		return nil, err
	}
	return &Authority{issuer: issuer, verifier: verifier}, nil
}

// Issuer returns the signing half.
func (a *Authority) Issuer() *Issuer {
	return a.issuer
}

// Verifier returns the verifying half.
func (a *Authority) Verifier() *Verifier {
	return a.verifier
}
