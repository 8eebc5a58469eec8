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
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	authority, err := NewAuthority(time.Minute)
	require.NoError(t, err)

	token, err := authority.Issuer().Issue("op-1", "pin-key")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	claims, err := authority.Verifier().Verify(token, "op-1", "pin-key")
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.Operation)
	assert.Equal(t, "pin-key", claims.Key)
	assert.True(t, claims.UserVerified)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestIssue_UniqueIDs(t *testing.T) {
	authority, err := NewAuthority(time.Minute)
	require.NoError(t, err)

	a, err := authority.Issuer().Issue("op", "k")
	require.NoError(t, err)
	b, err := authority.Issuer().Issue("op", "k")
	require.NoError(t, err)

	ca, err := authority.Verifier().Verify(a, "op", "k")
	require.NoError(t, err)
	cb, err := authority.Verifier().Verify(b, "op", "k")
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestIssue_RequiresBinding(t *testing.T) {
	authority, err := NewAuthority(time.Minute)
	require.NoError(t, err)

	_, err = authority.Issuer().Issue("", "k")
	assert.Error(t, err)
	_, err = authority.Issuer().Issue("op", "")
	assert.Error(t, err)
}

func TestVerify_Mismatch(t *testing.T) {
	authority, err := NewAuthority(time.Minute)
	require.NoError(t, err)

	token, err := authority.Issuer().Issue("op-1", "pin-key")
	require.NoError(t, err)

	_, err = authority.Verifier().Verify(token, "op-2", "pin-key")
	assert.ErrorIs(t, err, ErrMismatch)

	_, err = authority.Verifier().Verify(token, "op-1", "other-key")
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestVerify_Expired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	authority, err := NewAuthorityWithConfig(&Config{TTL: time.Second, Now: clock})
	require.NoError(t, err)

	token, err := authority.Issuer().Issue("op", "k")
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	_, err = authority.Verifier().Verify(token, "op", "k")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_ForeignSigner(t *testing.T) {
	ours, err := NewAuthority(time.Minute)
	require.NoError(t, err)
	theirs, err := NewAuthority(time.Minute)
	require.NoError(t, err)

	token, err := theirs.Issuer().Issue("op", "k")
	require.NoError(t, err)

	_, err = ours.Verifier().Verify(token, "op", "k")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestVerify_WrongAudience(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	issuer, err := NewIssuer(priv, &Config{Audience: "someone-else"})
	require.NoError(t, err)
	verifier, err := NewVerifier(pub, nil)
	require.NoError(t, err)

	token, err := issuer.Issue("op", "k")
	require.NoError(t, err)

	_, err = verifier.Verify(token, "op", "k")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestVerify_NotUserVerified(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	verifier, err := NewVerifier(pub, nil)
	require.NoError(t, err)

	now := time.Now()
	claims := &Claims{
		Operation: "op",
		Key:       "k",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Audience:  jwt.ClaimStrings{DefaultAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)

	_, err = verifier.Verify(token, "op", "k")
	assert.ErrorIs(t, err, ErrNotUserVerified)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	authority, err := NewAuthority(time.Minute)
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"iss": DefaultIssuer,
		"aud": DefaultAudience,
		"op":  "op",
		"key": "k",
		"uv":  true,
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = authority.Verifier().Verify(token, "op", "k")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestVerify_Garbage(t *testing.T) {
	authority, err := NewAuthority(time.Minute)
	require.NoError(t, err)

	_, err = authority.Verifier().Verify("not.a.jwt", "op", "k")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestNewIssuer_InvalidKey(t *testing.T) {
	_, err := NewIssuer(ed25519.PrivateKey{1, 2, 3}, nil)
	assert.Error(t, err)

	_, err = NewVerifier(ed25519.PublicKey{1, 2, 3}, nil)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	authority, err := NewAuthority(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, authority.Issuer().TTL())
	assert.NotNil(t, authority.Issuer().PublicKey())
}
