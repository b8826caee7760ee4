package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinkbigger/api/internal/model"
)

var secret = []byte("secret")

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier(secret, "thinkbigger")
	require.NoError(t, err)

	issued, err := IssueToken(secret, "thinkbigger", model.Identity{ID: "user-1", Name: "Avery"}, time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify("Bearer " + issued)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{ID: "user-1", Name: "Avery"}, identity)
}

func TestVerifyRejectsExpired(t *testing.T) {
	v, err := NewVerifier(secret, "")
	require.NoError(t, err)

	issued, err := IssueToken(secret, "", model.Identity{ID: "user-1", Name: "Avery"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(issued)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v, err := NewVerifier(secret, "thinkbigger")
	require.NoError(t, err)

	otherKey, err := IssueToken([]byte("other"), "thinkbigger", model.Identity{ID: "user-1"}, time.Hour)
	require.NoError(t, err)
	otherIssuer, err := IssueToken(secret, "elsewhere", model.Identity{ID: "user-1"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := IssueToken(secret, "thinkbigger", model.Identity{Name: "Avery"}, time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "thinkbigger"},
	}).SignedString(secret)
	require.NoError(t, err)

	cases := map[string]string{
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"garbage":      "not.a.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = v.Verify("  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(nil, "")
	assert.Error(t, err)
}
