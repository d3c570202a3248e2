package auth_test

import (
	"testing"
	"time"

	"checkout-service/common/auth"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestParse_ValidToken(t *testing.T) {
	p := auth.NewTokenParser("s3cret")
	tok := sign(t, "s3cret", jwt.MapClaims{
		"sub":  "user-1",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	id, err := p.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.True(t, id.IsAdmin())
}

func TestParse_PrefersUserIDClaim(t *testing.T) {
	p := auth.NewTokenParser("s3cret")
	tok := sign(t, "s3cret", jwt.MapClaims{"sub": "subject", "user_id": "user-2"})

	id, err := p.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)
	assert.False(t, id.IsAdmin())
}

func TestParse_Rejects(t *testing.T) {
	p := auth.NewTokenParser("s3cret")

	_, err := p.Parse(sign(t, "other", jwt.MapClaims{"sub": "u"}))
	assert.Error(t, err)

	_, err = p.Parse(sign(t, "s3cret", jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}))
	assert.Error(t, err)

	_, err = p.Parse(sign(t, "s3cret", jwt.MapClaims{"role": "ADMIN"}))
	assert.Error(t, err)

	_, err = auth.NewTokenParser("").Parse("anything")
	assert.ErrorIs(t, err, auth.ErrSecretNotConfigured)
}
