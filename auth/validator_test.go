package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

func TestHMACValidator_ValidToken(t *testing.T) {
	validator := NewHMACValidator(Config{Secret: testSecret, Issuer: "deal-guardrails"})

	token, err := SignToken(testSecret, "deal-guardrails", "user-1", "ops@example.com", []string{"policy_admin"}, time.Hour)
	require.NoError(t, err)

	claims, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, []string{"policy_admin"}, claims.Roles)
	assert.Equal(t, "ops@example.com", claims.Actor())
	assert.NotZero(t, claims.Exp)
}

func TestHMACValidator_Rejects(t *testing.T) {
	validator := NewHMACValidator(Config{Secret: testSecret, Issuer: "deal-guardrails"})
	ctx := context.Background()

	t.Run("expired token", func(t *testing.T) {
		token, err := SignToken(testSecret, "deal-guardrails", "user-1", "", nil, -time.Minute)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := SignToken("another-secret", "deal-guardrails", "user-1", "", nil, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := SignToken(testSecret, "someone-else", "user-1", "", nil, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidIssuer)
	})

	t.Run("no identity", func(t *testing.T) {
		token, err := SignToken(testSecret, "deal-guardrails", "", "", nil, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("unsigned token", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "deal-guardrails",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := validator.ValidateToken(ctx, "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestHMACValidator_IssuerOptional(t *testing.T) {
	validator := NewHMACValidator(Config{Secret: testSecret})

	token, err := SignToken(testSecret, "anyone", "user-2", "", nil, time.Hour)
	require.NoError(t, err)

	claims, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims.Actor())
}
