package utils

import (
	"testing"
	"time"

	"foreman-pm-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "HS384", 30*time.Minute)
	token, expiresIn, err := svc.GenerateAccessToken(555)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), expiresIn)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	id, err := claims.TelegramID()
	require.NoError(t, err)
	assert.Equal(t, int64(555), id)
}

func TestJWTRejectsOtherSecretAndAlgorithm(t *testing.T) {
	token, _, err := NewJWTService("secret", "HS256", time.Minute).GenerateAccessToken(1)
	require.NoError(t, err)

	_, err = NewJWTService("other", "HS256", time.Minute).ValidateToken(token)
	assert.Error(t, err)
	_, err = NewJWTService("secret", "HS512", time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTRejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", "HS256", -time.Minute)
	token, _, err := svc.GenerateAccessToken(1)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTRejectsNonNumericSubject(t *testing.T) {
	claims := &models.TokenClaims{Subject: "alice", Type: "access", Exp: time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret", "HS256", time.Minute).ValidateToken(token)
	assert.Error(t, err)
}

func TestUnknownAlgorithmFallsBackToHS256(t *testing.T) {
	svc := NewJWTService("secret", "RS256", time.Minute)
	assert.Equal(t, "HS256", svc.method.Alg())
}

func TestSecretsEqual(t *testing.T) {
	assert.True(t, SecretsEqual("abc", "abc"))
	assert.False(t, SecretsEqual("abc", "abd"))
	assert.False(t, SecretsEqual("", ""))
}
