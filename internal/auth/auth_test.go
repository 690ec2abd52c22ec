package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamori-ai/mamori/internal/auth"
)

func TestHashAndVerifyOpsKey(t *testing.T) {
	hash, err := auth.HashOpsKey("ops-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyOpsKey("ops-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyOpsKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestHashOpsKeyIsSalted(t *testing.T) {
	a, err := auth.HashOpsKey("same-key")
	require.NoError(t, err)
	b, err := auth.HashOpsKey("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two hashes of the same key share a salt")
}

func TestVerifyOpsKeyRejectsMalformedHash(t *testing.T) {
	_, err := auth.VerifyOpsKey("key", "no-separator")
	assert.Error(t, err)

	_, err = auth.VerifyOpsKey("key", "!!!$!!!")
	assert.Error(t, err)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("ops")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "ops", claims.Role)
	assert.Equal(t, "mamori", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestNewJWTManagerRejectsEmptySecret(t *testing.T) {
	_, err := auth.NewJWTManager("", time.Hour)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", -time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken("ops")
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuing, err := auth.NewJWTManager("secret-a", time.Hour)
	require.NoError(t, err)
	validating, err := auth.NewJWTManager("secret-b", time.Hour)
	require.NoError(t, err)

	token, _, err := issuing.IssueToken("ops")
	require.NoError(t, err)

	_, err = validating.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{"mamori"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: "ops",
	})
	signed, err := forged.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = mgr.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsNoneAlgorithm(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:  "ops",
		Issuer:   "mamori",
		Audience: jwt.ClaimStrings{"mamori"},
	})
	signed, err := forged.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	_, err = mgr.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}
