package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-signing-secret-0123456789abcdef"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateTokenSuccess(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"user_id": "u-1",
		"name":    "Quinn",
		"roles":   []string{"chat_agent"},
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "Quinn", claims.Name)
	assert.True(t, claims.HasRole("chat_agent"))
	assert.False(t, claims.HasRole("admin"))
}

func TestValidateTokenExpired(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"user_id": "u-1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	})

	_, err := v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := mintToken(t, "a-completely-different-secret-0123456789", jwt.MapClaims{
		"user_id": "u-1",
	})

	_, err := v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateTokenEmptyAndGarbage(t *testing.T) {
	v := NewJWTValidator(testSecret)

	_, err := v.ValidateToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenMissingUserID(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{"name": "Quinn"})

	_, err := v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrMissingClaims)
}

func TestValidateTokenNameDefaultsToUserID(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{"user_id": "u-7"})

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-7", claims.Name)
	assert.Empty(t, claims.Roles)
}

func TestPeekClaimsIgnoresSignature(t *testing.T) {
	// Signed with a secret this side never knows.
	token := mintToken(t, "backend-only-secret-0123456789abcdefghij", jwt.MapClaims{
		"user_id": "u-1",
		"name":    "Quinn",
	})

	claims, err := PeekClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "Quinn", claims.Name)
}

func TestPeekClaimsRejectsMalformed(t *testing.T) {
	_, err := PeekClaims("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = PeekClaims("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractRolesRejectsNonStrings(t *testing.T) {
	v := NewJWTValidator(testSecret)
	token := mintToken(t, testSecret, jwt.MapClaims{
		"user_id": "u-1",
		"roles":   []interface{}{"chat_agent", 42},
	})

	_, err := v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrMissingClaims)
}
