package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanmoreau/loginshield/internal/models"
)

const testSigningSecret = "token-test-signing-secret-0123456789"

func newTestTokenManager() *TokenManager {
	return NewTokenManager(testSigningSecret, 15*time.Minute, 24*time.Hour)
}

func TestTokenManager_AccessTokenRoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)

	_, err = uuid.Parse(claims.ID)
	assert.NoError(t, err, "JTI should be a UUID")

	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenManager_RefreshTokenRoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateRefreshToken("user-1", "user@example.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)

	assert.Equal(t, "refresh", claims.Type)
	assert.Equal(t, "user-1", claims.UserID)

	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenManager_UniqueJTIPerToken(t *testing.T) {
	tm := newTestTokenManager()

	first, err := tm.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)
	second, err := tm.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	firstClaims, err := tm.ValidateToken(first)
	require.NoError(t, err)
	secondClaims, err := tm.ValidateToken(second)
	require.NoError(t, err)

	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)
}

func TestTokenManager_ExpiredTokenRejected(t *testing.T) {
	expired := NewTokenManager(testSigningSecret, -1*time.Minute, 24*time.Hour)

	token, err := expired.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	claims, err := expired.ValidateToken(token)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenManager_WrongSecretRejected(t *testing.T) {
	tm := newTestTokenManager()
	other := NewTokenManager("a-completely-different-secret-value", 15*time.Minute, 24*time.Hour)

	token, err := tm.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	claims, err := other.ValidateToken(token)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestTokenManager_MalformedTokenRejected(t *testing.T) {
	tm := newTestTokenManager()

	for _, token := range []string{"", "garbage", "not.a.token"} {
		claims, err := tm.ValidateToken(token)
		assert.Nil(t, claims)
		assert.ErrorIs(t, err, jwt.ErrTokenMalformed)
	}
}

func TestTokenManager_RejectsNoneAlgorithm(t *testing.T) {
	tm := newTestTokenManager()

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	assert.Nil(t, claims)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected signing method")
}

func TestTokenManager_RejectsMissingTypeClaim(t *testing.T) {
	tm := newTestTokenManager()

	// A structurally valid token signed with the right secret but without
	// the type claim must not pass validation.
	bare := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "loginshield",
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := bare.SignedString([]byte(testSigningSecret))
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	assert.Nil(t, claims)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing type")
}

func TestTokenManager_RejectsForeignIssuer(t *testing.T) {
	tm := newTestTokenManager()

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.TokenClaims{
		Type:   "access",
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "some-other-service",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := foreign.SignedString([]byte(testSigningSecret))
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestTokenManager_RejectsUnknownTypeClaim(t *testing.T) {
	tm := newTestTokenManager()

	odd := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.TokenClaims{
		Type:   "session",
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "loginshield",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := odd.SignedString([]byte(testSigningSecret))
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	assert.Nil(t, claims)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token type")
}
