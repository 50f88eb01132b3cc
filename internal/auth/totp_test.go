package auth

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretBase32 = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "LoginShield")
	require.NoError(t, err)
	return tm
}

func TestTOTPManager_NewTOTPManager_ValidKey(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "LoginShield")
	assert.NoError(t, err)
	assert.NotNil(t, tm)
}

func TestTOTPManager_NewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, length)
		tm, err := NewTOTPManager(key, "LoginShield")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestTOTPManager_GenerateSecretWithQR_Success(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, qrDataURL, err := tm.GenerateSecretWithQR("user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, encrypted)
	require.NotEmpty(t, qrDataURL)

	// The stored value decrypts to the base32 secret the authenticator app
	// will hold, so a code minted from it must validate.
	secret, err := tm.DecryptSecret(encrypted)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z2-7]+$`), secret)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP(encrypted, code)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_GenerateSecretWithQR_QRCodeFormat(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, qrDataURL, err := tm.GenerateSecretWithQR("user@example.com")
	require.NoError(t, err)

	const prefix = "data:image/png;base64,"
	require.True(t, len(qrDataURL) > len(prefix))
	assert.Equal(t, prefix, qrDataURL[:len(prefix)])

	pngData, err := base64.StdEncoding.DecodeString(qrDataURL[len(prefix):])
	require.NoError(t, err)
	require.Greater(t, len(pngData), 4)

	// PNG signature: 137 80 78 71
	assert.Equal(t, []byte{137, 80, 78, 71}, pngData[:4])
}

func TestTOTPManager_EncryptDecrypt_RoundTrip(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)
	require.NotEmpty(t, encrypted)
	assert.NotEqual(t, testSecretBase32, encrypted)

	decrypted, err := tm.DecryptSecret(encrypted)
	require.NoError(t, err)
	assert.Equal(t, testSecretBase32, decrypted)
}

func TestTOTPManager_EncryptSecret_FreshNoncePerCall(t *testing.T) {
	tm := newTestTOTPManager(t)

	first, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)
	second, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	// Same plaintext must never produce the same blob twice.
	assert.NotEqual(t, first, second)
}

func TestTOTPManager_DecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(sealed)

	decrypted, err := tm.DecryptSecret(tampered)
	assert.Error(t, err)
	assert.Empty(t, decrypted)
	assert.Contains(t, err.Error(), "failed to decrypt")
}

func TestTOTPManager_DecryptSecret_TruncatedBlob(t *testing.T) {
	tm := newTestTOTPManager(t)

	short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5})

	decrypted, err := tm.DecryptSecret(short)
	assert.Error(t, err)
	assert.Empty(t, decrypted)
	assert.Contains(t, err.Error(), "too short")
}

func TestTOTPManager_DecryptSecret_NotBase64(t *testing.T) {
	tm := newTestTOTPManager(t)

	decrypted, err := tm.DecryptSecret("%%% not base64 %%%")
	assert.Error(t, err)
	assert.Empty(t, decrypted)
	assert.Contains(t, err.Error(), "failed to decode secret")
}

func TestTOTPManager_DecryptSecret_WrongKey(t *testing.T) {
	tm := newTestTOTPManager(t)
	other := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	decrypted, err := other.DecryptSecret(encrypted)
	assert.Error(t, err)
	assert.Empty(t, decrypted)
}

func TestTOTPManager_ValidateTOTP_ValidCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	code, err := totp.GenerateCode(testSecretBase32, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP(encrypted, code)
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_ValidateTOTP_AdjacentTimeSteps(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	// Codes from the previous and next 30-second step pass within the
	// configured skew of one step.
	for _, offset := range []time.Duration{-30 * time.Second, 30 * time.Second} {
		code, err := totp.GenerateCode(testSecretBase32, time.Now().Add(offset))
		require.NoError(t, err)

		valid, err := tm.ValidateTOTP(encrypted, code)
		assert.NoError(t, err)
		assert.True(t, valid, "code at offset %s should validate", offset)
	}
}

func TestTOTPManager_ValidateTOTP_StaleCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	code, err := totp.GenerateCode(testSecretBase32, time.Now().Add(-3*time.Minute))
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP(encrypted, code)
	assert.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_ValidateTOTP_WrongCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	current, err := totp.GenerateCode(testSecretBase32, time.Now())
	require.NoError(t, err)
	wrong := "000000"
	if wrong == current {
		wrong = "111111"
	}

	valid, err := tm.ValidateTOTP(encrypted, wrong)
	assert.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_ValidateTOTP_MalformedCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, err := tm.EncryptSecret(testSecretBase32)
	require.NoError(t, err)

	valid, err := tm.ValidateTOTP(encrypted, "12345")
	assert.Error(t, err)
	assert.False(t, valid)
	assert.Contains(t, err.Error(), "failed to validate TOTP")
}

func TestTOTPManager_ValidateTOTP_UndecryptableSecret(t *testing.T) {
	tm := newTestTOTPManager(t)

	valid, err := tm.ValidateTOTP("not-an-encrypted-secret", "123456")
	assert.Error(t, err)
	assert.False(t, valid)
}
