package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-viewer-secret-key-32-chars-long-at-least"

func TestManager_IssueAndValidate(t *testing.T) {
	m := NewManager(testSecret, "inboxsync", time.Hour)

	token, err := m.Issue("viewer-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, 2*time.Second)

	claims, err := m.Validate(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "viewer-1", claims.ViewerID)
	assert.Equal(t, "viewer-1", claims.Subject)
	assert.Equal(t, "inboxsync", claims.Issuer)
}

func TestManager_Validate_Invalid(t *testing.T) {
	m := NewManager(testSecret, "inboxsync", time.Hour)

	t.Run("格式错误", func(t *testing.T) {
		_, err := m.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("密钥不同", func(t *testing.T) {
		other := NewManager("another-viewer-secret-key-32-chars-long", "inboxsync", time.Hour)
		token, err := other.Issue("viewer-1")
		require.NoError(t, err)

		_, err = m.Validate(token.Value)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("签发者不同", func(t *testing.T) {
		other := NewManager(testSecret, "someone-else", time.Hour)
		token, err := other.Issue("viewer-1")
		require.NoError(t, err)

		_, err = m.Validate(token.Value)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("签名算法不符", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ViewerID: "viewer-1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.Validate(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestManager_Validate_Expired(t *testing.T) {
	m := NewManager(testSecret, "inboxsync", time.Minute)
	issuedAt := time.Now()
	m.now = func() time.Time { return issuedAt }

	token, err := m.Issue("viewer-1")
	require.NoError(t, err)

	m.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = m.Validate(token.Value)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNewManager_DefaultExpiry(t *testing.T) {
	m := NewManager(testSecret, "inboxsync", 0)
	assert.Equal(t, 24*time.Hour, m.expiry)
}
