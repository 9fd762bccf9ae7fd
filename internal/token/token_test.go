package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(accessTTL, refreshTTL time.Duration) *Manager {
	return NewManager("access-secret", "refresh-secret", accessTTL, refreshTTL)
}

func TestSignAndVerifyAccess(t *testing.T) {
	m := newTestManager(time.Hour, 7*24*time.Hour)

	signed, err := m.SignAccess("user-1")
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := m.VerifyAccess(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt, 5*time.Second)
}

func TestSignAndVerifyRefresh(t *testing.T) {
	m := newTestManager(time.Hour, 7*24*time.Hour)

	signed, err := m.SignRefresh("user-1")
	require.NoError(t, err)

	claims, err := m.VerifyRefresh(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestVerify_WrongSecretIsMalformed(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)

	signed, err := m.SignAccess("user-1")
	require.NoError(t, err)

	// A refresh secret must never validate an access token.
	_, err = m.VerifyRefresh(signed)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerify_Expired(t *testing.T) {
	m := newTestManager(-time.Minute, -time.Minute)

	signed, err := m.SignAccess("user-1")
	require.NoError(t, err)

	_, err = m.VerifyAccess(signed)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_Garbage(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)

	for _, tokenStr := range []string{"", "garbage", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.e30."} {
		_, err := m.VerifyAccess(tokenStr)
		assert.ErrorIs(t, err, ErrMalformed, "token %q", tokenStr)
	}
}

func TestSign_TokensAreUnique(t *testing.T) {
	m := newTestManager(time.Hour, time.Hour)

	// Same user, same second: the jti must still keep the tokens distinct.
	first, err := m.SignRefresh("user-1")
	require.NoError(t, err)

	second, err := m.SignRefresh("user-1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestResetToken(t *testing.T) {
	raw, hash, err := NewResetToken()
	require.NoError(t, err)

	assert.Len(t, raw, 64)
	assert.Len(t, hash, 64)
	assert.NotEqual(t, raw, hash)
	assert.Equal(t, hash, HashResetToken(raw))

	raw2, _, err := NewResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}
