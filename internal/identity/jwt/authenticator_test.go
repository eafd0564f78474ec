package jwt

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(Config{SecretKey: "test-secret", AccessTokenDuration: time.Hour, ReplayTokenDuration: time.Minute})
	require.NoError(t, err)
	return a
}

func TestNewAuthenticator(t *testing.T) {
	_, err := NewAuthenticator(Config{})
	assert.Error(t, err)

	a, err := NewAuthenticator(Config{SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "shelfsync", a.config.Issuer)
	assert.Equal(t, 12*time.Hour, a.config.AccessTokenDuration)
	assert.Equal(t, 5*time.Minute, a.config.ReplayTokenDuration)
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := newTestAuthenticator(t)
	user := &domain.User{ID: "user-1", Role: domain.RoleManager}

	token, expiresAt, err := a.GenerateToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	userID, role, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, domain.RoleManager, role)
}

func TestAuthenticator_RejectsInvalidTokens(t *testing.T) {
	a := newTestAuthenticator(t)
	user := &domain.User{ID: "user-1", Role: domain.RoleAdmin}

	other, err := NewAuthenticator(Config{SecretKey: "other-secret"})
	require.NoError(t, err)
	foreign, _, err := other.GenerateToken(user)
	require.NoError(t, err)

	replay, err := a.Token(context.Background(), "user-1")
	require.NoError(t, err)

	expired := newTestAuthenticator(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := expired.GenerateToken(user)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1", "role": "admin", "aud": AudienceLocal, "iss": "shelfsync",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"other secret", foreign},
		{"replay audience", replay},
		{"expired", stale},
		{"unsigned", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := a.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, identity.ErrInvalidToken)
		})
	}
}

func TestAuthenticator_ReplayToken(t *testing.T) {
	a := newTestAuthenticator(t)

	_, err := a.Token(context.Background(), "")
	assert.Error(t, err)

	token, err := a.Token(context.Background(), "user-7")
	require.NoError(t, err)

	var c claims
	_, err = jwt.ParseWithClaims(token, &c, a.keyFunc, jwt.WithAudience(AudienceBackend))
	require.NoError(t, err)
	assert.Equal(t, "user-7", c.Subject)
	assert.NotEmpty(t, c.ID)
	assert.Empty(t, c.Role)
	assert.WithinDuration(t, time.Now().Add(time.Minute), c.ExpiresAt.Time, 5*time.Second)

	second, err := a.Token(context.Background(), "user-7")
	require.NoError(t, err)
	assert.NotEqual(t, token, second)
}
