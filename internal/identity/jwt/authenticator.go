// Package jwt implements HS256 tokens for local sessions and for replaying
// queued operations against the remote backend.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/identity"
	"github.com/bissquit/shelfsync/internal/replication"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token audiences.
const (
	AudienceLocal   = "shelfsync"
	AudienceBackend = "shelfsync-backend"
)

// Config contains token settings.
type Config struct {
	SecretKey           string
	Issuer              string
	AccessTokenDuration time.Duration
	ReplayTokenDuration time.Duration
}

// Authenticator signs and validates tokens.
type Authenticator struct {
	config Config
	now    func() time.Time
}

var (
	_ identity.Authenticator       = (*Authenticator)(nil)
	_ replication.CredentialSource = (*Authenticator)(nil)
)

type claims struct {
	Role domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthenticator creates a new JWT authenticator.
func NewAuthenticator(config Config) (*Authenticator, error) {
	if config.SecretKey == "" {
		return nil, errors.New("jwt secret key is required")
	}
	if config.Issuer == "" {
		config.Issuer = "shelfsync"
	}
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = 12 * time.Hour
	}
	if config.ReplayTokenDuration <= 0 {
		config.ReplayTokenDuration = 5 * time.Minute
	}

	return &Authenticator{config: config, now: time.Now}, nil
}

// GenerateToken issues an access token for the local API.
func (a *Authenticator) GenerateToken(user *domain.User) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.config.AccessTokenDuration)

	token, err := a.sign(claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{AudienceLocal},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateToken parses an access token and returns its subject and role.
// Replay tokens are rejected: they carry another audience.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (string, domain.Role, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, a.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AudienceLocal),
		jwt.WithIssuer(a.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", identity.ErrInvalidToken, err)
	}
	if c.Subject == "" || !c.Role.IsValid() {
		return "", "", identity.ErrInvalidToken
	}

	return c.Subject, c.Role, nil
}

// Token issues a short-lived token that authorizes a replayed request as
// principal against the remote backend.
func (a *Authenticator) Token(_ context.Context, principal string) (string, error) {
	if principal == "" {
		return "", errors.New("principal is required")
	}

	now := a.now()
	return a.sign(claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   principal,
			Audience:  jwt.ClaimStrings{AudienceBackend},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.ReplayTokenDuration)),
			ID:        uuid.NewString(),
		},
	})
}

func (a *Authenticator) sign(c claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) keyFunc(_ *jwt.Token) (any, error) {
	return []byte(a.config.SecretKey), nil
}
