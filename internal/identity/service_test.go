package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	users          map[string]*domain.User
	createUserErr  error
	getUserByEmail func(email string) (*domain.User, error)
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockRepository) CreateUser(_ context.Context, user *domain.User) error {
	if m.createUserErr != nil {
		return m.createUserErr
	}
	m.users[user.Email] = user
	return nil
}

func (m *mockRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	if m.getUserByEmail != nil {
		return m.getUserByEmail(email)
	}
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (m *mockRepository) ListUsers(_ context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

// mockAuthenticator implements Authenticator for testing.
type mockAuthenticator struct {
	tokens map[string]string
}

func (m *mockAuthenticator) GenerateToken(user *domain.User) (string, time.Time, error) {
	return "token-" + user.ID, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

func (m *mockAuthenticator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	if id, ok := m.tokens[token]; ok {
		return id, domain.RoleAdmin, nil
	}
	return "", "", ErrInvalidToken
}

func createTestUser(t *testing.T, service *Service, email string, role domain.Role) *domain.User {
	t.Helper()
	user, err := service.CreateUser(context.Background(), CreateUserInput{
		Email:    email,
		Password: "password123",
		FullName: "Test User",
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

func TestCreateUser_HashesPassword(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockAuthenticator{})

	user := createTestUser(t, service, "  Cashier@Example.com ", domain.RoleCashier)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "cashier@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "password123", user.PasswordHash)
	assert.Contains(t, repo.users, "cashier@example.com")
}

func TestCreateUser_Errors(t *testing.T) {
	t.Run("invalid role", func(t *testing.T) {
		service := NewService(newMockRepository(), &mockAuthenticator{})
		_, err := service.CreateUser(context.Background(), CreateUserInput{Email: "a@b.c", Password: "password123", Role: "owner"})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("email already exists", func(t *testing.T) {
		repo := newMockRepository()
		repo.users["existing@example.com"] = &domain.User{Email: "existing@example.com"}
		service := NewService(repo, &mockAuthenticator{})

		user, err := service.CreateUser(context.Background(), CreateUserInput{
			Email:    "Existing@example.com",
			Password: "password123",
			Role:     domain.RoleCashier,
		})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, ErrEmailExists)
	})

	t.Run("lookup fails", func(t *testing.T) {
		repo := newMockRepository()
		repo.getUserByEmail = func(string) (*domain.User, error) { return nil, errors.New("database error") }
		service := NewService(repo, &mockAuthenticator{})

		_, err := service.CreateUser(context.Background(), CreateUserInput{Email: "a@b.c", Password: "password123", Role: domain.RoleAdmin})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrEmailExists)
	})

	t.Run("create fails", func(t *testing.T) {
		repo := newMockRepository()
		repo.createUserErr = errors.New("database error")
		service := NewService(repo, &mockAuthenticator{})

		user, err := service.CreateUser(context.Background(), CreateUserInput{Email: "a@b.c", Password: "password123", Role: domain.RoleAdmin})
		assert.Nil(t, user)
		assert.Error(t, err)
	})
}

func TestLogin(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockAuthenticator{})
	user := createTestUser(t, service, "manager@example.com", domain.RoleManager)

	result, err := service.Login(context.Background(), LoginInput{Email: "MANAGER@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "token-"+user.ID, result.AccessToken)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.Equal(t, user.ID, result.User.ID)
	assert.False(t, result.ExpiresAt.IsZero())
}

func TestLogin_Errors(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockAuthenticator{})
	createTestUser(t, service, "cashier@example.com", domain.RoleCashier)
	inactive := createTestUser(t, service, "gone@example.com", domain.RoleCashier)
	inactive.IsActive = false

	tests := []struct {
		name    string
		input   LoginInput
		wantErr error
	}{
		{"unknown email", LoginInput{Email: "nobody@example.com", Password: "password123"}, ErrInvalidCredentials},
		{"wrong password", LoginInput{Email: "cashier@example.com", Password: "wrong-password"}, ErrInvalidCredentials},
		{"inactive user", LoginInput{Email: "gone@example.com", Password: "password123"}, ErrUserInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.Login(context.Background(), tt.input)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateToken_UsesStoredRole(t *testing.T) {
	repo := newMockRepository()
	auth := &mockAuthenticator{tokens: map[string]string{}}
	service := NewService(repo, auth)

	user := createTestUser(t, service, "cashier@example.com", domain.RoleCashier)
	auth.tokens["valid"] = user.ID
	auth.tokens["orphan"] = "deleted-user"

	userID, role, err := service.ValidateToken(context.Background(), "valid")
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
	assert.Equal(t, domain.RoleCashier, role)

	_, _, err = service.ValidateToken(context.Background(), "orphan")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = service.ValidateToken(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrInvalidToken)

	user.IsActive = false
	_, _, err = service.ValidateToken(context.Background(), "valid")
	assert.ErrorIs(t, err, ErrUserInactive)
}
