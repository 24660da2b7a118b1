package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

type mockAuthRepo struct {
	user           *models.User
	findByEmailErr error
	findProfileErr    error
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.user == nil {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) FindProfile(ctx context.Context, id string) (*models.User, error) {
	if m.findProfileErr != nil {
		return nil, m.findProfileErr
	}
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func newAuthUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Email:        "ana@school.test",
		PasswordHash: string(hash),
		DisplayName:  "Ana",
		Role:         models.RoleInstructor,
		Active:       true,
	}
}

func newTestAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "classwall"})
}

func TestAuthServiceLoginIssuesValidToken(t *testing.T) {
	repo := &mockAuthRepo{user: newAuthUser(t, "password123")}
	svc := newTestAuthService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@school.test", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "Ana", resp.Identity.DisplayName)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleInstructor, claims.Role)
	assert.Equal(t, "Ana", claims.DisplayName)
}

func TestAuthServiceLoginRejectsBadCredentials(t *testing.T) {
	repo := &mockAuthRepo{user: newAuthUser(t, "password123")}
	svc := newTestAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@school.test", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	repo.user = nil
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ana@school.test", Password: "password123"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginValidatesPayload(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{})
	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginRejectsInactiveAccount(t *testing.T) {
	user := newAuthUser(t, "password123")
	user.Active = false
	svc := newTestAuthService(&mockAuthRepo{user: user})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@school.test", Password: "password123"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{})
	_, err := svc.ValidateToken("not-a-token")
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	other := NewAuthService(&mockAuthRepo{user: newAuthUser(t, "pw")}, nil, nil, AuthConfig{AccessTokenSecret: "other"})
	resp, err := other.Login(context.Background(), models.LoginRequest{Email: "ana@school.test", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.ValidateToken(resp.AccessToken)
	assert.Error(t, err)
}

func TestAuthServiceProfile(t *testing.T) {
	repo := &mockAuthRepo{user: newAuthUser(t, "pw")}
	svc := newTestAuthService(repo)

	identity, err := svc.Profile(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: "user-1", DisplayName: "Ana", Role: models.RoleInstructor}, identity)

	_, err = svc.Profile(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	repo.user.Active = false
	_, err = svc.Profile(context.Background(), "user-1")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	repo.findProfileErr = errors.New("db down")
	_, err = svc.Profile(context.Background(), "user-1")
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
