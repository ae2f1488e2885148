package auth

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"launchforge/pkg/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	svc := NewService(db, "test-secret")
	svc.bcryptCost = 4 // fast hashing in tests
	return svc, db
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.Register(&RegisterRequest{
		Username: "dev",
		Email:    "dev@example.com",
		Password: "correct-horse-battery",
		FullName: "Dev Eloper",
	})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "correct-horse-battery", user.PasswordHash)

	token, loggedIn, err := svc.Login(&LoginRequest{
		Email:    "dev@example.com",
		Password: "correct-horse-battery",
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(&RegisterRequest{Username: "dev", Email: "dev@example.com", Password: "secretsecret"})
	require.NoError(t, err)

	_, err = svc.Register(&RegisterRequest{Username: "dev", Email: "other@example.com", Password: "secretsecret"})
	require.ErrorIs(t, err, ErrUserExists)

	_, err = svc.Register(&RegisterRequest{Username: "other", Email: "dev@example.com", Password: "secretsecret"})
	require.ErrorIs(t, err, ErrUserExists)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(&RegisterRequest{Username: "dev", Email: "dev@example.com", Password: "secretsecret"})
	require.NoError(t, err)

	_, _, err = svc.Login(&LoginRequest{Email: "dev@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Login(&LoginRequest{Email: "nobody@example.com", Password: "whatever"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken(t *testing.T) {
	svc, _ := newTestService(t)
	user := &models.User{ID: 42, Username: "dev", Email: "dev@example.com"}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "dev", claims.Username)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc, db := newTestService(t)
	user := &models.User{ID: 1, Username: "dev", Email: "dev@example.com"}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	other := NewService(db, "different-secret")
	_, err = other.ValidateToken(token.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	svc, _ := newTestService(t)
	svc.tokenExpiry = -time.Minute
	user := &models.User{ID: 1, Username: "dev", Email: "dev@example.com"}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTokenGarbage(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ValidateToken("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
