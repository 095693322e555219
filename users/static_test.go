package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAccount(t *testing.T, password string) Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return Account{
		UserID:            "user-1",
		Username:          "alice",
		PreferredUsername: "Alice",
		Email:             "Alice@Example.com",
		EmailVerified:     true,
		Groups:            []string{"admins"},
		BcryptHash:        hash,
	}
}

func TestStaticClaimsByUserID(t *testing.T) {
	s := NewStatic([]Account{newTestAccount(t, "hunter2")})

	claims, err := s.Claims(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "Alice@Example.com", claims.Email)
	require.Equal(t, []string{"admins"}, claims.Groups)
}

func TestStaticClaimsUnknownUser(t *testing.T) {
	s := NewStatic(nil)
	_, err := s.Claims(context.Background(), "nope")
	require.Error(t, err)
}

func TestStaticVerifyPasswordByEmailCaseInsensitive(t *testing.T) {
	s := NewStatic([]Account{newTestAccount(t, "hunter2")})

	claims, err := s.VerifyPassword(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
}

func TestStaticVerifyPasswordByUsername(t *testing.T) {
	s := NewStatic([]Account{newTestAccount(t, "hunter2")})

	claims, err := s.VerifyPassword(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
}

func TestStaticVerifyPasswordWrongPassword(t *testing.T) {
	s := NewStatic([]Account{newTestAccount(t, "hunter2")})

	_, err := s.VerifyPassword(context.Background(), "alice", "wrong")
	require.Error(t, err)
}

func TestStaticVerifyPasswordUnknownUser(t *testing.T) {
	s := NewStatic([]Account{newTestAccount(t, "hunter2")})

	_, err := s.VerifyPassword(context.Background(), "bob", "hunter2")
	require.Error(t, err)
}

func TestStaticCreateUserUnsupported(t *testing.T) {
	s := NewStatic(nil)
	_, err := s.CreateUser(context.Background())
	require.Error(t, err)
}
