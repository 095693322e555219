// Package users provides a minimal UserService backed by an in-memory,
// config-supplied list of accounts, grounded on the teacher's
// staticPasswordsStorage decorator pattern (bcrypt-hashed, email-keyed,
// read-only).
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/guaranijs/guarani/grant"
	"github.com/guaranijs/guarani/storage"
)

// Account is one statically configured user record.
type Account struct {
	UserID            string
	Username          string
	PreferredUsername string
	Email             string
	EmailVerified     bool
	Groups            []string
	BcryptHash        []byte
}

// Static is a read-only UserService over a fixed account list, suitable for
// local development and test deployments. It satisfies both grant.UserService
// and interaction.UserService.
type Static struct {
	byUserID map[string]Account
	byEmail  map[string]Account
}

// NewStatic indexes accounts by user ID and lower-cased email.
func NewStatic(accounts []Account) *Static {
	s := &Static{
		byUserID: make(map[string]Account, len(accounts)),
		byEmail:  make(map[string]Account, len(accounts)),
	}
	for _, a := range accounts {
		s.byUserID[a.UserID] = a
		s.byEmail[strings.ToLower(a.Email)] = a
	}
	return s
}

func (a Account) claims() storage.Claims {
	return storage.Claims{
		UserID:            a.UserID,
		Username:          a.Username,
		PreferredUsername: a.PreferredUsername,
		Email:             a.Email,
		EmailVerified:     a.EmailVerified,
		Groups:            a.Groups,
	}
}

// Claims implements grant.UserService.
func (s *Static) Claims(_ context.Context, userID string) (storage.Claims, error) {
	a, ok := s.byUserID[userID]
	if !ok {
		return storage.Claims{}, fmt.Errorf("users: no such user %q", userID)
	}
	return a.claims(), nil
}

// VerifyPassword implements grant.UserService, matching by username or email.
func (s *Static) VerifyPassword(_ context.Context, username, password string) (storage.Claims, error) {
	a, ok := s.byEmail[strings.ToLower(username)]
	if !ok {
		for _, candidate := range s.byUserID {
			if candidate.Username == username {
				a = candidate
				ok = true
				break
			}
		}
	}
	if !ok || !grant.VerifyBcryptPassword(string(a.BcryptHash), password) {
		return storage.Claims{}, errors.New("users: invalid username or password")
	}
	return a.claims(), nil
}

// CreateUser implements interaction.UserService. The static store has no
// write path; the "create account" interaction is unsupported here and
// deployments that need it must supply their own UserService.
func (s *Static) CreateUser(_ context.Context) (storage.Claims, error) {
	return storage.Claims{}, errors.New("users: static user service does not support account creation")
}
