// Package storagetest provides a black-box conformance suite that any
// storage.Storage implementation must pass. Backend packages call RunTestSuite
// from their own tests against a freshly constructed store.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guaranijs/guarani/storage"
)

// RunTestSuite exercises the methods of s against the contract documented on
// storage.Storage; Close, GetRefreshToken and UpdateRefreshToken are not
// exercised. newStorage must return a fresh, empty store.
func RunTestSuite(t *testing.T, newStorage func() storage.Storage) {
	t.Run("Client", func(t *testing.T) { testClient(t, newStorage()) })
	t.Run("Session", func(t *testing.T) { testSession(t, newStorage()) })
	t.Run("Login", func(t *testing.T) { testLogin(t, newStorage()) })
	t.Run("Consent", func(t *testing.T) { testConsent(t, newStorage()) })
	t.Run("Grant", func(t *testing.T) { testGrant(t, newStorage()) })
	t.Run("AuthorizationCode", func(t *testing.T) { testAuthorizationCode(t, newStorage()) })
	t.Run("AccessToken", func(t *testing.T) { testAccessToken(t, newStorage()) })
	t.Run("RefreshToken", func(t *testing.T) { testRefreshToken(t, newStorage()) })
	t.Run("DeviceCode", func(t *testing.T) { testDeviceCode(t, newStorage()) })
	t.Run("LogoutTicket", func(t *testing.T) { testLogoutTicket(t, newStorage()) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, newStorage()) })
	t.Run("ClientAssertionJTI", func(t *testing.T) { testClientAssertionJTI(t, newStorage()) })
	t.Run("GarbageCollect", func(t *testing.T) { testGarbageCollect(t, newStorage()) })
}

func testClient(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	c := storage.Client{ID: storage.NewID(), Name: "test client", RedirectURIs: []string{"https://rp.example/cb"}}

	require.NoError(t, s.CreateClient(ctx, c))
	require.ErrorIs(t, s.CreateClient(ctx, c), storage.Error{Code: storage.ErrAlreadyExists})

	got, err := s.GetClient(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c, got)

	_, err = s.GetClient(ctx, storage.NewID())
	require.True(t, storage.IsErrorCode(err, storage.ErrNotFound))

	err = s.UpdateClient(ctx, c.ID, func(old storage.Client) (storage.Client, error) {
		old.Name = "renamed"
		return old, nil
	})
	require.NoError(t, err)

	got, err = s.GetClient(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)

	err = s.UpdateClient(ctx, storage.NewID(), func(old storage.Client) (storage.Client, error) { return old, nil })
	require.True(t, storage.IsErrorCode(err, storage.ErrNotFound))
}

func testSession(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	sess := storage.Session{ID: storage.NewID(), CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess, got)

	err = s.UpdateSession(ctx, sess.ID, func(old storage.Session) (storage.Session, error) {
		old.ActiveLogin = "login-1"
		old.LoginIDs = append(old.LoginIDs, "login-1")
		return old, nil
	})
	require.NoError(t, err)

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "login-1", got.ActiveLogin)
}

func testLogin(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	l := storage.Login{ID: storage.NewID(), UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateLogin(ctx, l))

	got, err := s.GetLogin(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, l, got)
}

func testConsent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	c := storage.Consent{ID: storage.NewID(), ClientID: "client-1", UserID: "user-1", Scopes: []string{"openid", "profile"}}
	require.NoError(t, s.CreateConsent(ctx, c))

	got, err := s.GetConsent(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c, got)

	list, err := s.ListConsents(ctx, "user-1", "client-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.ListConsents(ctx, "user-1", "client-2")
	require.NoError(t, err)
	require.Empty(t, list)
}

func testGrant(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	g := storage.Grant{
		ID:               storage.NewID(),
		LoginChallenge:   storage.NewID(),
		ConsentChallenge: storage.NewID(),
		ClientID:         "client-1",
		ExpiresAt:        time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, s.CreateGrant(ctx, g))

	got, err := s.GetGrantByLoginChallenge(ctx, g.LoginChallenge)
	require.NoError(t, err)
	require.Equal(t, g.ID, got.ID)

	got, err = s.GetGrantByConsentChallenge(ctx, g.ConsentChallenge)
	require.NoError(t, err)
	require.Equal(t, g.ID, got.ID)

	err = s.UpdateGrant(ctx, g.ID, func(old storage.Grant) (storage.Grant, error) {
		old.Interactions = append(old.Interactions, storage.InteractionLogin)
		return old, nil
	})
	require.NoError(t, err)

	got, err = s.GetGrant(ctx, g.ID)
	require.NoError(t, err)
	require.True(t, got.HasInteraction(storage.InteractionLogin))

	require.NoError(t, s.DeleteGrant(ctx, g.ID))
	_, err = s.GetGrant(ctx, g.ID)
	require.True(t, storage.IsErrorCode(err, storage.ErrNotFound))
}

func testAuthorizationCode(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	c := storage.AuthorizationCode{
		Code:      storage.NewID(),
		ClientID:  "client-1",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, s.CreateAuthorizationCode(ctx, c))

	err := s.UpdateAuthorizationCode(ctx, c.Code, func(old storage.AuthorizationCode) (storage.AuthorizationCode, error) {
		old.IsRevoked = true
		return old, nil
	})
	require.NoError(t, err)

	got, err := s.GetAuthorizationCode(ctx, c.Code)
	require.NoError(t, err)
	require.True(t, got.IsRevoked)

	require.NoError(t, s.DeleteAuthorizationCode(ctx, c.Code))
	_, err = s.GetAuthorizationCode(ctx, c.Code)
	require.True(t, storage.IsErrorCode(err, storage.ErrNotFound))
}

func testAccessToken(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	tok := storage.AccessToken{
		Token: storage.NewID(), ClientID: "client-1", UserID: "user-1",
		ParentType: "code", ParentID: "code-1",
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateAccessToken(ctx, tok))

	list, err := s.ListAccessTokensByParent(ctx, "code", "code-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = s.UpdateAccessToken(ctx, tok.Token, func(old storage.AccessToken) (storage.AccessToken, error) {
		old.IsRevoked = true
		return old, nil
	})
	require.NoError(t, err)

	got, err := s.GetAccessToken(ctx, tok.Token)
	require.NoError(t, err)
	require.False(t, got.Active(time.Now()))
}

func testRefreshToken(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	family := storage.NewID()
	rt := storage.RefreshToken{
		Token: storage.NewID(), FamilyID: family, ClientID: "client-1", UserID: "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateRefreshToken(ctx, rt))

	rotated := storage.RefreshToken{
		Token: storage.NewID(), FamilyID: family, ParentToken: rt.Token, ClientID: "client-1", UserID: "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateRefreshToken(ctx, rotated))

	list, err := s.ListRefreshTokensByFamily(ctx, family)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func testDeviceCode(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	dc := storage.DeviceCode{
		DeviceCode: storage.NewDeviceCode(), UserCode: storage.NewUserCode(), ClientID: "client-1",
		Interval: 5 * time.Second, ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.CreateDeviceCode(ctx, dc))

	got, err := s.GetDeviceCodeByUserCode(ctx, dc.UserCode)
	require.NoError(t, err)
	require.Equal(t, dc.DeviceCode, got.DeviceCode)

	err = s.UpdateDeviceCode(ctx, dc.DeviceCode, func(old storage.DeviceCode) (storage.DeviceCode, error) {
		old.AuthorizedBy = "user-1"
		return old, nil
	})
	require.NoError(t, err)

	got, err = s.GetDeviceCodeByDeviceCode(ctx, dc.DeviceCode)
	require.NoError(t, err)
	require.True(t, got.Authorized())
}

func testLogoutTicket(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	lt := storage.LogoutTicket{Challenge: storage.NewID(), SessionID: "session-1", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.CreateLogoutTicket(ctx, lt))

	got, err := s.GetLogoutTicket(ctx, lt.Challenge)
	require.NoError(t, err)
	require.Equal(t, lt, got)

	require.NoError(t, s.DeleteLogoutTicket(ctx, lt.Challenge))
	_, err = s.GetLogoutTicket(ctx, lt.Challenge)
	require.True(t, storage.IsErrorCode(err, storage.ErrNotFound))
}

func testKeys(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	err := s.UpdateKeys(ctx, func(old storage.Keys) (storage.Keys, error) {
		old.SigningKeyID = "key-1"
		return old, nil
	})
	require.NoError(t, err)

	got, err := s.GetKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, "key-1", got.SigningKeyID)
}

func testClientAssertionJTI(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	require.NoError(t, s.CreateClientAssertionJTI(ctx, "client-1", "jti-1", exp))

	err := s.CreateClientAssertionJTI(ctx, "client-1", "jti-1", exp)
	require.True(t, storage.IsErrorCode(err, storage.ErrAlreadyExists))

	// The same jti from a different client is a distinct record: jti
	// uniqueness is only meaningful per issuer (spec §4.2).
	require.NoError(t, s.CreateClientAssertionJTI(ctx, "client-2", "jti-1", exp))
}

func testGarbageCollect(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	now := time.Now()

	expiredGrant := storage.Grant{ID: storage.NewID(), ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, s.CreateGrant(ctx, expiredGrant))

	liveGrant := storage.Grant{ID: storage.NewID(), ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.CreateGrant(ctx, liveGrant))

	require.NoError(t, s.CreateClientAssertionJTI(ctx, "client-1", "expired-jti", now.Add(-time.Minute)))
	require.NoError(t, s.CreateClientAssertionJTI(ctx, "client-1", "live-jti", now.Add(time.Hour)))

	result, err := s.GarbageCollect(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Grants)
	require.Equal(t, int64(1), result.ClientAssertionJTIs)
	require.False(t, result.IsEmpty())

	_, err = s.GetGrant(ctx, expiredGrant.ID)
	require.True(t, storage.IsErrorCode(err, storage.ErrNotFound))

	_, err = s.GetGrant(ctx, liveGrant.ID)
	require.NoError(t, err)

	// A reclaimed jti can be legitimately reused as a storage key; nothing
	// in the interface promises otherwise once expiresAt has passed.
	require.NoError(t, s.CreateClientAssertionJTI(ctx, "client-1", "expired-jti", now.Add(time.Hour)))
}
