package grant

import (
	"context"
	"testing"
	"time"

	"github.com/guaranijs/guarani/idtoken"
	"github.com/guaranijs/guarani/pkce"
	"github.com/guaranijs/guarani/storage"
	"github.com/guaranijs/guarani/storage/memory"
)

type fakeUsers struct {
	claims storage.Claims
}

func (f fakeUsers) Claims(ctx context.Context, userID string) (storage.Claims, error) {
	return f.claims, nil
}

func (f fakeUsers) VerifyPassword(ctx context.Context, username, password string) (storage.Claims, error) {
	if username == "alice" && password == "correct-horse" {
		return f.claims, nil
	}
	return storage.Claims{}, ErrInvalidGrant
}

func testSigner(t *testing.T) *idtoken.Signer {
	t.Helper()
	keys := storage.Keys{SigningKeyID: "key-1", SigningKeyPEM: testRSAKeyPEM(t)}
	s, err := idtoken.NewSigner(keys)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func testDeps(t *testing.T, store storage.Storage) Deps {
	t.Helper()
	reg, err := pkce.NewRegistry(pkce.S256, pkce.Plain)
	if err != nil {
		t.Fatalf("pkce.NewRegistry: %v", err)
	}
	return Deps{
		Store:      store,
		Users:      fakeUsers{claims: storage.Claims{UserID: "user-1", Username: "alice", Email: "alice@example.com", EmailVerified: true}},
		Signer:     testSigner(t),
		PKCE:       reg,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		IssuerURL:  "https://issuer.example.com",
	}
}

func TestAuthorizationCodeGrant(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	client := storage.Client{ID: "client-1", Secret: "s3cr3t", GrantTypes: []string{"authorization_code", "refresh_token"}}
	if err := store.CreateClient(ctx, client); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	now := time.Now()
	code := storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    client.ID,
		UserID:      "user-1",
		RedirectURI: "https://rp.example.com/cb",
		Scopes:      []string{"openid"},
		ValidAfter:  now.Add(-time.Minute),
		ExpiresAt:   now.Add(time.Minute),
	}
	if err := store.CreateAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("CreateAuthorizationCode: %v", err)
	}

	d := testDeps(t, store)
	result, err := AuthorizationCode{}.Handle(ctx, d, client, map[string][]string{
		"code":         {"code-1"},
		"redirect_uri": {"https://rp.example.com/cb"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AccessToken == "" || result.IDToken == "" || result.RefreshToken == "" {
		t.Fatalf("expected access, id, and refresh tokens, got %+v", result)
	}

	// Reuse must fail and revoke descendants.
	if _, err := AuthorizationCode{}.Handle(ctx, d, client, map[string][]string{
		"code":         {"code-1"},
		"redirect_uri": {"https://rp.example.com/cb"},
	}); err != ErrInvalidGrant {
		t.Fatalf("expected ErrInvalidGrant on reuse, got %v", err)
	}

	tok, err := store.GetAccessToken(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if !tok.IsRevoked {
		t.Fatalf("expected access token to be revoked after code reuse")
	}
}

func TestAuthorizationCodePKCE(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	client := storage.Client{ID: "client-1", GrantTypes: []string{"authorization_code"}}
	store.CreateClient(ctx, client)

	now := time.Now()
	code := storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    client.ID,
		UserID:      "user-1",
		RedirectURI: "https://rp.example.com/cb",
		Scopes:      []string{"openid"},
		PKCE:        storage.PKCE{CodeChallenge: "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", CodeChallengeMethod: "S256"},
		ValidAfter:  now.Add(-time.Minute),
		ExpiresAt:   now.Add(time.Minute),
	}
	store.CreateAuthorizationCode(ctx, code)

	d := testDeps(t, store)

	if _, err := (AuthorizationCode{}).Handle(ctx, d, client, map[string][]string{
		"code":         {"code-1"},
		"redirect_uri": {"https://rp.example.com/cb"},
		"code_verifier": {"wrong-verifier-wrong-verifier-wrong-verifier-wrong"},
	}); err != ErrInvalidGrant {
		t.Fatalf("expected ErrInvalidGrant for bad verifier, got %v", err)
	}

	result, err := (AuthorizationCode{}).Handle(ctx, d, client, map[string][]string{
		"code":          {"code-1"},
		"redirect_uri":  {"https://rp.example.com/cb"},
		"code_verifier": {"dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AccessToken == "" {
		t.Fatalf("expected access token")
	}
}

func TestRefreshTokenRotationReplayRevokesChain(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	client := storage.Client{ID: "client-1", GrantTypes: []string{"authorization_code", "refresh_token"}}
	store.CreateClient(ctx, client)

	d := testDeps(t, store)
	d.RotateRefresh = true
	d.CascadeRevoke = true

	rt, err := mintRefreshToken(ctx, d, client, "user-1", []string{"openid"}, "family-1", "")
	if err != nil {
		t.Fatalf("mintRefreshToken: %v", err)
	}

	// First use rotates successfully.
	res, err := RefreshToken{}.Handle(ctx, d, client, map[string][]string{"refresh_token": {rt.Token}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RefreshToken == rt.Token {
		t.Fatalf("expected a new refresh token on rotation")
	}

	// Replaying the old, now-revoked token must revoke the whole family.
	if _, err := RefreshToken{}.Handle(ctx, d, client, map[string][]string{"refresh_token": {rt.Token}}); err != ErrInvalidGrant {
		t.Fatalf("expected ErrInvalidGrant on replay, got %v", err)
	}

	next, err := store.GetRefreshToken(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	if !next.IsRevoked {
		t.Fatalf("expected rotated token to be revoked after replay of its predecessor")
	}
}

func TestRefreshTokenScopeNarrowing(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	client := storage.Client{ID: "client-1", GrantTypes: []string{"refresh_token"}}
	store.CreateClient(ctx, client)

	d := testDeps(t, store)
	rt, _ := mintRefreshToken(ctx, d, client, "user-1", []string{"openid", "profile"}, "family-1", "")

	res, err := RefreshToken{}.Handle(ctx, d, client, map[string][]string{
		"refresh_token": {rt.Token},
		"scope":         {"openid"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Scopes) != 1 || res.Scopes[0] != "openid" {
		t.Fatalf("expected narrowed scope [openid], got %v", res.Scopes)
	}

	if _, err := RefreshToken{}.Handle(ctx, d, client, map[string][]string{
		"refresh_token": {rt.Token},
		"scope":         {"openid admin"},
	}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for scope expansion, got %v", err)
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	client := storage.Client{ID: "client-1", Secret: "s3cr3t", GrantTypes: []string{"client_credentials"}, Scopes: []string{"api:read"}}
	store.CreateClient(ctx, client)

	d := testDeps(t, store)
	res, err := ClientCredentials{}.Handle(ctx, d, client, map[string][]string{"scope": {"api:read"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RefreshToken != "" {
		t.Fatalf("client_credentials must never issue a refresh token")
	}

	public := storage.Client{ID: "client-2", GrantTypes: []string{"client_credentials"}}
	if _, err := ClientCredentials{}.Handle(ctx, d, public, nil); err != ErrUnauthorizedClient {
		t.Fatalf("expected ErrUnauthorizedClient for public client, got %v", err)
	}
}

func TestPasswordGrant(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	client := storage.Client{ID: "client-1", GrantTypes: []string{"password"}}
	store.CreateClient(ctx, client)

	d := testDeps(t, store)
	if _, err := Password{}.Handle(ctx, d, client, map[string][]string{
		"username": {"alice"},
		"password": {"wrong"},
	}); err != ErrInvalidGrant {
		t.Fatalf("expected ErrInvalidGrant for bad password, got %v", err)
	}

	res, err := Password{}.Handle(ctx, d, client, map[string][]string{
		"username": {"alice"},
		"password": {"correct-horse"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", res.UserID)
	}
}

func TestDeviceCodeGrantPolling(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	client := storage.Client{ID: "client-1", GrantTypes: []string{"urn:ietf:params:oauth:grant-type:device_code"}}
	store.CreateClient(ctx, client)

	now := time.Now()
	dc := storage.DeviceCode{
		DeviceCode: "device-1",
		UserCode:   "ABCD-EFGH",
		ClientID:   client.ID,
		Scopes:     []string{"openid"},
		Interval:   5 * time.Second,
		LastPoll:   now.Add(-time.Minute),
		ExpiresAt:  now.Add(10 * time.Minute),
	}
	store.CreateDeviceCode(ctx, dc)

	d := testDeps(t, store)
	d.Now = func() time.Time { return now }

	if _, err := DeviceCode{}.Handle(ctx, d, client, map[string][]string{"device_code": {"device-1"}}); err != ErrAuthorizationPending {
		t.Fatalf("expected ErrAuthorizationPending, got %v", err)
	}

	if _, err := DeviceCode{}.Handle(ctx, d, client, map[string][]string{"device_code": {"device-1"}}); err != ErrSlowDown {
		t.Fatalf("expected ErrSlowDown on fast repoll, got %v", err)
	}

	store.UpdateDeviceCode(ctx, "device-1", func(old storage.DeviceCode) (storage.DeviceCode, error) {
		old.AuthorizedBy = "user-1"
		return old, nil
	})

	res, err := DeviceCode{}.Handle(ctx, d, client, map[string][]string{"device_code": {"device-1"}})
	if err != nil {
		t.Fatalf("unexpected error once authorized: %v", err)
	}
	if res.AccessToken == "" {
		t.Fatalf("expected access token once authorized")
	}
}
