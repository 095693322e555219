// Package grant implements the token endpoint grant type strategies:
// authorization_code, refresh_token, client_credentials, password,
// device_code, and jwt-bearer.
package grant

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/guaranijs/guarani/idtoken"
	"github.com/guaranijs/guarani/pkce"
	"github.com/guaranijs/guarani/scope"
	"github.com/guaranijs/guarani/storage"
)

// Protocol errors returned by the grant strategies; the server package maps
// these onto the RFC 6749 error codes named in spec §6.
var (
	ErrInvalidGrant        = errors.New("grant: invalid_grant")
	ErrInvalidRequest      = errors.New("grant: invalid_request")
	ErrUnauthorizedClient  = errors.New("grant: unauthorized_client")
	ErrAuthorizationPending = errors.New("grant: authorization_pending")
	ErrSlowDown            = errors.New("grant: slow_down")
	ErrExpiredToken        = errors.New("grant: expired_token")
)

// UserService is the external collaborator that owns user identity and
// credentials; the engine never stores user records itself (spec §3 User).
type UserService interface {
	Claims(ctx context.Context, userID string) (storage.Claims, error)
	VerifyPassword(ctx context.Context, username, password string) (storage.Claims, error)
}

// Result is the outcome of a successful grant, ready for response shaping.
type Result struct {
	UserID       string
	Scopes       scope.Scopes
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	IDToken      string
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Deps bundles the collaborators every grant strategy needs. Passed by
// value into each Handle call rather than captured in a struct per strategy,
// since strategies are stateless and resolved by name from a registry.
type Deps struct {
	Store        storage.Storage
	Users        UserService
	Signer       *idtoken.Signer
	PKCE         *pkce.Registry
	Now          Clock
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	IDTokenAlg   func(client storage.Client) string
	IssuerURL    string
	RotateRefresh bool
	CascadeRevoke bool
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Handler is a token endpoint grant type strategy.
type Handler interface {
	Name() string
	Handle(ctx context.Context, d Deps, client storage.Client, form map[string][]string) (Result, error)
}

func formValue(form map[string][]string, key string) string {
	if vs := form[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// MintAccessToken exports mintAccessToken for callers outside the grant
// package (the /authorize endpoint's token/hybrid response-type branches,
// which mint outside of any grant.Handler).
func MintAccessToken(ctx context.Context, d Deps, client storage.Client, userID string, scopes []string, parentType, parentID string) (storage.AccessToken, error) {
	return mintAccessToken(ctx, d, client, userID, scopes, parentType, parentID)
}

// MintIDToken exports mintIDToken for callers outside the grant package. See
// MintAccessToken.
func MintIDToken(ctx context.Context, d Deps, client storage.Client, userID string, scopes []string, nonce, accessToken, code string) (string, error) {
	return mintIDToken(ctx, d, client, userID, scopes, nonce, accessToken, code)
}

// mintAccessToken persists and returns a fresh access token bound to
// parentType/parentID (the authorization code or refresh token it descends
// from, or empty for client_credentials).
func mintAccessToken(ctx context.Context, d Deps, client storage.Client, userID string, scopes []string, parentType, parentID string) (storage.AccessToken, error) {
	now := d.now()
	tok := storage.AccessToken{
		Token:      storage.NewID(),
		ClientID:   client.ID,
		UserID:     userID,
		Scopes:     scopes,
		IssuedAt:   now,
		ValidAfter: now,
		ExpiresAt:  now.Add(d.AccessTTL),
		ParentType: parentType,
		ParentID:   parentID,
	}
	if err := d.Store.CreateAccessToken(ctx, tok); err != nil {
		return storage.AccessToken{}, err
	}
	return tok, nil
}

// mintIDToken builds and signs an ID token. accessToken and code, when
// non-empty, populate at_hash and c_hash respectively (spec §4.7's hybrid
// flow hashes) — code is only set by the /authorize endpoint's "code
// id_token"/"code id_token token" response types; grant handlers always pass
// the empty string.
func mintIDToken(ctx context.Context, d Deps, client storage.Client, userID string, scopes []string, nonce, accessToken, code string) (string, error) {
	if !scope.Scopes(scopes).Has("openid") {
		return "", nil
	}
	claims, err := d.Users.Claims(ctx, userID)
	if err != nil {
		return "", err
	}

	alg := client.IDTokenSignedResponseAlg
	if alg == "" {
		alg = "RS256"
	}

	now := d.now()
	iat, exp := idtoken.Expiry(now, d.AccessTTL)
	tok := idtoken.Claims{
		Issuer:   d.IssuerURL,
		Subject:  claims.UserID,
		Audience: idtoken.Audience{client.ID},
		IssuedAt: iat,
		Expiry:   exp,
		Nonce:    nonce,
	}
	if scope.Scopes(scopes).Has("email") {
		tok.Email = claims.Email
		v := claims.EmailVerified
		tok.EmailVerified = &v
	}
	if scope.Scopes(scopes).Has("profile") {
		tok.Name = claims.Username
		tok.PreferredUsername = claims.PreferredUsername
	}
	if scope.Scopes(scopes).Has("groups") {
		tok.Groups = claims.Groups
	}
	if accessToken != "" {
		hashAlg := alg
		if hashAlg == "none" {
			hashAlg = "RS256"
		}
		h, err := idtoken.HalfHash(hashAlg, accessToken)
		if err == nil {
			tok.AccessTokenHash = h
		}
	}
	if code != "" {
		hashAlg := alg
		if hashAlg == "none" {
			hashAlg = "RS256"
		}
		h, err := idtoken.HalfHash(hashAlg, code)
		if err == nil {
			tok.CodeHash = h
		}
	}

	return d.Signer.SignIDToken(tok, alg)
}

// AuthorizationCode implements the authorization_code grant (spec §4.5).
type AuthorizationCode struct{}

func (AuthorizationCode) Name() string { return "authorization_code" }

func (AuthorizationCode) Handle(ctx context.Context, d Deps, client storage.Client, form map[string][]string) (Result, error) {
	code := formValue(form, "code")
	redirectURI := formValue(form, "redirect_uri")
	verifier := formValue(form, "code_verifier")
	if code == "" || redirectURI == "" {
		return Result{}, ErrInvalidRequest
	}

	ac, err := d.Store.GetAuthorizationCode(ctx, code)
	if err != nil {
		return Result{}, ErrInvalidGrant
	}

	now := d.now()
	if ac.ClientID != client.ID || ac.IsRevoked || ac.Expired(now) || ac.RedirectURI != redirectURI {
		if err := revokeCodeDescendants(ctx, d, ac); err != nil {
			return Result{}, err
		}
		return Result{}, ErrInvalidGrant
	}

	if ac.PKCE.CodeChallenge != "" {
		method, ok := d.PKCE.Lookup(ac.PKCE.CodeChallengeMethod)
		if !ok || verifier == "" || !method.Verify(ac.PKCE.CodeChallenge, verifier) {
			return Result{}, ErrInvalidGrant
		}
	}

	if err := d.Store.UpdateAuthorizationCode(ctx, code, func(old storage.AuthorizationCode) (storage.AuthorizationCode, error) {
		old.IsRevoked = true
		return old, nil
	}); err != nil {
		return Result{}, err
	}

	tok, err := mintAccessToken(ctx, d, client, ac.UserID, ac.Scopes, "code", ac.Code)
	if err != nil {
		return Result{}, err
	}

	idTok, err := mintIDToken(ctx, d, client, ac.UserID, ac.Scopes, ac.Nonce, tok.Token, "")
	if err != nil {
		return Result{}, err
	}

	result := Result{
		UserID:      ac.UserID,
		Scopes:      ac.Scopes,
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(d.AccessTTL.Seconds()),
		IDToken:     idTok,
	}

	if client.HasGrantType("refresh_token") {
		rt, err := mintRefreshToken(ctx, d, client, ac.UserID, ac.Scopes, storage.NewID(), "")
		if err != nil {
			return Result{}, err
		}
		result.RefreshToken = rt.Token
	}
	return result, nil
}

// revokeCodeDescendants revokes every access/refresh token minted from a
// code, implementing the "code reuse revokes any issued tokens" rule.
func revokeCodeDescendants(ctx context.Context, d Deps, ac storage.AuthorizationCode) error {
	tokens, err := d.Store.ListAccessTokensByParent(ctx, "code", ac.Code)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if err := d.Store.UpdateAccessToken(ctx, t.Token, func(old storage.AccessToken) (storage.AccessToken, error) {
			old.IsRevoked = true
			return old, nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// RefreshToken implements the refresh_token grant with rotation and
// replay-chain revocation (spec §4.5, §8 scenario 2).
type RefreshToken struct{}

func (RefreshToken) Name() string { return "refresh_token" }

func (RefreshToken) Handle(ctx context.Context, d Deps, client storage.Client, form map[string][]string) (Result, error) {
	token := formValue(form, "refresh_token")
	if token == "" {
		return Result{}, ErrInvalidRequest
	}

	rt, err := d.Store.GetRefreshToken(ctx, token)
	if err != nil {
		return Result{}, ErrInvalidGrant
	}

	now := d.now()
	if rt.ClientID != client.ID {
		return Result{}, ErrInvalidGrant
	}
	if rt.IsRevoked {
		// Replay of an already-rotated token: revoke the whole chain.
		if err := revokeFamily(ctx, d, rt.FamilyID); err != nil {
			return Result{}, err
		}
		return Result{}, ErrInvalidGrant
	}
	if !rt.Active(now) {
		return Result{}, ErrInvalidGrant
	}

	scopes := rt.Scopes
	if requested := formValue(form, "scope"); requested != "" {
		narrowed := scope.Parse(requested)
		if !scope.Scopes(rt.Scopes).Contains(narrowed) {
			return Result{}, ErrInvalidRequest
		}
		scopes = narrowed
	}

	tok, err := mintAccessToken(ctx, d, client, rt.UserID, scopes, "refresh_token", rt.Token)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		UserID:      rt.UserID,
		Scopes:      scopes,
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(d.AccessTTL.Seconds()),
	}

	idTok, err := mintIDToken(ctx, d, client, rt.UserID, scopes, rt.Nonce, tok.Token, "")
	if err != nil {
		return Result{}, err
	}
	result.IDToken = idTok

	if d.RotateRefresh {
		next, err := mintRefreshToken(ctx, d, client, rt.UserID, scopes, rt.FamilyID, rt.Token)
		if err != nil {
			return Result{}, err
		}
		if err := d.Store.UpdateRefreshToken(ctx, rt.Token, func(old storage.RefreshToken) (storage.RefreshToken, error) {
			old.IsRevoked = true
			return old, nil
		}); err != nil {
			return Result{}, err
		}
		result.RefreshToken = next.Token
	} else {
		result.RefreshToken = rt.Token
	}
	return result, nil
}

func revokeFamily(ctx context.Context, d Deps, familyID string) error {
	family, err := d.Store.ListRefreshTokensByFamily(ctx, familyID)
	if err != nil {
		return err
	}
	for _, member := range family {
		if err := d.Store.UpdateRefreshToken(ctx, member.Token, func(old storage.RefreshToken) (storage.RefreshToken, error) {
			old.IsRevoked = true
			return old, nil
		}); err != nil {
			return err
		}
		if !d.CascadeRevoke {
			continue
		}
		tokens, err := d.Store.ListAccessTokensByParent(ctx, "refresh_token", member.Token)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			if err := d.Store.UpdateAccessToken(ctx, t.Token, func(old storage.AccessToken) (storage.AccessToken, error) {
				old.IsRevoked = true
				return old, nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func mintRefreshToken(ctx context.Context, d Deps, client storage.Client, userID string, scopes []string, familyID, parentToken string) (storage.RefreshToken, error) {
	now := d.now()
	rt := storage.RefreshToken{
		Token:       storage.NewID(),
		FamilyID:    familyID,
		ParentToken: parentToken,
		ClientID:    client.ID,
		UserID:      userID,
		Scopes:      scopes,
		ValidAfter:  now,
		ExpiresAt:   now.Add(d.RefreshTTL),
	}
	if err := d.Store.CreateRefreshToken(ctx, rt); err != nil {
		return storage.RefreshToken{}, err
	}
	return rt, nil
}

// ClientCredentials implements the client_credentials grant; never issues a
// refresh token and never binds a user.
type ClientCredentials struct{}

func (ClientCredentials) Name() string { return "client_credentials" }

func (ClientCredentials) Handle(ctx context.Context, d Deps, client storage.Client, form map[string][]string) (Result, error) {
	if client.IsPublic() {
		return Result{}, ErrUnauthorizedClient
	}

	scopes, err := scope.Resolve(scope.Parse(formValue(form, "scope")), client.Scopes, scope.Strict)
	if err != nil {
		return Result{}, ErrInvalidRequest
	}

	tok, err := mintAccessToken(ctx, d, client, "", scopes, "", "")
	if err != nil {
		return Result{}, err
	}
	return Result{
		Scopes:      scopes,
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(d.AccessTTL.Seconds()),
	}, nil
}

// Password implements the resource owner password credentials grant.
type Password struct{}

func (Password) Name() string { return "password" }

func (Password) Handle(ctx context.Context, d Deps, client storage.Client, form map[string][]string) (Result, error) {
	username := formValue(form, "username")
	password := formValue(form, "password")
	if username == "" || password == "" {
		return Result{}, ErrInvalidRequest
	}

	claims, err := d.Users.VerifyPassword(ctx, username, password)
	if err != nil {
		return Result{}, ErrInvalidGrant
	}

	scopes, err := scope.Resolve(scope.Parse(formValue(form, "scope")), client.Scopes, scope.Strict)
	if err != nil {
		return Result{}, ErrInvalidRequest
	}

	tok, err := mintAccessToken(ctx, d, client, claims.UserID, scopes, "", "")
	if err != nil {
		return Result{}, err
	}

	result := Result{
		UserID:      claims.UserID,
		Scopes:      scopes,
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(d.AccessTTL.Seconds()),
	}
	if client.HasGrantType("refresh_token") {
		rt, err := mintRefreshToken(ctx, d, client, claims.UserID, scopes, storage.NewID(), "")
		if err != nil {
			return Result{}, err
		}
		result.RefreshToken = rt.Token
	}
	return result, nil
}

// VerifyBcryptPassword is the password-hash comparison UserService
// implementations are expected to use, per the teacher's credential
// hashing convention.
func VerifyBcryptPassword(hashed, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(candidate)) == nil
}

// DeviceCode implements the device_code polling grant (RFC 8628).
type DeviceCode struct{}

func (DeviceCode) Name() string { return "urn:ietf:params:oauth:grant-type:device_code" }

func (DeviceCode) Handle(ctx context.Context, d Deps, client storage.Client, form map[string][]string) (Result, error) {
	deviceCode := formValue(form, "device_code")
	if deviceCode == "" {
		return Result{}, ErrInvalidRequest
	}

	dc, err := d.Store.GetDeviceCodeByDeviceCode(ctx, deviceCode)
	if err != nil || dc.ClientID != client.ID {
		return Result{}, ErrInvalidGrant
	}

	now := d.now()
	if dc.Expired(now) {
		return Result{}, ErrExpiredToken
	}
	if dc.Denied {
		return Result{}, ErrInvalidGrant
	}
	if !dc.Authorized() {
		if now.Sub(dc.LastPoll) < dc.Interval {
			return Result{}, ErrSlowDown
		}
		if err := d.Store.UpdateDeviceCode(ctx, deviceCode, func(old storage.DeviceCode) (storage.DeviceCode, error) {
			old.LastPoll = now
			return old, nil
		}); err != nil {
			return Result{}, err
		}
		return Result{}, ErrAuthorizationPending
	}

	tok, err := mintAccessToken(ctx, d, client, dc.AuthorizedBy, dc.Scopes, "", "")
	if err != nil {
		return Result{}, err
	}

	result := Result{
		UserID:      dc.AuthorizedBy,
		Scopes:      dc.Scopes,
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(d.AccessTTL.Seconds()),
	}
	if client.HasGrantType("refresh_token") {
		rt, err := mintRefreshToken(ctx, d, client, dc.AuthorizedBy, dc.Scopes, storage.NewID(), "")
		if err != nil {
			return Result{}, err
		}
		result.RefreshToken = rt.Token
	}
	return result, nil
}

// JWTBearer implements the urn:ietf:params:oauth:grant-type:jwt-bearer
// grant: the assertion's sub names the mapped user.
type JWTBearer struct {
	VerifyAssertion func(assertion string) (userID string, scopes []string, err error)
}

func (JWTBearer) Name() string { return "urn:ietf:params:oauth:grant-type:jwt-bearer" }

func (j JWTBearer) Handle(ctx context.Context, d Deps, client storage.Client, form map[string][]string) (Result, error) {
	assertion := formValue(form, "assertion")
	if assertion == "" || j.VerifyAssertion == nil {
		return Result{}, ErrInvalidRequest
	}

	userID, scopes, err := j.VerifyAssertion(assertion)
	if err != nil {
		return Result{}, ErrInvalidGrant
	}

	tok, err := mintAccessToken(ctx, d, client, userID, scopes, "", "")
	if err != nil {
		return Result{}, err
	}
	return Result{
		UserID:      userID,
		Scopes:      scopes,
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(d.AccessTTL.Seconds()),
	}, nil
}
