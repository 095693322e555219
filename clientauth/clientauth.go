// Package clientauth implements the token endpoint client authentication
// strategies: client_secret_basic, client_secret_post, none,
// client_secret_jwt, and private_key_jwt.
package clientauth

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/guaranijs/guarani/cryptoutil"
	"github.com/guaranijs/guarani/idtoken"
	"github.com/guaranijs/guarani/storage"
)

// ErrNoCredentials reports that the request carried no client authentication
// material matching any registered method.
var ErrNoCredentials = errors.New("clientauth: no client credentials presented")

// ErrAmbiguous reports that the request matched more than one authentication
// method at once, which RFC 6749 §2.3 forbids.
var ErrAmbiguous = errors.New("clientauth: request matches more than one client authentication method")

// ErrInvalidCredentials reports a credential mismatch for an identified client.
var ErrInvalidCredentials = errors.New("clientauth: invalid client credentials")

// JTIStore records the jti of a consumed client assertion so a replay can be
// rejected. storage.Storage satisfies this directly.
type JTIStore interface {
	CreateClientAssertionJTI(ctx context.Context, clientID, jti string, expiresAt time.Time) error
}

// Options carries the request-independent context a Method needs to
// validate a client assertion: the audience it must target and the replay
// cache for its jti. Methods that don't consume assertions ignore it.
type Options struct {
	// Audience is the token endpoint URL the assertion's "aud" claim must
	// name (spec §4.2).
	Audience string
	JTIStore JTIStore
	Now      time.Time
}

// Method authenticates a client from an HTTP request.
type Method interface {
	Name() string
	// Detect reports whether the request carries this method's credential
	// shape for client, without validating it.
	Detect(r *http.Request, client storage.Client) bool
	// Authenticate validates the detected credential against client and
	// returns an error if it doesn't match.
	Authenticate(r *http.Request, client storage.Client, opts Options) error
}

// Registry resolves and dispatches across the configured client
// authentication methods.
type Registry struct {
	methods []Method
}

// NewRegistry builds a registry. Construction fails on an empty method list:
// a server with no client authentication methods can never authenticate a
// confidential client at the token endpoint.
func NewRegistry(methods ...Method) (*Registry, error) {
	if len(methods) == 0 {
		return nil, errors.New("clientauth: registry requires at least one method")
	}
	return &Registry{methods: methods}, nil
}

// Authenticate detects exactly one matching method from the request and
// authenticates client against it. Public clients (client.IsPublic()) using
// the "none" method are accepted once their client_id is confirmed present.
func (reg *Registry) Authenticate(r *http.Request, client storage.Client, opts Options) (string, error) {
	var matched Method
	for _, m := range reg.methods {
		if !m.Detect(r, client) {
			continue
		}
		if matched != nil {
			return "", ErrAmbiguous
		}
		matched = m
	}
	if matched == nil {
		return "", ErrNoCredentials
	}
	if client.AuthenticationMethod != matched.Name() {
		return "", fmt.Errorf("clientauth: client is not registered for method %q", matched.Name())
	}
	if err := matched.Authenticate(r, client, opts); err != nil {
		return "", err
	}
	return matched.Name(), nil
}

// ClientSecretBasic implements RFC 6749 §2.3.1's HTTP Basic scheme.
type ClientSecretBasic struct{}

func (ClientSecretBasic) Name() string { return "client_secret_basic" }

func (ClientSecretBasic) Detect(r *http.Request, _ storage.Client) bool {
	_, _, ok := r.BasicAuth()
	return ok
}

func (ClientSecretBasic) Authenticate(r *http.Request, client storage.Client, _ Options) error {
	id, secret, ok := r.BasicAuth()
	if !ok {
		return ErrNoCredentials
	}
	id, err := url.QueryUnescape(id)
	if err != nil {
		return fmt.Errorf("clientauth: client_id improperly encoded: %w", err)
	}
	secret, err = url.QueryUnescape(secret)
	if err != nil {
		return fmt.Errorf("clientauth: client_secret improperly encoded: %w", err)
	}
	if id != client.ID || !cryptoutil.ConstantTimeEqual(client.Secret, secret) {
		return ErrInvalidCredentials
	}
	return nil
}

// ClientSecretPost implements RFC 6749 §2.3.1's request-body credential form.
type ClientSecretPost struct{}

func (ClientSecretPost) Name() string { return "client_secret_post" }

func (ClientSecretPost) Detect(r *http.Request, _ storage.Client) bool {
	if _, _, ok := r.BasicAuth(); ok {
		return false
	}
	return r.PostFormValue("client_secret") != ""
}

func (ClientSecretPost) Authenticate(r *http.Request, client storage.Client, _ Options) error {
	id := r.PostFormValue("client_id")
	secret := r.PostFormValue("client_secret")
	if id != client.ID || !cryptoutil.ConstantTimeEqual(client.Secret, secret) {
		return ErrInvalidCredentials
	}
	return nil
}

// None implements the "none" method for public clients that authenticate
// solely via PKCE.
type None struct{}

func (None) Name() string { return "none" }

func (None) Detect(r *http.Request, _ storage.Client) bool {
	if _, _, ok := r.BasicAuth(); ok {
		return false
	}
	return r.PostFormValue("client_secret") == "" && r.PostFormValue("client_id") != ""
}

func (None) Authenticate(r *http.Request, client storage.Client, _ Options) error {
	if !client.IsPublic() {
		return errors.New("clientauth: \"none\" method used by a confidential client")
	}
	if r.PostFormValue("client_id") != client.ID {
		return ErrInvalidCredentials
	}
	return nil
}

const (
	assertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// ClientSecretJWT implements RFC 7523-style HMAC-signed client assertions,
// keyed by the client's own secret.
type ClientSecretJWT struct{}

func (ClientSecretJWT) Name() string { return "client_secret_jwt" }

// Detect matches only clients with no registered JWKS: a client that has
// published signing keys authenticates via PrivateKeyJWT instead, never both
// (mirrors the client.JWKS branch PrivateKeyJWT.Authenticate already takes).
func (ClientSecretJWT) Detect(r *http.Request, client storage.Client) bool {
	return len(client.JWKS) == 0 && r.PostFormValue("client_assertion_type") == assertionTypeJWTBearer
}

func (ClientSecretJWT) Authenticate(r *http.Request, client storage.Client, opts Options) error {
	assertion := r.PostFormValue("client_assertion")
	claims, err := idtoken.VerifyClientAssertion(assertion, []byte(client.Secret))
	if err != nil {
		return err
	}
	return verifyAssertionClaims(r.Context(), claims, client.ID, opts)
}

// PrivateKeyJWT implements RFC 7523-style client assertions signed with a key
// from the client's own registered JWKS.
type PrivateKeyJWT struct{}

func (PrivateKeyJWT) Name() string { return "private_key_jwt" }

// Detect matches only clients with a registered JWKS; see ClientSecretJWT.Detect.
func (PrivateKeyJWT) Detect(r *http.Request, client storage.Client) bool {
	return len(client.JWKS) > 0 && r.PostFormValue("client_assertion_type") == assertionTypeJWTBearer
}

func (PrivateKeyJWT) Authenticate(r *http.Request, client storage.Client, opts Options) error {
	if len(client.JWKS) == 0 {
		return errors.New("clientauth: client has no registered JWKS for private_key_jwt")
	}
	assertion := r.PostFormValue("client_assertion")

	block, _ := pem.Decode(client.JWKS)
	if block == nil {
		return errors.New("clientauth: client JWKS is not a PEM-encoded public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("clientauth: parse client public key: %w", err)
	}

	claims, err := idtoken.VerifyClientAssertion(assertion, pub)
	if err != nil {
		return err
	}
	return verifyAssertionClaims(r.Context(), claims, client.ID, opts)
}

// verifyAssertionClaims checks the RFC 7523 claim set a client_secret_jwt or
// private_key_jwt assertion must carry (spec §4.2): iss and sub both equal
// the client_id, aud names this token endpoint, exp is still in the future,
// and jti hasn't been consumed by an earlier assertion.
func verifyAssertionClaims(ctx context.Context, claims map[string]interface{}, clientID string, opts Options) error {
	iss, _ := claims["iss"].(string)
	sub, _ := claims["sub"].(string)
	if iss != clientID || sub != clientID {
		return ErrInvalidCredentials
	}

	if !audienceContains(claims["aud"], opts.Audience) {
		return ErrInvalidCredentials
	}

	exp, ok := claims["exp"].(float64)
	if !ok || int64(exp) <= opts.Now.Unix() {
		return ErrInvalidCredentials
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return errors.New("clientauth: assertion has no jti")
	}
	if opts.JTIStore == nil {
		return errors.New("clientauth: no jti replay store configured")
	}
	if err := opts.JTIStore.CreateClientAssertionJTI(ctx, clientID, jti, time.Unix(int64(exp), 0)); err != nil {
		if storage.IsErrorCode(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: assertion jti already used", ErrInvalidCredentials)
		}
		return fmt.Errorf("clientauth: recording assertion jti: %w", err)
	}
	return nil
}

// audienceContains reports whether the decoded JSON "aud" claim (a string or
// an array of strings, per RFC 7519 §4.1.3) names want.
func audienceContains(aud interface{}, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
