package clientauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/guaranijs/guarani/storage"
)

const testAudience = "https://issuer.example.com/oauth/token"

type memJTIStore struct {
	seen map[string]bool
}

func (m *memJTIStore) CreateClientAssertionJTI(_ context.Context, clientID, jti string, _ time.Time) error {
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	key := clientID + "/" + jti
	if m.seen[key] {
		return storage.Error{Code: storage.ErrAlreadyExists}
	}
	m.seen[key] = true
	return nil
}

func signAssertion(t *testing.T, alg jose.SignatureAlgorithm, key interface{}, claims map[string]interface{}) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key}, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}
	return raw
}

func assertionForm(clientID, assertion string) url.Values {
	return url.Values{
		"client_assertion_type": {assertionTypeJWTBearer},
		"client_assertion":      {assertion},
	}
}

func TestClientSecretBasic(t *testing.T) {
	client := storage.Client{ID: "client-1", Secret: "s3cr3t", AuthenticationMethod: "client_secret_basic"}

	reg, err := NewRegistry(ClientSecretBasic{}, ClientSecretPost{}, None{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/oauth/token", nil)
	r.SetBasicAuth("client-1", "s3cr3t")

	name, err := reg.Authenticate(r, client, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "client_secret_basic" {
		t.Fatalf("expected client_secret_basic, got %q", name)
	}
}

func TestClientSecretBasicWrongSecret(t *testing.T) {
	client := storage.Client{ID: "client-1", Secret: "s3cr3t", AuthenticationMethod: "client_secret_basic"}
	reg, _ := NewRegistry(ClientSecretBasic{})

	r := httptest.NewRequest(http.MethodPost, "/oauth/token", nil)
	r.SetBasicAuth("client-1", "wrong")

	if _, err := reg.Authenticate(r, client, Options{}); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestClientSecretPost(t *testing.T) {
	client := storage.Client{ID: "client-1", Secret: "s3cr3t", AuthenticationMethod: "client_secret_post"}
	reg, _ := NewRegistry(ClientSecretBasic{}, ClientSecretPost{})

	form := url.Values{"client_id": {"client-1"}, "client_secret": {"s3cr3t"}}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	name, err := reg.Authenticate(r, client, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "client_secret_post" {
		t.Fatalf("expected client_secret_post, got %q", name)
	}
}

func TestNonePublicClient(t *testing.T) {
	client := storage.Client{ID: "client-1", AuthenticationMethod: "none"}
	reg, _ := NewRegistry(None{})

	form := url.Values{"client_id": {"client-1"}}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := reg.Authenticate(r, client, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNoCredentials(t *testing.T) {
	reg, _ := NewRegistry(ClientSecretBasic{})
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", nil)
	if _, err := reg.Authenticate(r, storage.Client{}, Options{}); err != ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestNewRegistryRequiresMethods(t *testing.T) {
	if _, err := NewRegistry(); err == nil {
		t.Fatalf("expected error constructing registry with no methods")
	}
}

func TestClientSecretJWT(t *testing.T) {
	client := storage.Client{ID: "client-1", Secret: "s3cr3t-at-least-32-bytes-long!!!", AuthenticationMethod: "client_secret_jwt"}
	reg, _ := NewRegistry(ClientSecretJWT{}, PrivateKeyJWT{})

	now := time.Now()
	assertion := signAssertion(t, jose.HS256, []byte(client.Secret), map[string]interface{}{
		"iss": client.ID, "sub": client.ID, "aud": testAudience,
		"exp": now.Add(time.Minute).Unix(), "jti": "jti-1",
	})
	form := assertionForm(client.ID, assertion)
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	name, err := reg.Authenticate(r, client, Options{Audience: testAudience, JTIStore: &memJTIStore{}, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "client_secret_jwt" {
		t.Fatalf("expected client_secret_jwt, got %q", name)
	}
}

func TestClientSecretJWTDoesNotMatchJWKSClient(t *testing.T) {
	// A client with a registered JWKS must be detected as private_key_jwt,
	// never client_secret_jwt, even though both present the same assertion
	// shape on the wire.
	client := storage.Client{ID: "client-1", JWKS: []byte("placeholder")}
	form := url.Values{"client_assertion_type": {assertionTypeJWTBearer}}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	csJWT, pkJWT := ClientSecretJWT{}, PrivateKeyJWT{}
	if csJWT.Detect(r, client) {
		t.Fatalf("client_secret_jwt should not match a client with a registered JWKS")
	}
	if !pkJWT.Detect(r, client) {
		t.Fatalf("private_key_jwt should match a client with a registered JWKS")
	}
}

func TestClientSecretJWTRejectsReplayedJTI(t *testing.T) {
	client := storage.Client{ID: "client-1", Secret: "s3cr3t-at-least-32-bytes-long!!!", AuthenticationMethod: "client_secret_jwt"}
	reg, _ := NewRegistry(ClientSecretJWT{})
	now := time.Now()
	store := &memJTIStore{}

	newRequest := func() *http.Request {
		assertion := signAssertion(t, jose.HS256, []byte(client.Secret), map[string]interface{}{
			"iss": client.ID, "sub": client.ID, "aud": testAudience,
			"exp": now.Add(time.Minute).Unix(), "jti": "jti-replay",
		})
		form := assertionForm(client.ID, assertion)
		r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r
	}

	opts := Options{Audience: testAudience, JTIStore: store, Now: now}
	if _, err := reg.Authenticate(newRequest(), client, opts); err != nil {
		t.Fatalf("unexpected error on first use: %v", err)
	}
	if _, err := reg.Authenticate(newRequest(), client, opts); err == nil {
		t.Fatalf("expected an error replaying the same jti")
	}
}

func TestClientSecretJWTRejectsExpiredAssertion(t *testing.T) {
	client := storage.Client{ID: "client-1", Secret: "s3cr3t-at-least-32-bytes-long!!!", AuthenticationMethod: "client_secret_jwt"}
	reg, _ := NewRegistry(ClientSecretJWT{})
	now := time.Now()

	assertion := signAssertion(t, jose.HS256, []byte(client.Secret), map[string]interface{}{
		"iss": client.ID, "sub": client.ID, "aud": testAudience,
		"exp": now.Add(-time.Minute).Unix(), "jti": "jti-expired",
	})
	form := assertionForm(client.ID, assertion)
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := reg.Authenticate(r, client, Options{Audience: testAudience, JTIStore: &memJTIStore{}, Now: now}); err == nil {
		t.Fatalf("expected an error for an expired assertion")
	}
}

func TestClientSecretJWTRejectsWrongAudience(t *testing.T) {
	client := storage.Client{ID: "client-1", Secret: "s3cr3t-at-least-32-bytes-long!!!", AuthenticationMethod: "client_secret_jwt"}
	reg, _ := NewRegistry(ClientSecretJWT{})
	now := time.Now()

	assertion := signAssertion(t, jose.HS256, []byte(client.Secret), map[string]interface{}{
		"iss": client.ID, "sub": client.ID, "aud": "https://someone-else.example.com/token",
		"exp": now.Add(time.Minute).Unix(), "jti": "jti-wrong-aud",
	})
	form := assertionForm(client.ID, assertion)
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := reg.Authenticate(r, client, Options{Audience: testAudience, JTIStore: &memJTIStore{}, Now: now}); err == nil {
		t.Fatalf("expected an error for a mismatched audience")
	}
}

func TestPrivateKeyJWT(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	client := storage.Client{ID: "client-1", JWKS: pubPEM, AuthenticationMethod: "private_key_jwt"}
	reg, _ := NewRegistry(ClientSecretJWT{}, PrivateKeyJWT{})

	now := time.Now()
	assertion := signAssertion(t, jose.RS256, key, map[string]interface{}{
		"iss": client.ID, "sub": client.ID, "aud": testAudience,
		"exp": now.Add(time.Minute).Unix(), "jti": "jti-pk-1",
	})
	form := assertionForm(client.ID, assertion)
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	name, err := reg.Authenticate(r, client, Options{Audience: testAudience, JTIStore: &memJTIStore{}, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "private_key_jwt" {
		t.Fatalf("expected private_key_jwt, got %q", name)
	}
}
