package idtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/guaranijs/guarani/storage"
)

func newTestKeys(t *testing.T) storage.Keys {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	return storage.Keys{
		SigningKeyID:  "key-1",
		SigningKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
	}
}

func TestSignIDTokenRS256(t *testing.T) {
	signer, err := NewSigner(newTestKeys(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jws, err := signer.SignIDToken(Claims{Issuer: "https://idp.example", Subject: "user-1", Audience: Audience{"client-1"}}, "RS256")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(jws, ".") != 2 {
		t.Fatalf("expected a compact JWS with 3 segments, got %q", jws)
	}
}

func TestSignIDTokenNone(t *testing.T) {
	signer, err := NewSigner(newTestKeys(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jws, err := signer.SignIDToken(Claims{Issuer: "https://idp.example", Subject: "user-1"}, "none")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(jws, ".") {
		t.Fatalf("expected an unsigned JWT with an empty signature segment, got %q", jws)
	}
}

func TestJWKS(t *testing.T) {
	signer, err := NewSigner(newTestKeys(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	set, err := signer.JWKS()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected 1 key in JWKS, got %d", len(set.Keys))
	}
	if set.Keys[0].KeyID != "key-1" {
		t.Fatalf("expected key-1, got %q", set.Keys[0].KeyID)
	}
}

func TestHalfHash(t *testing.T) {
	h, err := HalfHash("RS256", "access-token-value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == "" {
		t.Fatalf("expected non-empty hash")
	}
	if _, err := HalfHash("bogus", "x"); err == nil {
		t.Fatalf("expected error for unsupported algorithm")
	}
}

func TestNewSignerRequiresKey(t *testing.T) {
	if _, err := NewSigner(storage.Keys{}); err == nil {
		t.Fatalf("expected error constructing signer with no signing key")
	}
}
