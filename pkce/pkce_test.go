package pkce

import "testing"

func TestS256Verify(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if !S256.Verify(challenge, verifier) {
		t.Fatalf("expected S256 challenge to verify against verifier")
	}
	if S256.Verify(challenge, verifier+"x") {
		t.Fatalf("expected mismatched verifier to fail")
	}
}

func TestPlainVerify(t *testing.T) {
	verifier := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"
	if !Plain.Verify(verifier, verifier) {
		t.Fatalf("expected plain challenge to equal verifier")
	}
	if Plain.Verify(verifier, verifier+"x") {
		t.Fatalf("expected mismatched verifier to fail")
	}
}

func TestVerifierLengthBounds(t *testing.T) {
	tooShort := "short"
	if Plain.Verify(tooShort, tooShort) {
		t.Fatalf("expected under-length verifier to be rejected")
	}
}

func TestNewRegistry(t *testing.T) {
	if _, err := NewRegistry(); err == nil {
		t.Fatalf("expected error constructing a registry with no methods")
	}

	r, err := NewRegistry(S256, Plain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.Lookup("S256"); !ok {
		t.Fatalf("expected S256 to be registered")
	}
	if _, ok := r.Lookup("unknown"); ok {
		t.Fatalf("expected unknown method to be absent")
	}
	if len(r.Names()) != 2 {
		t.Fatalf("expected 2 registered names, got %d", len(r.Names()))
	}
}
