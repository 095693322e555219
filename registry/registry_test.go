package registry

import "testing"

func TestNewDefaults(t *testing.T) {
	r, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.HasGrantType(GrantAuthorizationCode) {
		t.Fatalf("expected authorization_code to be enabled by default")
	}
	if !r.HasResponseType(ResponseCode) {
		t.Fatalf("expected code to be enabled by default")
	}
	if len(r.PKCEMethods) != 1 || r.PKCEMethods[0] != "S256" {
		t.Fatalf("expected default PKCE methods [S256], got %v", r.PKCEMethods)
	}
}

func TestNewRejectsUnknownGrantType(t *testing.T) {
	_, err := New(Config{GrantTypes: []string{"bogus"}})
	if err == nil {
		t.Fatalf("expected error for unknown grant type")
	}
}

func TestNewEmptyListsFallBackToDefaults(t *testing.T) {
	_, err := New(Config{GrantTypes: []string{}, ResponseTypes: []string{}})
	// Empty grant and response type lists fall back to the defaults, so
	// construction succeeds.
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewDedupesAndSorts(t *testing.T) {
	r, err := New(Config{ACRValues: []string{"urn:b", "urn:a", "urn:b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"urn:a", "urn:b"}
	if len(r.ACRValues) != len(want) || r.ACRValues[0] != want[0] || r.ACRValues[1] != want[1] {
		t.Fatalf("ACRValues = %v, want %v", r.ACRValues, want)
	}
}
