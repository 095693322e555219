package net

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchSectorRedirectURIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["https://rp.example/cb","https://rp.example/cb2"]`))
	}))
	defer srv.Close()

	uris, err := FetchSectorRedirectURIs(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uris) != 2 {
		t.Fatalf("expected 2 uris, got %d", len(uris))
	}
}

func TestFetchSectorRedirectURIsInvalidURI(t *testing.T) {
	if _, err := FetchSectorRedirectURIs(http.DefaultClient, "not a uri"); err == nil {
		t.Fatalf("expected error for invalid sector_identifier_uri")
	}
}

func TestContainsAll(t *testing.T) {
	set := []string{"https://rp.example/cb", "https://rp.example/cb2"}
	if !ContainsAll(set, []string{"https://rp.example/cb"}) {
		t.Fatalf("expected set to contain needle")
	}
	if ContainsAll(set, []string{"https://rp.example/cb3"}) {
		t.Fatalf("expected set not to contain unregistered uri")
	}
}
