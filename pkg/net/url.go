// Package net holds small net/url helpers for fetching a client's
// sector_identifier_uri document and checking its redirect URIs. No other
// package in this module imports it.
package net

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// FetchSectorRedirectURIs retrieves the JSON array of redirect URIs published
// at a client's sector_identifier_uri, per OpenID Connect Registration §2.
func FetchSectorRedirectURIs(client *http.Client, sectorIdentifierURI string) ([]string, error) {
	if _, err := url.ParseRequestURI(sectorIdentifierURI); err != nil {
		return nil, fmt.Errorf("net: invalid sector_identifier_uri: %w", err)
	}

	resp, err := client.Get(sectorIdentifierURI)
	if err != nil {
		return nil, fmt.Errorf("net: fetching sector_identifier_uri: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("net: sector_identifier_uri returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("net: reading sector_identifier_uri response: %w", err)
	}

	var uris []string
	if err := json.Unmarshal(body, &uris); err != nil {
		return nil, fmt.Errorf("net: decoding sector_identifier_uri response: %w", err)
	}
	return uris, nil
}

// ContainsAll reports whether every one of needles is present in set.
func ContainsAll(set, needles []string) bool {
	index := make(map[string]struct{}, len(set))
	for _, s := range set {
		index[s] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := index[n]; !ok {
			return false
		}
	}
	return true
}
