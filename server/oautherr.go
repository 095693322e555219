package server

import (
	"encoding/json"
	"net/http"
)

// Error is the engine's tagged error value, carried through handlers instead
// of exceptions. It renders either as a redirect (via a responsemode
// Renderer) or as a JSON body, per spec §7's error taxonomy.
type Error struct {
	Code        string
	Description string
	URI         string
	Status      int
	Headers     http.Header
	State       string
}

func (e Error) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// Params renders the error as the response-mode parameter set used for
// redirect-bearing endpoints.
func (e Error) Params() map[string]string {
	p := map[string]string{"error": e.Code}
	if e.Description != "" {
		p["error_description"] = e.Description
	}
	if e.URI != "" {
		p["error_uri"] = e.URI
	}
	if e.State != "" {
		p["state"] = e.State
	}
	return p
}

// WriteJSON serializes the error as the JSON body RFC 6749 §5.2 describes
// for non-redirect endpoints (/token, /revoke, /introspect).
func (e Error) WriteJSON(w http.ResponseWriter) {
	status := e.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	for k, v := range e.Headers {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	body := map[string]string{"error": e.Code}
	if e.Description != "" {
		body["error_description"] = e.Description
	}
	if e.URI != "" {
		body["error_uri"] = e.URI
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Well-known error codes named in spec §6.
var (
	ErrInvalidRequest       = Error{Code: "invalid_request", Status: http.StatusBadRequest}
	ErrInvalidClient        = Error{Code: "invalid_client", Status: http.StatusUnauthorized}
	ErrInvalidGrant         = Error{Code: "invalid_grant", Status: http.StatusBadRequest}
	ErrUnauthorizedClient   = Error{Code: "unauthorized_client", Status: http.StatusBadRequest}
	ErrUnsupportedGrantType = Error{Code: "unsupported_grant_type", Status: http.StatusBadRequest}
	ErrInvalidScope         = Error{Code: "invalid_scope", Status: http.StatusBadRequest}
	ErrAccessDenied         = Error{Code: "access_denied", Status: http.StatusForbidden}
	ErrUnsupportedResponse  = Error{Code: "unsupported_response_type", Status: http.StatusBadRequest}
	ErrServerError          = Error{Code: "server_error", Status: http.StatusInternalServerError}
	ErrTemporarilyUnavail   = Error{Code: "temporarily_unavailable", Status: http.StatusServiceUnavailable}
	ErrLoginRequired        = Error{Code: "login_required", Status: http.StatusBadRequest}
	ErrConsentRequired      = Error{Code: "consent_required", Status: http.StatusBadRequest}
	ErrInteractionRequired  = Error{Code: "interaction_required", Status: http.StatusBadRequest}
	ErrAccountSelectionReq  = Error{Code: "account_selection_required", Status: http.StatusBadRequest}
	ErrInvalidToken         = Error{Code: "invalid_token", Status: http.StatusUnauthorized}
	ErrInsufficientScope    = Error{Code: "insufficient_scope", Status: http.StatusForbidden}
	ErrAuthorizationPending = Error{Code: "authorization_pending", Status: http.StatusBadRequest}
	ErrSlowDown             = Error{Code: "slow_down", Status: http.StatusBadRequest}
	ErrExpiredToken         = Error{Code: "expired_token", Status: http.StatusBadRequest}
	ErrUnmetAuthRequirement = Error{Code: "unmet_authentication_requirements", Status: http.StatusBadRequest}
)

// withDescription returns a copy of e carrying description, leaving e
// untouched — the package vars above are shared read-only templates.
func withDescription(e Error, description string) Error {
	e.Description = description
	return e
}
