package server

import (
	"net/http"

	"github.com/guaranijs/guarani/grant"
	"github.com/guaranijs/guarani/scope"
)

// handleToken implements POST /oauth/token, dispatching by grant_type per
// spec §4.5.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	if r.Method != http.MethodPost {
		withDescription(ErrInvalidRequest, "method not allowed").WriteJSON(w)
		return
	}

	client, err := s.resolveClient(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	form := parseForm(r)
	grantType := formValue(form, "grant_type")
	if grantType == "" {
		s.writeError(w, withDescription(ErrInvalidRequest, "grant_type is required"))
		return
	}
	if !client.HasGrantType(grantType) {
		s.writeError(w, withDescription(ErrUnauthorizedClient, "client is not registered for this grant type"))
		return
	}

	handler, ok := s.grants[grantType]
	if !ok {
		s.writeError(w, withDescription(ErrUnsupportedGrantType, grantType))
		return
	}

	result, err := handler.Handle(r.Context(), s.grantDeps(), client, form)
	if err != nil {
		s.writeError(w, mapGrantError(err))
		return
	}

	writeTokenResponse(w, result)
}

func formValue(form map[string][]string, key string) string {
	if vs := form[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func mapGrantError(err error) Error {
	switch err {
	case grant.ErrInvalidGrant:
		return ErrInvalidGrant
	case grant.ErrInvalidRequest:
		return ErrInvalidRequest
	case grant.ErrUnauthorizedClient:
		return ErrUnauthorizedClient
	case grant.ErrAuthorizationPending:
		return withDescription(ErrAuthorizationPending, "")
	case grant.ErrSlowDown:
		return withDescription(ErrSlowDown, "")
	case grant.ErrExpiredToken:
		return withDescription(ErrExpiredToken, "")
	default:
		return withDescription(ErrServerError, err.Error())
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

func writeTokenResponse(w http.ResponseWriter, result grant.Result) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.AccessToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
		Scope:        scope.Scopes(result.Scopes).String(),
		RefreshToken: result.RefreshToken,
		IDToken:      result.IDToken,
	})
}
