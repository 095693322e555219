package server

import (
	"encoding/json"
	"net/http"

	"github.com/guaranijs/guarani/storage"
)

type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes               []string `json:"grant_types"`
	ResponseTypes            []string `json:"response_types"`
	TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method"`
	Scope                    string   `json:"scope"`
	ClientName               string   `json:"client_name"`
	LogoURI                  string   `json:"logo_uri"`
}

type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	RegistrationAccessToken string   `json:"registration_access_token"`
	ClientName              string   `json:"client_name,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
}

// handleRegister implements POST /oauth/register (OAuth 2.0 Dynamic Client
// Registration, spec §4.9). Validates the requested metadata against the
// server's enabled strategy registries before minting credentials.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)

	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, withDescription(ErrInvalidRequest, "malformed registration document"))
		return
	}
	if len(req.RedirectURIs) == 0 {
		s.writeError(w, withDescription(ErrInvalidRequest, "redirect_uris is required"))
		return
	}
	for _, g := range req.GrantTypes {
		if !s.registry.HasGrantType(g) {
			s.writeError(w, withDescription(ErrInvalidRequest, "unsupported grant_type: "+g))
			return
		}
	}
	for _, rt := range req.ResponseTypes {
		if !s.registry.HasResponseType(rt) {
			s.writeError(w, withDescription(ErrInvalidRequest, "unsupported response_type: "+rt))
			return
		}
	}
	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}
	if !containsString(s.registry.ClientAuthMethods, authMethod) {
		s.writeError(w, withDescription(ErrInvalidRequest, "unsupported token_endpoint_auth_method"))
		return
	}

	client := storage.Client{
		ID:                   storage.NewID(),
		RedirectURIs:         req.RedirectURIs,
		GrantTypes:           req.GrantTypes,
		ResponseTypes:        req.ResponseTypes,
		AuthenticationMethod: authMethod,
		Name:                 req.ClientName,
		LogoURL:              req.LogoURI,
	}
	if authMethod != "none" {
		client.Secret = storage.NewID()
	}

	if err := s.cfg.Storage.CreateClient(r.Context(), client); err != nil {
		s.writeError(w, withDescription(ErrServerError, err.Error()))
		return
	}

	regToken := storage.NewID()

	writeJSON(w, http.StatusCreated, registrationResponse{
		ClientID:                client.ID,
		ClientSecret:            client.Secret,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.AuthenticationMethod,
		RegistrationAccessToken: regToken,
		ClientName:              client.Name,
		LogoURI:                 client.LogoURL,
	})
}
