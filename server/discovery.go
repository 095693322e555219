package server

import "net/http"

type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	DeviceAuthorizationEndpoint       string   `json:"device_authorization_endpoint,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// handleDiscovery implements GET /.well-known/openid-configuration.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)

	idTokenAlgs := s.cfg.IDTokenSignatureAlgorithms
	if len(idTokenAlgs) == 0 {
		idTokenAlgs = []string{"RS256"}
	}

	doc := discoveryDocument{
		Issuer:                            s.cfg.Issuer,
		AuthorizationEndpoint:             s.cfg.Issuer + "/oauth/authorize",
		TokenEndpoint:                     s.cfg.Issuer + "/oauth/token",
		UserinfoEndpoint:                  s.cfg.Issuer + "/oauth/userinfo",
		JWKSURI:                           s.cfg.Issuer + "/oauth/jwks",
		ScopesSupported:                   s.cfg.Scopes,
		ResponseTypesSupported:            s.registry.ResponseTypes,
		ResponseModesSupported:            s.registry.ResponseModes,
		GrantTypesSupported:               s.registry.GrantTypes,
		SubjectTypesSupported:             []string{"public", "pairwise"},
		IDTokenSigningAlgValuesSupported:  idTokenAlgs,
		TokenEndpointAuthMethodsSupported: s.registry.ClientAuthMethods,
		CodeChallengeMethodsSupported:     s.registry.PKCEMethods,
		ClaimsSupported:                   []string{"sub", "iss", "aud", "exp", "iat", "name", "email", "email_verified", "groups", "preferred_username"},
	}
	if !s.cfg.DisableRevocationEndpoint {
		doc.RevocationEndpoint = s.cfg.Issuer + "/oauth/revoke"
	}
	if !s.cfg.DisableIntrospectionEndpoint {
		doc.IntrospectionEndpoint = s.cfg.Issuer + "/oauth/introspect"
	}
	if s.cfg.EnableDeviceAuthorizationGrant {
		doc.DeviceAuthorizationEndpoint = s.cfg.Issuer + "/oauth/device_authorization"
	}
	if s.cfg.EnableRegistrationEndpoint {
		doc.RegistrationEndpoint = s.cfg.Issuer + "/oauth/register"
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleJWKS implements GET /oauth/jwks.
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	r = withSpan(r)
	set, err := s.signer.JWKS()
	if err != nil {
		s.writeError(w, withDescription(ErrServerError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, set)
}
