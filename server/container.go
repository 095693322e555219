package server

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/guaranijs/guarani/clientauth"
	"github.com/guaranijs/guarani/grant"
	"github.com/guaranijs/guarani/idtoken"
	"github.com/guaranijs/guarani/pkce"
	"github.com/guaranijs/guarani/registry"
	"github.com/guaranijs/guarani/responsemode"
)

// Server is the top-level composition root: every singleton-scoped
// collaborator (registries, signers, strategy tables) is built once here,
// at bootstrap, and shared read-only across every request goroutine.
// Request-scoped state (the parsed form, the resolved client) lives on the
// stack of each handler invocation instead of on this struct.
type Server struct {
	cfg Config

	issuerURL *url.URL

	registry     *registry.Registry
	clientAuth   *clientauth.Registry
	pkce         *pkce.Registry
	responseMode *responsemode.Registry
	signer       *idtoken.Signer

	grants map[string]grant.Handler

	mux *router
}

// New builds a Server from cfg, validating configuration per spec §7's
// "configuration errors are detected at bootstrap" rule.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	if cfg.Issuer == "" {
		return nil, errors.New("server: issuer is required")
	}
	issuerURL, err := url.Parse(cfg.Issuer)
	if err != nil || issuerURL.Scheme != "https" || issuerURL.RawQuery != "" || issuerURL.Fragment != "" {
		return nil, fmt.Errorf("server: issuer must be an https URL with no query or fragment: %q", cfg.Issuer)
	}
	if cfg.Storage == nil {
		return nil, errors.New("server: storage cannot be nil")
	}
	if cfg.Users == nil {
		return nil, errors.New("server: user service cannot be nil")
	}

	reg, err := registry.New(cfg.registryConfig())
	if err != nil {
		return nil, err
	}

	clientAuthMethods := make([]clientauth.Method, 0, len(reg.ClientAuthMethods))
	for _, name := range reg.ClientAuthMethods {
		switch name {
		case "client_secret_basic":
			clientAuthMethods = append(clientAuthMethods, clientauth.ClientSecretBasic{})
		case "client_secret_post":
			clientAuthMethods = append(clientAuthMethods, clientauth.ClientSecretPost{})
		case "none":
			clientAuthMethods = append(clientAuthMethods, clientauth.None{})
		case "client_secret_jwt":
			clientAuthMethods = append(clientAuthMethods, clientauth.ClientSecretJWT{})
		case "private_key_jwt":
			clientAuthMethods = append(clientAuthMethods, clientauth.PrivateKeyJWT{})
		}
	}
	clientAuthRegistry, err := clientauth.NewRegistry(clientAuthMethods...)
	if err != nil {
		return nil, err
	}

	pkceMethods := make([]pkce.Method, 0, len(reg.PKCEMethods))
	for _, name := range reg.PKCEMethods {
		switch name {
		case "plain":
			pkceMethods = append(pkceMethods, pkce.Plain)
		case "S256":
			pkceMethods = append(pkceMethods, pkce.S256)
		}
	}
	pkceRegistry, err := pkce.NewRegistry(pkceMethods...)
	if err != nil {
		return nil, err
	}

	responseModeRegistry, err := responsemode.NewRegistry(responsemode.Query{}, responsemode.Fragment{}, responsemode.FormPost{})
	if err != nil {
		return nil, err
	}

	signer, err := idtoken.NewSigner(cfg.Keys)
	if err != nil {
		return nil, err
	}

	grants := map[string]grant.Handler{
		registry.GrantAuthorizationCode: grant.AuthorizationCode{},
		registry.GrantRefreshToken:      grant.RefreshToken{},
		registry.GrantClientCredentials: grant.ClientCredentials{},
		registry.GrantPassword:          grant.Password{},
	}
	if cfg.EnableDeviceAuthorizationGrant {
		grants[registry.GrantDeviceCode] = grant.DeviceCode{}
	}

	s := &Server{
		cfg:          cfg,
		issuerURL:    issuerURL,
		registry:     reg,
		clientAuth:   clientAuthRegistry,
		pkce:         pkceRegistry,
		responseMode: responseModeRegistry,
		signer:       signer,
		grants:       grants,
	}
	s.mux = newRouter(s)
	return s, nil
}

func (s *Server) grantDeps() grant.Deps {
	return grant.Deps{
		Store:         s.cfg.Storage,
		Users:         s.cfg.Users,
		Signer:        s.signer,
		PKCE:          s.pkce,
		Now:           s.cfg.Now,
		AccessTTL:     s.cfg.AccessTokenTTL,
		RefreshTTL:    s.cfg.RefreshTokenTTL,
		IssuerURL:     s.cfg.Issuer,
		RotateRefresh: s.cfg.EnableRefreshTokenRotation,
		CascadeRevoke: !s.cfg.DisableAccessTokenRevocation,
	}
}
