package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/guaranijs/guarani/server"
	"github.com/guaranijs/guarani/storage"
	"github.com/guaranijs/guarani/storage/memory"
	"github.com/guaranijs/guarani/users"
)

// Config is the top-level config file format for the guarani binary.
type Config struct {
	Issuer string `json:"issuer"`

	Web       Web       `json:"web"`
	Telemetry Telemetry `json:"telemetry"`
	OAuth2    OAuth2    `json:"oauth2"`
	Expiry    Expiry    `json:"expiry"`
	Logger    Logger    `json:"logger"`

	UserInteraction server.UserInteraction `json:"userInteraction"`

	// StaticClients are loaded into the in-memory storage at startup. The
	// storage still allows registering additional clients at runtime unless
	// the registration endpoint is disabled.
	StaticClients []storage.Client `json:"staticClients"`

	// StaticUsers backs the built-in UserService. Deployments that need a
	// real identity backend should embed server.Config directly rather than
	// using this binary.
	StaticUsers []staticUser `json:"staticUsers"`
}

// Validate performs fast, fail-closed checks before any network listener or
// storage object is created.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Issuer == "", "no issuer specified in config file"},
		{c.Web.HTTP == "" && c.Web.HTTPS == "", "must supply a HTTP/HTTPS address to listen on"},
		{c.Web.HTTPS != "" && c.Web.TLSCert == "", "no cert specified for HTTPS"},
		{c.Web.HTTPS != "" && c.Web.TLSKey == "", "no private key specified for HTTPS"},
	}

	var checkErrors []string
	for _, check := range checks {
		if check.bad {
			checkErrors = append(checkErrors, check.errMsg)
		}
	}
	if len(checkErrors) != 0 {
		return fmt.Errorf("invalid config:\n\t-\t%s", strings.Join(checkErrors, "\n\t-\t"))
	}
	return nil
}

// OAuth2 lists the strategies enabled for this deployment; empty slices fall
// back to the registry package's defaults.
type OAuth2 struct {
	GrantTypes                  []string `json:"grantTypes"`
	ResponseTypes               []string `json:"responseTypes"`
	ResponseModes               []string `json:"responseModes"`
	PKCEMethods                 []string `json:"pkceMethods"`
	ClientAuthenticationMethods []string `json:"clientAuthenticationMethods"`

	EnableRefreshTokenRotation      bool `json:"enableRefreshTokenRotation"`
	EnableRefreshTokenIntrospection bool `json:"enableRefreshTokenIntrospection"`
	DisableAccessTokenRevocation    bool `json:"disableAccessTokenRevocation"`
	DisableRevocationEndpoint      bool `json:"disableRevocationEndpoint"`
	DisableIntrospectionEndpoint   bool `json:"disableIntrospectionEndpoint"`
	EnableDeviceAuthorizationGrant bool `json:"enableDeviceAuthorizationGrant"`
	EnableRegistrationEndpoint     bool `json:"enableRegistrationEndpoint"`
}

// Web is the HTTP listener configuration.
type Web struct {
	HTTP           string   `json:"http"`
	HTTPS          string   `json:"https"`
	TLSCert        string   `json:"tlsCert"`
	TLSKey         string   `json:"tlsKey"`
	AllowedOrigins []string `json:"allowedOrigins"`
	AllowedHeaders []string `json:"allowedHeaders"`
}

// Telemetry is the metrics/health listener configuration.
type Telemetry struct {
	HTTP string `json:"http"`
}

// Expiry holds the token/session lifetime overrides, parsed as Go durations
// ("1h", "30m").
type Expiry struct {
	Session          string `json:"session"`
	Login            string `json:"login"`
	Grant            string `json:"grant"`
	AuthorizationCode string `json:"authorizationCode"`
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	DeviceCode       string `json:"deviceCode"`
}

// Logger configures the slog handler.
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// staticUser is one entry of Config.StaticUsers. The password hash may be
// given directly as a bcrypt hash or base64-encoded, for parity with the
// teacher's static password format.
type staticUser struct {
	UserID            string   `json:"userID"`
	Username          string   `json:"username"`
	PreferredUsername string   `json:"preferredUsername"`
	Email             string   `json:"email"`
	EmailVerified     bool     `json:"emailVerified"`
	Groups            []string `json:"groups"`
	Hash              string   `json:"hash"`
	HashFromEnv       string   `json:"hashFromEnv"`
}

func (u staticUser) toAccount() (users.Account, error) {
	hash := u.Hash
	if hash == "" && u.HashFromEnv != "" {
		hash = os.Getenv(u.HashFromEnv)
	}
	if hash == "" {
		return users.Account{}, fmt.Errorf("no password hash provided for user %q", u.Email)
	}

	if _, err := bcrypt.Cost([]byte(hash)); err == nil {
		return users.Account{
			UserID: u.UserID, Username: u.Username, PreferredUsername: u.PreferredUsername,
			Email: u.Email, EmailVerified: u.EmailVerified, Groups: u.Groups,
			BcryptHash: []byte(hash),
		}, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return users.Account{}, fmt.Errorf("malformed bcrypt hash for user %q: %w", u.Email, err)
	}
	if _, err := bcrypt.Cost(decoded); err != nil {
		return users.Account{}, fmt.Errorf("malformed bcrypt hash for user %q: %w", u.Email, err)
	}
	return users.Account{
		UserID: u.UserID, Username: u.Username, PreferredUsername: u.PreferredUsername,
		Email: u.Email, EmailVerified: u.EmailVerified, Groups: u.Groups,
		BcryptHash: decoded,
	}, nil
}

func newStaticStorage(clients []storage.Client) (storage.Storage, error) {
	s := memory.New()
	for _, c := range clients {
		if c.ID == "" {
			return nil, fmt.Errorf("invalid config: ID field is required for a client")
		}
		if err := s.CreateClient(context.Background(), c); err != nil {
			return nil, fmt.Errorf("failed to register static client %q: %w", c.ID, err)
		}
	}
	return s, nil
}
