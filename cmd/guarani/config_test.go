package main

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/guaranijs/guarani/storage"
)

func TestValidConfiguration(t *testing.T) {
	c := Config{
		Issuer: "http://127.0.0.1:5556/guarani",
		Web: Web{
			HTTP: "127.0.0.1:5556",
		},
	}
	require.NoError(t, c.Validate())
}

func TestInvalidConfiguration(t *testing.T) {
	c := Config{}
	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no issuer specified in config file")
	require.Contains(t, err.Error(), "must supply a HTTP/HTTPS address to listen on")
}

func TestInvalidConfigurationHTTPSWithoutCert(t *testing.T) {
	c := Config{
		Issuer: "http://127.0.0.1:5556/guarani",
		Web:    Web{HTTPS: "127.0.0.1:5556"},
	}
	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no cert specified for HTTPS")
	require.Contains(t, err.Error(), "no private key specified for HTTPS")
}

func TestUnmarshalConfig(t *testing.T) {
	rawConfig := []byte(`
issuer: http://127.0.0.1:5556/guarani
web:
  http: 127.0.0.1:5556
  allowedOrigins:
  - "https://example.com"

staticClients:
- id: example-app
  redirectURIs:
  - 'http://127.0.0.1:5555/callback'
  name: 'Example App'
  secret: ZXhhbXBsZS1hcHAtc2VjcmV0

oauth2:
  grantTypes:
  - authorization_code
  - refresh_token
  enableRefreshTokenRotation: true

expiry:
  accessToken: "1h"
  refreshToken: "720h"

logger:
  level: "debug"
  format: "json"
`)

	var c Config
	require.NoError(t, yaml.Unmarshal(rawConfig, &c))

	require.Equal(t, "http://127.0.0.1:5556/guarani", c.Issuer)
	require.Equal(t, "127.0.0.1:5556", c.Web.HTTP)
	require.Equal(t, []string{"https://example.com"}, c.Web.AllowedOrigins)
	require.Equal(t, []storage.Client{
		{
			ID:           "example-app",
			Secret:       "ZXhhbXBsZS1hcHAtc2VjcmV0",
			Name:         "Example App",
			RedirectURIs: []string{"http://127.0.0.1:5555/callback"},
		},
	}, c.StaticClients)
	require.Equal(t, []string{"authorization_code", "refresh_token"}, c.OAuth2.GrantTypes)
	require.True(t, c.OAuth2.EnableRefreshTokenRotation)
	require.Equal(t, "1h", c.Expiry.AccessToken)
	require.Equal(t, "debug", c.Logger.Level)
}

func TestStaticUserToAccountRawHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	require.NoError(t, err)

	u := staticUser{Email: "admin@example.com", Username: "admin", Hash: string(hash)}
	account, err := u.toAccount()
	require.NoError(t, err)
	require.Equal(t, hash, []byte(account.BcryptHash))
}

func TestStaticUserToAccountBase64Hash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	require.NoError(t, err)

	u := staticUser{Email: "foo@example.com", Username: "foo", Hash: base64.StdEncoding.EncodeToString(hash)}
	account, err := u.toAccount()
	require.NoError(t, err)
	require.Equal(t, hash, []byte(account.BcryptHash))
}

func TestStaticUserToAccountHashFromEnv(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	require.NoError(t, err)
	t.Setenv("GUARANI_TEST_USER_PASSWORD", string(hash))

	u := staticUser{Email: "foo@example.com", Username: "foo", HashFromEnv: "GUARANI_TEST_USER_PASSWORD"}
	account, err := u.toAccount()
	require.NoError(t, err)
	require.Equal(t, hash, []byte(account.BcryptHash))
}

func TestStaticUserToAccountMissingHash(t *testing.T) {
	u := staticUser{Email: "foo@example.com"}
	_, err := u.toAccount()
	require.Error(t, err)
}

func TestNewStaticStorageRejectsDuplicateID(t *testing.T) {
	_, err := newStaticStorage([]storage.Client{
		{ID: "example-app", Secret: "s1"},
		{ID: "example-app", Secret: "s2"},
	})
	require.Error(t, err)
}

func TestNewStaticStorageRequiresID(t *testing.T) {
	_, err := newStaticStorage([]storage.Client{{Secret: "s1"}})
	require.Error(t, err)
}
