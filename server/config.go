package server

import (
	"log/slog"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/guaranijs/guarani/grant"
	"github.com/guaranijs/guarani/interaction"
	"github.com/guaranijs/guarani/registry"
	"github.com/guaranijs/guarani/storage"
)

// UserInteraction lists the external UI URLs the engine redirects to for
// each interaction type, per spec §6.
type UserInteraction struct {
	LoginURL         string
	ConsentURL       string
	SelectAccountURL string
	CreateURL        string
	ErrorURL         string
	LogoutURL        string
}

// Config holds every recognized server option from spec §6. Fields left at
// their zero value fall back to the documented default named in the
// doc comment.
type Config struct {
	Issuer string

	Scopes []string

	ClientAuthenticationMethods []string
	GrantTypes                  []string
	ResponseTypes               []string
	ResponseModes               []string
	PKCEMethods                 []string

	UserInteraction UserInteraction

	// EnableRefreshTokenRotation defaults to false.
	EnableRefreshTokenRotation bool
	// EnableRefreshTokenIntrospection defaults to false.
	EnableRefreshTokenIntrospection bool
	// Access-token revocation cascading is on by default; set
	// DisableAccessTokenRevocation to opt out.
	DisableAccessTokenRevocation bool
	// The revocation and introspection endpoints are on by default; set the
	// corresponding Disable* field to opt out.
	DisableRevocationEndpoint     bool
	DisableIntrospectionEndpoint  bool
	EnableDeviceAuthorizationGrant bool
	EnableRegistrationEndpoint     bool

	Storage storage.Storage
	Users   UserService

	SecretKey             []byte
	MaxLocalSubjectLength int

	Keys                       storage.Keys
	IDTokenSignatureAlgorithms []string

	SessionTTL          time.Duration
	LoginTTL            time.Duration
	GrantTTL            time.Duration
	AuthorizationCodeTTL time.Duration
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	DeviceCodeTTL       time.Duration

	Now func() time.Time

	AllowedOrigins []string
	AllowedHeaders []string

	Logger             *slog.Logger
	PrometheusRegistry *prometheus.Registry
	HealthChecker      gosundheit.Health
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}

func (c Config) withDefaults() Config {
	c.SessionTTL = durationOr(c.SessionTTL, 30*24*time.Hour)
	c.LoginTTL = durationOr(c.LoginTTL, 12*time.Hour)
	c.GrantTTL = durationOr(c.GrantTTL, 5*time.Minute)
	c.AuthorizationCodeTTL = durationOr(c.AuthorizationCodeTTL, time.Minute)
	c.AccessTokenTTL = durationOr(c.AccessTokenTTL, time.Hour)
	c.RefreshTokenTTL = durationOr(c.RefreshTokenTTL, 30*24*time.Hour)
	c.DeviceCodeTTL = durationOr(c.DeviceCodeTTL, 10*time.Minute)
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) registryConfig() registry.Config {
	return registry.Config{
		GrantTypes:        c.GrantTypes,
		ResponseTypes:     c.ResponseTypes,
		ResponseModes:     c.ResponseModes,
		PKCEMethods:       c.PKCEMethods,
		ClientAuthMethods: c.ClientAuthenticationMethods,
	}
}

func (c Config) interactionEngine() *interaction.Engine {
	return &interaction.Engine{
		Store:    c.Storage,
		Users:    c.Users,
		Now:      c.Now,
		LoginTTL: c.LoginTTL,
		ErrorURL: c.UserInteraction.ErrorURL,
	}
}

// UserService is the external collaborator that owns user identity; it
// satisfies both the grant package's credential-check port and the
// interaction package's account-creation port.
type UserService interface {
	grant.UserService
	interaction.UserService
}
