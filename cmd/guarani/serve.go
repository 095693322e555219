package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/guaranijs/guarani/idtoken"
	"github.com/guaranijs/guarani/server"
	"github.com/guaranijs/guarani/storage"
	"github.com/guaranijs/guarani/users"
)

type serveOptions struct {
	config string

	webHTTPAddr   string
	webHTTPSAddr  string
	telemetryAddr string
}

func commandServe() *cobra.Command {
	options := serveOptions{}

	cmd := &cobra.Command{
		Use:     "serve [flags] [config file]",
		Short:   "Launch the authorization server",
		Example: "guarani serve config.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			options.config = args[0]
			return runServe(options)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.webHTTPAddr, "web-http-addr", "", "Web HTTP address")
	flags.StringVar(&options.webHTTPSAddr, "web-https-addr", "", "Web HTTPS address")
	flags.StringVar(&options.telemetryAddr, "telemetry-addr", "", "Telemetry address")

	return cmd
}

func applyConfigOverrides(options serveOptions, config *Config) {
	if options.webHTTPAddr != "" {
		config.Web.HTTP = options.webHTTPAddr
	}
	if options.webHTTPSAddr != "" {
		config.Web.HTTPS = options.webHTTPSAddr
	}
	if options.telemetryAddr != "" {
		config.Telemetry.HTTP = options.telemetryAddr
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid config value %q for %s expiry: %w", value, field, err)
	}
	return d, nil
}

func runServe(options serveOptions) error {
	configData, err := os.ReadFile(options.config)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %v", options.config, err)
	}

	var c Config
	if err := yaml.Unmarshal(configData, &c); err != nil {
		return fmt.Errorf("error parsing config file %s: %v", options.config, err)
	}
	if err := replaceEnvKeys(&c, os.Getenv); err != nil {
		return fmt.Errorf("error expanding environment references in config file %s: %v", options.config, err)
	}
	applyConfigOverrides(options, &c)

	logger, err := newLogger(parseLogLevel(c.Logger.Level), c.Logger.Format)
	if err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	logger.Info("config loaded", "issuer", c.Issuer)

	accounts := make([]users.Account, 0, len(c.StaticUsers))
	for _, u := range c.StaticUsers {
		a, err := u.toAccount()
		if err != nil {
			return fmt.Errorf("invalid config: %v", err)
		}
		accounts = append(accounts, a)
	}
	userService := users.NewStatic(accounts)

	store, err := newStaticStorage(c.StaticClients)
	if err != nil {
		return err
	}

	keys, err := idtoken.GenerateRSAKeys()
	if err != nil {
		return fmt.Errorf("failed to generate signing keys: %v", err)
	}

	prometheusRegistry := prometheus.NewRegistry()
	if err := prometheusRegistry.Register(prometheus.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register Go runtime metrics: %v", err)
	}
	if err := prometheusRegistry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process metrics: %v", err)
	}

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "storage",
			CheckFunc: storageHealthCheck(store),
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	serverConfig := server.Config{
		Issuer:                          c.Issuer,
		GrantTypes:                      c.OAuth2.GrantTypes,
		ResponseTypes:                   c.OAuth2.ResponseTypes,
		ResponseModes:                   c.OAuth2.ResponseModes,
		PKCEMethods:                     c.OAuth2.PKCEMethods,
		ClientAuthenticationMethods:     c.OAuth2.ClientAuthenticationMethods,
		UserInteraction:                 c.UserInteraction,
		EnableRefreshTokenRotation:      c.OAuth2.EnableRefreshTokenRotation,
		EnableRefreshTokenIntrospection: c.OAuth2.EnableRefreshTokenIntrospection,
		DisableAccessTokenRevocation:    c.OAuth2.DisableAccessTokenRevocation,
		DisableRevocationEndpoint:       c.OAuth2.DisableRevocationEndpoint,
		DisableIntrospectionEndpoint:    c.OAuth2.DisableIntrospectionEndpoint,
		EnableDeviceAuthorizationGrant:  c.OAuth2.EnableDeviceAuthorizationGrant,
		EnableRegistrationEndpoint:      c.OAuth2.EnableRegistrationEndpoint,
		Storage:                         store,
		Users:                           userService,
		Keys:                            keys,
		AllowedOrigins:                  c.Web.AllowedOrigins,
		AllowedHeaders:                  c.Web.AllowedHeaders,
		Logger:                          logger,
		Now:                             func() time.Time { return time.Now().UTC() },
		PrometheusRegistry:              prometheusRegistry,
		HealthChecker:                   healthChecker,
	}

	if serverConfig.SessionTTL, err = parseDuration("session", c.Expiry.Session); err != nil {
		return err
	}
	if serverConfig.LoginTTL, err = parseDuration("login", c.Expiry.Login); err != nil {
		return err
	}
	if serverConfig.GrantTTL, err = parseDuration("grant", c.Expiry.Grant); err != nil {
		return err
	}
	if serverConfig.AuthorizationCodeTTL, err = parseDuration("authorizationCode", c.Expiry.AuthorizationCode); err != nil {
		return err
	}
	if serverConfig.AccessTokenTTL, err = parseDuration("accessToken", c.Expiry.AccessToken); err != nil {
		return err
	}
	if serverConfig.RefreshTokenTTL, err = parseDuration("refreshToken", c.Expiry.RefreshToken); err != nil {
		return err
	}
	if serverConfig.DeviceCodeTTL, err = parseDuration("deviceCode", c.Expiry.DeviceCode); err != nil {
		return err
	}

	srv, err := server.New(serverConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var servers []*http.Server

	if c.Telemetry.HTTP != "" {
		telemetryMux := http.NewServeMux()
		telemetryMux.Handle("/metrics", promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}))
		telemetryMux.Handle("/healthz", gosundheithttp.HandleHealthJSON(healthChecker))
		telemetrySrv := &http.Server{Addr: c.Telemetry.HTTP, Handler: telemetryMux}
		servers = append(servers, telemetrySrv)
		go serveAndLog(logger, "telemetry", telemetrySrv, "", "")
	}

	if c.Web.HTTP != "" {
		httpSrv := &http.Server{Addr: c.Web.HTTP, Handler: srv}
		servers = append(servers, httpSrv)
		go serveAndLog(logger, "http", httpSrv, "", "")
	}

	if c.Web.HTTPS != "" {
		httpsSrv := &http.Server{
			Addr:    c.Web.HTTPS,
			Handler: srv,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}
		servers = append(servers, httpsSrv)
		go serveAndLog(logger, "https", httpsSrv, c.Web.TLSCert, c.Web.TLSKey)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serveAndLog(logger *slog.Logger, name string, srv *http.Server, tlsCert, tlsKey string) {
	logger.Info("listening", "server", name, "addr", srv.Addr)
	var err error
	if tlsCert != "" && tlsKey != "" {
		err = srv.ListenAndServeTLS(tlsCert, tlsKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", "server", name, "err", err)
	}
}

func storageHealthCheck(s storage.Storage) func(ctx context.Context) (details interface{}, err error) {
	return func(ctx context.Context) (interface{}, error) {
		_, err := s.GetKeys(ctx)
		return nil, err
	}
}
