package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		logger, err := newLogger(slog.LevelInfo, "json")
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("Text", func(t *testing.T) {
		logger, err := newLogger(slog.LevelError, "text")
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("Unknown", func(t *testing.T) {
		logger, err := newLogger(slog.LevelError, "gofmt")
		require.Error(t, err)
		require.Nil(t, logger)
	})
}

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	require.Equal(t, slog.LevelWarn, parseLogLevel("WARN"))
	require.Equal(t, slog.LevelError, parseLogLevel("Error"))
	require.Equal(t, slog.LevelInfo, parseLogLevel(""))
	require.Equal(t, slog.LevelInfo, parseLogLevel("whatever"))
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("accessToken", "")
	require.NoError(t, err)
	require.Zero(t, d)

	d, err = parseDuration("accessToken", "1h")
	require.NoError(t, err)
	require.Equal(t, time.Hour, d)

	_, err = parseDuration("accessToken", "not-a-duration")
	require.Error(t, err)
}

func TestApplyConfigOverrides(t *testing.T) {
	c := Config{Web: Web{HTTP: "127.0.0.1:5556"}}
	applyConfigOverrides(serveOptions{
		webHTTPAddr:   "0.0.0.0:8080",
		webHTTPSAddr:  "0.0.0.0:8443",
		telemetryAddr: "0.0.0.0:9090",
	}, &c)

	require.Equal(t, "0.0.0.0:8080", c.Web.HTTP)
	require.Equal(t, "0.0.0.0:8443", c.Web.HTTPS)
	require.Equal(t, "0.0.0.0:9090", c.Telemetry.HTTP)
}

func TestApplyConfigOverridesLeavesUnsetFieldsAlone(t *testing.T) {
	c := Config{Web: Web{HTTP: "127.0.0.1:5556"}}
	applyConfigOverrides(serveOptions{}, &c)
	require.Equal(t, "127.0.0.1:5556", c.Web.HTTP)
	require.Empty(t, c.Web.HTTPS)
}
