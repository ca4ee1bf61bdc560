package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/deal-guardrails/app"
	"github.com/upb/deal-guardrails/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNewServer(t *testing.T) {
	cfg := testConfig(t)
	deps, err := app.NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	srv := newServer(cfg, deps)
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, cfg.Server.ReadTimeout, srv.ReadTimeout)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["data"]["status"])
}

func TestRun(t *testing.T) {
	t.Run("stops cleanly when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- run(ctx, testConfig(t), zap.NewNop())
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("run did not return after cancellation")
		}
	})

	t.Run("reports a listen failure", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		cfg := testConfig(t)
		cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

		err = run(context.Background(), cfg, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http server failed")
	})

	t.Run("reports a dependency failure", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Policy.LegacyPolicyPath = t.TempDir() + "/missing.json"

		err := run(context.Background(), cfg, zap.NewNop())
		assert.Error(t, err)
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 2 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Store:  config.StoreConfig{Driver: config.StoreDriverMemory},
		Policy: config.PolicyConfig{ConflictMode: config.ConflictModeAppend, CacheTTL: time.Minute, CacheSize: 16},
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}
}
