package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/deal-guardrails/app"
	"github.com/upb/deal-guardrails/auth"
	"github.com/upb/deal-guardrails/config"
	"github.com/upb/deal-guardrails/middleware"
	"go.uber.org/zap"
)

const (
	testSecret = "route-secret"
	testIssuer = "deal-desk"
	policyBody = `{
		"name": "Standard",
		"policy_type": "pricing",
		"configuration": {
			"discount_guardrails": {"default_max_discount_percent": 25},
			"payment_terms_guardrails": {"max_terms_days": 45},
			"price_floor": {"min_amount": 5000, "currency": "USD"}
		}
	}`
)

func TestSetupRoutes_Open(t *testing.T) {
	h := newHandler(t, func(cfg *config.Config) {
		cfg.Observability.MetricsEnabled = true
	})

	t.Run("health", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, "/healthz", "", nil).Code)

		w := send(t, h, http.MethodGet, "/readyz", "", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"store":"memory"`)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		w := send(t, h, http.MethodGet, "/api/v2/nothing", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})

	t.Run("actor header", func(t *testing.T) {
		w := send(t, h, http.MethodPost, "/api/v1/policies", policyBody,
			map[string]string{middleware.ActorHeader: "bob"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var envelope struct {
			Data struct {
				CreatedBy string `json:"created_by"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.Equal(t, "bob", envelope.Data.CreatedBy)
	})

	t.Run("evaluation feeds metrics", func(t *testing.T) {
		w := send(t, h, http.MethodPost, "/api/v1/deals/evaluate", `{"amount": 100}`, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = send(t, h, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "guardrail_evaluations_total")
	})

	t.Run("request id is echoed", func(t *testing.T) {
		w := send(t, h, http.MethodGet, "/api/v1/policies", "", map[string]string{middleware.RequestIDHeader: "req-42"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
	})
}

func TestSetupRoutes_Authenticated(t *testing.T) {
	h := newHandler(t, func(cfg *config.Config) {
		cfg.Auth = config.AuthConfig{
			Enabled:   true,
			JWTSecret: testSecret,
			Issuer:    testIssuer,
			AdminRole: "policy_admin",
		}
	})

	viewer := bearer(t, "viewer-1", nil)
	admin := bearer(t, "admin-1", []string{"policy_admin"})

	t.Run("health stays public", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, "/healthz", "", nil).Code)
	})

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, send(t, h, http.MethodGet, "/api/v1/policies", "", nil).Code)
	})

	t.Run("bad token", func(t *testing.T) {
		w := send(t, h, http.MethodGet, "/api/v1/policies", "", map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("viewer reads but cannot mutate", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, "/api/v1/policies", "", viewer).Code)
		assert.Equal(t, http.StatusOK, send(t, h, http.MethodPost, "/api/v1/deals/evaluate", `{"amount": 10}`, viewer).Code)
		assert.Equal(t, http.StatusForbidden, send(t, h, http.MethodPost, "/api/v1/policies", policyBody, viewer).Code)
		assert.Equal(t, http.StatusForbidden, send(t, h, http.MethodPost, "/api/v1/templates", `{}`, viewer).Code)
	})

	t.Run("admin mutates as the token subject", func(t *testing.T) {
		w := send(t, h, http.MethodPost, "/api/v1/policies", policyBody, admin)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var envelope struct {
			Data struct {
				ID        string `json:"id"`
				CreatedBy string `json:"created_by"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
		assert.Equal(t, "admin-1@example.com", envelope.Data.CreatedBy)

		path := "/api/v1/policies/" + envelope.Data.ID
		assert.Equal(t, http.StatusForbidden, send(t, h, http.MethodPost, path+"/activate", "", viewer).Code)
		assert.Equal(t, http.StatusOK, send(t, h, http.MethodPost, path+"/activate", "", admin).Code)
		assert.Equal(t, http.StatusOK, send(t, h, http.MethodGet, path+"/export", "", viewer).Code)
	})
}

// Test helpers

func newHandler(t *testing.T, configure func(*config.Config)) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Store:  config.StoreConfig{Driver: config.StoreDriverMemory},
		Policy: config.PolicyConfig{ConflictMode: config.ConflictModeAppend, CacheTTL: time.Minute, CacheSize: 16},
	}
	if configure != nil {
		configure(cfg)
	}

	ctx := context.Background()
	deps, err := app.NewDependencies(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(ctx) })

	return SetupRoutes(deps)
}

func bearer(t *testing.T, subject string, roles []string) map[string]string {
	t.Helper()
	token, err := auth.SignToken(testSecret, testIssuer, subject, subject+"@example.com", roles, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func send(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
