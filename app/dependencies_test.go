package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/deal-guardrails/config"
	"github.com/upb/deal-guardrails/repositories"
	"github.com/upb/deal-guardrails/repositories/postgres"
	"github.com/upb/deal-guardrails/services/policy"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const legacyDocument = `{
	"name": "Legacy Deal Desk Rules",
	"priority": 5,
	"discount_guardrails": {"default_max_discount_percent": 20},
	"payment_terms_guardrails": {"max_terms_days": 60},
	"price_floor": {"min_amount": 1000, "currency": "USD"}
}`

func TestNewDependencies(t *testing.T) {
	t.Run("memory store wires every component", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.RepoFactory)
		assert.NotNil(t, deps.Repositories)
		assert.NotNil(t, deps.TxManager)
		assert.NotNil(t, deps.PolicyCache)
		assert.NotNil(t, deps.PolicyService)
		assert.Nil(t, deps.Metrics)
		assert.Nil(t, deps.AuthMiddleware)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("metrics and auth when enabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Observability.MetricsEnabled = true
		cfg.Auth = config.AuthConfig{Enabled: true, JWTSecret: "secret", AdminRole: "policy_admin"}

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)

		assert.NotNil(t, deps.Metrics)
		assert.NotNil(t, deps.AuthMiddleware)
	})

	t.Run("postgres connection failure", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Driver = config.StoreDriverPostgres
		cfg.Database = config.DatabaseConfig{
			ConnectionString: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1",
		}

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize store")
	})

	t.Run("unreadable legacy file fails startup", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Policy.LegacyPolicyPath = filepath.Join(t.TempDir(), "missing.json")

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to import legacy policy")
	})
}

func TestImportLegacyPolicy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyDocument), 0o600))

	cfg := testConfig(t)
	cfg.Policy.LegacyPolicyPath = path

	deps, err := NewDependencies(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	policies, err := deps.PolicyService.ListPolicies(ctx, repositories.PolicyFilter{})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "Legacy Deal Desk Rules", policies[0].Name)
	assert.Contains(t, policies[0].Tags, policy.LegacyTag)
	assert.Equal(t, policy.DefaultActor, policies[0].CreatedBy)

	// a second import of the same file is tolerated
	require.NoError(t, deps.importLegacyPolicy(ctx, cfg))

	policies, err = deps.PolicyService.ListPolicies(ctx, repositories.PolicyFilter{})
	require.NoError(t, err)
	assert.Len(t, policies, 1)
}

func TestUseFactory(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("wires postgres repositories", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)

		deps := &Dependencies{Config: testConfig(t), Logger: logger}
		factory := postgres.NewRepositoryFactoryFromDB(postgres.WrapDB(db, logger), logger)

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS policies").WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, deps.useFactory(ctx, factory, true))

		assert.Same(t, db, deps.DB)
		assert.NotNil(t, deps.Repositories.Policies)
		assert.NotNil(t, deps.TxManager)
		assert.NoError(t, mock.ExpectationsWereMet())

		mock.ExpectClose()
		assert.NoError(t, deps.Close(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		deps := &Dependencies{Config: testConfig(t), Logger: logger}
		factory := postgres.NewRepositoryFactoryFromDB(postgres.WrapDB(db, logger), logger)

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS policies").WillReturnError(errors.New("permission denied"))
		err = deps.useFactory(ctx, factory, true)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize schema")
	})

	t.Run("schema init skipped", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		deps := &Dependencies{Config: testConfig(t), Logger: logger}
		factory := postgres.NewRepositoryFactoryFromDB(postgres.WrapDB(db, logger), logger)

		require.NoError(t, deps.useFactory(ctx, factory, false))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDependenciesClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NoError(t, deps.Close(ctx))
	// Second close should not fail
	assert.NoError(t, deps.Close(ctx))
}

func TestStartBackground(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	stopCh := make(chan struct{})
	deps.StartBackground(stopCh)
	close(stopCh)
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Store: config.StoreConfig{
			Driver: config.StoreDriverMemory,
		},
		Policy: config.PolicyConfig{
			ConflictMode: config.ConflictModeAppend,
			CacheTTL:     time.Minute,
			CacheSize:    16,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}
