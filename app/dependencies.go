package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/deal-guardrails/auth"
	"github.com/upb/deal-guardrails/config"
	"github.com/upb/deal-guardrails/internal/observability"
	"github.com/upb/deal-guardrails/middleware"
	"github.com/upb/deal-guardrails/repositories"
	"github.com/upb/deal-guardrails/repositories/memory"
	"github.com/upb/deal-guardrails/repositories/postgres"
	"github.com/upb/deal-guardrails/services"
	"github.com/upb/deal-guardrails/services/policy"
	"go.uber.org/zap"
)

// tokenLeeway is the clock skew tolerated on bearer token timestamps
const tokenLeeway = 30 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *sql.DB // nil when the memory store is in use
	Logger *zap.Logger

	// Repository Factory (postgres driver only)
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager

	// Services
	PolicyCache   *policy.PolicyCache
	PolicyService *policy.PolicyService

	// Observability; Metrics is nil when metrics are disabled
	Metrics *observability.PrometheusMetrics

	// Auth; nil when bearer authentication is disabled
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	deps.initServices(cfg)
	deps.initAuth(cfg)

	if err := deps.importLegacyPolicy(ctx, cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to import legacy policy: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.Bool("metrics_enabled", cfg.Observability.MetricsEnabled))
	return deps, nil
}

// initStore opens the configured persistence backend
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Driver == config.StoreDriverMemory {
		store := memory.NewStore()
		d.Repositories = store.NewRepositories()
		d.TxManager = store.TransactionManager()
		d.Logger.Warn("using in-memory policy store, data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	return d.useFactory(ctx, factory, cfg.Store.InitSchema)
}

// useFactory wires the repositories of an open postgres connection
func (d *Dependencies) useFactory(ctx context.Context, factory *postgres.RepositoryFactory, initSchema bool) error {
	d.RepoFactory = factory
	d.DB = factory.GetDB().DB

	if initSchema {
		if err := factory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.Repositories = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices builds the active-set cache, metrics and the policy service
func (d *Dependencies) initServices(cfg *config.Config) {
	d.PolicyCache = policy.NewPolicyCache(cfg.Policy.CacheSize, cfg.Policy.CacheTTL)

	var metrics observability.Metrics = observability.NopMetrics{}
	if cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NewPrometheusMetrics()
		metrics = d.Metrics
	}

	mode := policy.ConflictModeAppend
	if cfg.Policy.ConflictMode == config.ConflictModeDedupeOpen {
		mode = policy.ConflictModeDedupeOpen
	}

	d.PolicyService = policy.NewPolicyService(d.Repositories, d.TxManager, d.PolicyCache, d.Logger,
		policy.WithConflictMode(mode),
		policy.WithMetrics(metrics))
}

// initAuth builds the bearer token middleware when auth is enabled
func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled {
		d.Logger.Warn("bearer authentication disabled, actor taken from X-Actor header")
		return
	}
	validator := auth.NewHMACValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		Leeway: tokenLeeway,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("bearer authentication enabled",
		zap.String("issuer", cfg.Auth.Issuer),
		zap.String("admin_role", cfg.Auth.AdminRole))
}

// importLegacyPolicy imports the configured legacy file once. A file that was already
// imported is not an error.
func (d *Dependencies) importLegacyPolicy(ctx context.Context, cfg *config.Config) error {
	if cfg.Policy.LegacyPolicyPath == "" {
		return nil
	}

	result, err := d.PolicyService.MigrateLegacyPolicy(ctx, cfg.Policy.LegacyPolicyPath, policy.DefaultActor)
	if err != nil {
		if services.IsConflictError(err) {
			d.Logger.Info("legacy policy already imported",
				zap.String("path", cfg.Policy.LegacyPolicyPath))
			return nil
		}
		return err
	}

	d.Logger.Info("legacy policy imported",
		zap.String("path", cfg.Policy.LegacyPolicyPath),
		zap.String("policy_id", result.Policy.ID.String()),
		zap.Int("conflicts", len(result.Conflicts)))
	return nil
}

// StartBackground starts the cache cleanup worker until stopCh is closed
func (d *Dependencies) StartBackground(stopCh <-chan struct{}) {
	interval := d.Config.Policy.CacheTTL
	if interval <= 0 {
		return
	}
	go d.PolicyService.StartCacheCleanup(interval, stopCh)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
