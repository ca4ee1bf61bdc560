package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/deal-guardrails/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return WrapDB(db, logger), nil
}

// WrapDB wraps an existing pool, e.g. one opened by sqlmock in tests
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		logger: logger,
	}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema initializes the policy engine schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Policies table
		CREATE TABLE IF NOT EXISTS policies (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			policy_type VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			configuration JSONB NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0 CHECK (priority >= 0),
			version VARCHAR(50) NOT NULL DEFAULT '1.0.0',
			effective_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ,
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_by VARCHAR(255) NOT NULL,
			approved_by VARCHAR(255),
			parent_policy_id UUID REFERENCES policies(id) ON DELETE SET NULL,
			template_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Version snapshots (write-once)
		CREATE TABLE IF NOT EXISTS policy_versions (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			version VARCHAR(50) NOT NULL,
			configuration JSONB NOT NULL,
			change_summary TEXT NOT NULL DEFAULT '',
			created_by VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(policy_id, version)
		);

		-- Latest validation pass
		CREATE TABLE IF NOT EXISTS policy_validations (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			validation_type VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL,
			message TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Detected conflicts (never deleted, only resolved)
		CREATE TABLE IF NOT EXISTS policy_conflicts (
			id UUID PRIMARY KEY,
			policy_1_id UUID NOT NULL,
			policy_2_id UUID NOT NULL,
			conflict_type VARCHAR(50) NOT NULL,
			description TEXT NOT NULL,
			severity VARCHAR(20) NOT NULL,
			resolution_suggestion TEXT NOT NULL DEFAULT '',
			resolved_at TIMESTAMPTZ,
			resolved_by VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- What-if runs
		CREATE TABLE IF NOT EXISTS policy_simulations (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
			simulation_type VARCHAR(20) NOT NULL,
			test_data JSONB NOT NULL,
			results JSONB NOT NULL,
			created_by VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Append-only audit trail (survives policy deletion)
		CREATE TABLE IF NOT EXISTS policy_change_logs (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL,
			change_type VARCHAR(50) NOT NULL,
			old_configuration JSONB,
			new_configuration JSONB,
			change_summary TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			changed_by VARCHAR(255) NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Template store
		CREATE TABLE IF NOT EXISTS policy_templates (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			policy_type VARCHAR(50) NOT NULL,
			default_configuration JSONB NOT NULL,
			schema_definition JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_policies_status_priority ON policies(status, priority DESC, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_policies_policy_type ON policies(policy_type);
		CREATE INDEX IF NOT EXISTS idx_policy_versions_policy_id ON policy_versions(policy_id);
		CREATE INDEX IF NOT EXISTS idx_policy_validations_policy_id ON policy_validations(policy_id);
		CREATE INDEX IF NOT EXISTS idx_policy_conflicts_policy_1_id ON policy_conflicts(policy_1_id);
		CREATE INDEX IF NOT EXISTS idx_policy_conflicts_policy_2_id ON policy_conflicts(policy_2_id);
		CREATE INDEX IF NOT EXISTS idx_policy_simulations_policy_id ON policy_simulations(policy_id);
		CREATE INDEX IF NOT EXISTS idx_policy_change_logs_policy_id ON policy_change_logs(policy_id);
		CREATE INDEX IF NOT EXISTS idx_policy_change_logs_timestamp ON policy_change_logs(timestamp);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
