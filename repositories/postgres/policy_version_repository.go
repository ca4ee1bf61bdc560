package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"go.uber.org/zap"
)

const policyVersionColumns = `id, policy_id, version, configuration, change_summary, created_by, created_at`

// PolicyVersionRepository implements the repositories.PolicyVersionRepository interface
type PolicyVersionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyVersionRepository creates a new policy version repository
func NewPolicyVersionRepository(db *DB, logger *zap.Logger) repositories.PolicyVersionRepository {
	return &PolicyVersionRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a version snapshot
func (r *PolicyVersionRepository) Create(ctx context.Context, version *models.PolicyVersion) error {
	query := `
		INSERT INTO policy_versions (` + policyVersionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		version.ID,
		version.PolicyID,
		version.Version,
		[]byte(version.Configuration),
		version.ChangeSummary,
		version.CreatedBy,
		version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy version: %w", err)
	}

	r.logger.Debug("policy version created",
		zap.String("policy_id", version.PolicyID.String()),
		zap.String("version", version.Version))
	return nil
}

// GetByPolicyAndVersion retrieves the snapshot stored under a version label
func (r *PolicyVersionRepository) GetByPolicyAndVersion(ctx context.Context, policyID uuid.UUID, version string) (*models.PolicyVersion, error) {
	query := `SELECT ` + policyVersionColumns + ` FROM policy_versions WHERE policy_id = $1 AND version = $2`

	executor := GetExecutor(ctx, r.db)
	v, err := scanPolicyVersion(executor.QueryRowContext(ctx, query, policyID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy %s version %s: %w", policyID, version, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy version: %w", err)
	}
	return v, nil
}

// ListByPolicy retrieves all snapshots of a policy, newest first
func (r *PolicyVersionRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyVersion, error) {
	query := `SELECT ` + policyVersionColumns + ` FROM policy_versions WHERE policy_id = $1 ORDER BY created_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy versions: %w", err)
	}
	defer rows.Close()

	versions := []*models.PolicyVersion{}
	for rows.Next() {
		v, err := scanPolicyVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy version: %w", err)
		}
		versions = append(versions, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy version rows: %w", err)
	}
	return versions, nil
}

func scanPolicyVersion(row scanner) (*models.PolicyVersion, error) {
	v := &models.PolicyVersion{}
	var configuration []byte
	if err := row.Scan(
		&v.ID,
		&v.PolicyID,
		&v.Version,
		&configuration,
		&v.ChangeSummary,
		&v.CreatedBy,
		&v.CreatedAt,
	); err != nil {
		return nil, err
	}
	v.Configuration = configuration
	return v, nil
}
