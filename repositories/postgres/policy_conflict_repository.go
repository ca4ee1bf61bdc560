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

const policyConflictColumns = `id, policy_1_id, policy_2_id, conflict_type, description, severity,
	resolution_suggestion, resolved_at, resolved_by, created_at`

// PolicyConflictRepository implements the repositories.PolicyConflictRepository interface
type PolicyConflictRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyConflictRepository creates a new policy conflict repository
func NewPolicyConflictRepository(db *DB, logger *zap.Logger) repositories.PolicyConflictRepository {
	return &PolicyConflictRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a detected conflict
func (r *PolicyConflictRepository) Create(ctx context.Context, conflict *models.PolicyConflict) error {
	query := `
		INSERT INTO policy_conflicts (` + policyConflictColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		conflict.ID,
		conflict.Policy1ID,
		conflict.Policy2ID,
		conflict.ConflictType,
		conflict.Description,
		conflict.Severity,
		conflict.ResolutionSuggestion,
		conflict.ResolvedAt,
		conflict.ResolvedBy,
		conflict.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy conflict: %w", err)
	}

	r.logger.Debug("policy conflict created",
		zap.String("id", conflict.ID.String()),
		zap.String("conflict_type", string(conflict.ConflictType)))
	return nil
}

// GetByID retrieves a conflict by ID
func (r *PolicyConflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyConflict, error) {
	query := `SELECT ` + policyConflictColumns + ` FROM policy_conflicts WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	conflict, err := scanPolicyConflict(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy conflict %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy conflict: %w", err)
	}
	return conflict, nil
}

// FindOpen retrieves an unresolved conflict of the given type between two policies, in either order
func (r *PolicyConflictRepository) FindOpen(ctx context.Context, policy1ID, policy2ID uuid.UUID, conflictType models.ConflictType) (*models.PolicyConflict, error) {
	query := `
		SELECT ` + policyConflictColumns + `
		FROM policy_conflicts
		WHERE resolved_at IS NULL
			AND conflict_type = $3
			AND ((policy_1_id = $1 AND policy_2_id = $2) OR (policy_1_id = $2 AND policy_2_id = $1))
		ORDER BY created_at DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	conflict, err := scanPolicyConflict(executor.QueryRowContext(ctx, query, policy1ID, policy2ID, conflictType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("open policy conflict: %w", repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find open policy conflict: %w", err)
	}
	return conflict, nil
}

// ListByPolicy retrieves conflicts involving a policy, newest first
func (r *PolicyConflictRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID, openOnly bool) ([]*models.PolicyConflict, error) {
	query := `
		SELECT ` + policyConflictColumns + `
		FROM policy_conflicts
		WHERE (policy_1_id = $1 OR policy_2_id = $1)
	`
	if openOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []*models.PolicyConflict{}
	for rows.Next() {
		conflict, err := scanPolicyConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy conflict: %w", err)
		}
		conflicts = append(conflicts, conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy conflict rows: %w", err)
	}
	return conflicts, nil
}

// Resolve marks a conflict resolved
func (r *PolicyConflictRepository) Resolve(ctx context.Context, conflict *models.PolicyConflict) error {
	query := `UPDATE policy_conflicts SET resolved_at = $2, resolved_by = $3 WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, conflict.ID, conflict.ResolvedAt, conflict.ResolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve policy conflict: %w", err)
	}

	if err := checkAffected(result, "policy conflict "+conflict.ID.String()); err != nil {
		return err
	}

	r.logger.Debug("policy conflict resolved", zap.String("id", conflict.ID.String()))
	return nil
}

func scanPolicyConflict(row scanner) (*models.PolicyConflict, error) {
	conflict := &models.PolicyConflict{}
	if err := row.Scan(
		&conflict.ID,
		&conflict.Policy1ID,
		&conflict.Policy2ID,
		&conflict.ConflictType,
		&conflict.Description,
		&conflict.Severity,
		&conflict.ResolutionSuggestion,
		&conflict.ResolvedAt,
		&conflict.ResolvedBy,
		&conflict.CreatedAt,
	); err != nil {
		return nil, err
	}
	return conflict, nil
}
