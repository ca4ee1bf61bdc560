package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"go.uber.org/zap"
)

// PolicyValidationRepository implements the repositories.PolicyValidationRepository interface
type PolicyValidationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyValidationRepository creates a new policy validation repository
func NewPolicyValidationRepository(db *DB, logger *zap.Logger) repositories.PolicyValidationRepository {
	return &PolicyValidationRepository{
		db:     db,
		logger: logger,
	}
}

// ReplaceForPolicy deletes the previous rows of a policy and inserts the given ones.
// Callers run it inside a transaction so readers never see an empty pass.
func (r *PolicyValidationRepository) ReplaceForPolicy(ctx context.Context, policyID uuid.UUID, validations []*models.PolicyValidation) error {
	executor := GetExecutor(ctx, r.db)

	if _, err := executor.ExecContext(ctx, `DELETE FROM policy_validations WHERE policy_id = $1`, policyID); err != nil {
		return fmt.Errorf("failed to clear policy validations: %w", err)
	}

	query := `
		INSERT INTO policy_validations (id, policy_id, validation_type, status, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, v := range validations {
		if _, err := executor.ExecContext(ctx, query,
			v.ID,
			policyID,
			v.ValidationType,
			v.Status,
			v.Message,
			nullableJSON(v.Details),
			v.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert policy validation: %w", err)
		}
	}

	r.logger.Debug("policy validations replaced",
		zap.String("policy_id", policyID.String()),
		zap.Int("count", len(validations)))
	return nil
}

// ListByPolicy retrieves the current validation rows of a policy
func (r *PolicyValidationRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyValidation, error) {
	query := `
		SELECT id, policy_id, validation_type, status, message, details, created_at
		FROM policy_validations
		WHERE policy_id = $1
		ORDER BY created_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy validations: %w", err)
	}
	defer rows.Close()

	validations := []*models.PolicyValidation{}
	for rows.Next() {
		v := &models.PolicyValidation{}
		var details []byte
		if err := rows.Scan(
			&v.ID,
			&v.PolicyID,
			&v.ValidationType,
			&v.Status,
			&v.Message,
			&details,
			&v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy validation: %w", err)
		}
		v.Details = details
		validations = append(validations, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy validation rows: %w", err)
	}
	return validations, nil
}
