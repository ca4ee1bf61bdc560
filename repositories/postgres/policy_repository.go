package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"go.uber.org/zap"
)

const policyColumns = `id, name, description, policy_type, status, configuration, priority, version,
	effective_at, expires_at, tags, created_by, approved_by, parent_policy_id, template_id, created_at, updated_at`

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.Name,
		policy.Description,
		policy.PolicyType,
		policy.Status,
		[]byte(policy.Configuration),
		policy.Priority,
		policy.Version,
		policy.EffectiveAt,
		policy.ExpiresAt,
		pq.Array(tagsOrEmpty(policy.Tags)),
		policy.CreatedBy,
		policy.ApprovedBy,
		policy.ParentPolicyID,
		policy.TemplateID,
		policy.CreatedAt,
		policy.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}

	r.logger.Debug("policy created", zap.String("id", policy.ID.String()))
	return nil
}

// GetByID retrieves a policy by ID
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	policy, err := scanPolicy(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	return policy, nil
}

// List retrieves policies matching the filter
func (r *PolicyRepository) List(ctx context.Context, filter repositories.PolicyFilter) ([]*models.Policy, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.PolicyType != nil {
		args = append(args, *filter.PolicyType)
		conditions = append(conditions, fmt.Sprintf("policy_type = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + policyColumns + ` FROM policies`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY priority DESC, created_at DESC, id`

	return r.queryPolicies(ctx, query, args...)
}

// ListActive retrieves active policies in evaluation order
func (r *PolicyRepository) ListActive(ctx context.Context, policyType *models.PolicyType) ([]*models.Policy, error) {
	status := models.PolicyStatusActive
	return r.List(ctx, repositories.PolicyFilter{PolicyType: policyType, Status: &status})
}

// Update updates a policy
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	query := `
		UPDATE policies
		SET name = $2,
		    description = $3,
		    status = $4,
		    configuration = $5,
		    priority = $6,
		    version = $7,
		    effective_at = $8,
		    expires_at = $9,
		    tags = $10,
		    approved_by = $11,
		    updated_at = $12
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.Name,
		policy.Description,
		policy.Status,
		[]byte(policy.Configuration),
		policy.Priority,
		policy.Version,
		policy.EffectiveAt,
		policy.ExpiresAt,
		pq.Array(tagsOrEmpty(policy.Tags)),
		policy.ApprovedBy,
		policy.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	if err := checkAffected(result, "policy "+policy.ID.String()); err != nil {
		return err
	}

	r.logger.Debug("policy updated", zap.String("id", policy.ID.String()))
	return nil
}

// Delete deletes a policy
func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM policies WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	if err := checkAffected(result, "policy "+id.String()); err != nil {
		return err
	}

	r.logger.Debug("policy deleted", zap.String("id", id.String()))
	return nil
}

// queryPolicies is a helper method to query multiple policies
func (r *PolicyRepository) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*models.Policy, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	policies := []*models.Policy{}
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, policy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy rows: %w", err)
	}

	return policies, nil
}

func scanPolicy(row scanner) (*models.Policy, error) {
	policy := &models.Policy{}
	var configuration []byte
	err := row.Scan(
		&policy.ID,
		&policy.Name,
		&policy.Description,
		&policy.PolicyType,
		&policy.Status,
		&configuration,
		&policy.Priority,
		&policy.Version,
		&policy.EffectiveAt,
		&policy.ExpiresAt,
		pq.Array(&policy.Tags),
		&policy.CreatedBy,
		&policy.ApprovedBy,
		&policy.ParentPolicyID,
		&policy.TemplateID,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	policy.Configuration = configuration
	if policy.Tags == nil {
		policy.Tags = []string{}
	}
	return policy, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
