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

const policyTemplateColumns = `id, name, description, policy_type, default_configuration, schema_definition, created_at`

// PolicyTemplateRepository implements the repositories.PolicyTemplateRepository interface
type PolicyTemplateRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyTemplateRepository creates a new policy template repository
func NewPolicyTemplateRepository(db *DB, logger *zap.Logger) repositories.PolicyTemplateRepository {
	return &PolicyTemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a template
func (r *PolicyTemplateRepository) Create(ctx context.Context, template *models.PolicyTemplate) error {
	query := `
		INSERT INTO policy_templates (` + policyTemplateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		template.ID,
		template.Name,
		template.Description,
		template.PolicyType,
		[]byte(template.DefaultConfiguration),
		nullableJSON(template.SchemaDefinition),
		template.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy template: %w", err)
	}

	r.logger.Debug("policy template created", zap.String("id", template.ID.String()))
	return nil
}

// GetByID retrieves a template by ID
func (r *PolicyTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyTemplate, error) {
	query := `SELECT ` + policyTemplateColumns + ` FROM policy_templates WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	template, err := scanPolicyTemplate(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy template %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy template: %w", err)
	}
	return template, nil
}

// List retrieves all templates ordered by name
func (r *PolicyTemplateRepository) List(ctx context.Context) ([]*models.PolicyTemplate, error) {
	query := `SELECT ` + policyTemplateColumns + ` FROM policy_templates ORDER BY name ASC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy templates: %w", err)
	}
	defer rows.Close()

	templates := []*models.PolicyTemplate{}
	for rows.Next() {
		template, err := scanPolicyTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy template: %w", err)
		}
		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy template rows: %w", err)
	}
	return templates, nil
}

func scanPolicyTemplate(row scanner) (*models.PolicyTemplate, error) {
	template := &models.PolicyTemplate{}
	var defaults, schema []byte
	if err := row.Scan(
		&template.ID,
		&template.Name,
		&template.Description,
		&template.PolicyType,
		&defaults,
		&schema,
		&template.CreatedAt,
	); err != nil {
		return nil, err
	}
	template.DefaultConfiguration = defaults
	template.SchemaDefinition = schema
	return template, nil
}
