package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"go.uber.org/zap"
)

// PolicyChangeLogRepository implements the repositories.PolicyChangeLogRepository interface.
// Rows are insert-only.
type PolicyChangeLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyChangeLogRepository creates a new policy change log repository
func NewPolicyChangeLogRepository(db *DB, logger *zap.Logger) repositories.PolicyChangeLogRepository {
	return &PolicyChangeLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a change log entry
func (r *PolicyChangeLogRepository) Insert(ctx context.Context, entry *models.PolicyChangeLog) error {
	query := `
		INSERT INTO policy_change_logs (id, policy_id, change_type, old_configuration, new_configuration,
			change_summary, reason, changed_by, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		entry.ID,
		entry.PolicyID,
		entry.ChangeType,
		nullableJSON(entry.OldConfiguration),
		nullableJSON(entry.NewConfiguration),
		entry.ChangeSummary,
		entry.Reason,
		entry.ChangedBy,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert policy change log: %w", err)
	}

	r.logger.Debug("policy change logged",
		zap.String("policy_id", entry.PolicyID.String()),
		zap.String("change_type", string(entry.ChangeType)))
	return nil
}

// ListByPolicy retrieves change log entries of a policy with pagination, newest first
func (r *PolicyChangeLogRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*models.PolicyChangeLog, error) {
	query := `
		SELECT id, policy_id, change_type, old_configuration, new_configuration,
			change_summary, reason, changed_by, timestamp
		FROM policy_change_logs
		WHERE policy_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy change logs: %w", err)
	}
	defer rows.Close()

	entries := []*models.PolicyChangeLog{}
	for rows.Next() {
		entry := &models.PolicyChangeLog{}
		var oldConfig, newConfig []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.PolicyID,
			&entry.ChangeType,
			&oldConfig,
			&newConfig,
			&entry.ChangeSummary,
			&entry.Reason,
			&entry.ChangedBy,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy change log: %w", err)
		}
		entry.OldConfiguration = oldConfig
		entry.NewConfiguration = newConfig
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy change log rows: %w", err)
	}
	return entries, nil
}
