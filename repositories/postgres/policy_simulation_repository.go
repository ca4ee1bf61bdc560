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

const policySimulationColumns = `id, policy_id, simulation_type, test_data, results, created_by, created_at`

// PolicySimulationRepository implements the repositories.PolicySimulationRepository interface
type PolicySimulationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicySimulationRepository creates a new policy simulation repository
func NewPolicySimulationRepository(db *DB, logger *zap.Logger) repositories.PolicySimulationRepository {
	return &PolicySimulationRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a simulation run
func (r *PolicySimulationRepository) Create(ctx context.Context, simulation *models.PolicySimulation) error {
	query := `
		INSERT INTO policy_simulations (` + policySimulationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		simulation.ID,
		simulation.PolicyID,
		simulation.SimulationType,
		[]byte(simulation.TestData),
		[]byte(simulation.Results),
		simulation.CreatedBy,
		simulation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy simulation: %w", err)
	}

	r.logger.Debug("policy simulation created", zap.String("id", simulation.ID.String()))
	return nil
}

// GetByID retrieves a simulation by ID
func (r *PolicySimulationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicySimulation, error) {
	query := `SELECT ` + policySimulationColumns + ` FROM policy_simulations WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	simulation, err := scanPolicySimulation(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("policy simulation %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get policy simulation: %w", err)
	}
	return simulation, nil
}

// ListByPolicy retrieves simulations of a policy, newest first
func (r *PolicySimulationRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicySimulation, error) {
	query := `SELECT ` + policySimulationColumns + ` FROM policy_simulations WHERE policy_id = $1 ORDER BY created_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy simulations: %w", err)
	}
	defer rows.Close()

	simulations := []*models.PolicySimulation{}
	for rows.Next() {
		simulation, err := scanPolicySimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy simulation: %w", err)
		}
		simulations = append(simulations, simulation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy simulation rows: %w", err)
	}
	return simulations, nil
}

func scanPolicySimulation(row scanner) (*models.PolicySimulation, error) {
	simulation := &models.PolicySimulation{}
	var testData, results []byte
	if err := row.Scan(
		&simulation.ID,
		&simulation.PolicyID,
		&simulation.SimulationType,
		&testData,
		&results,
		&simulation.CreatedBy,
		&simulation.CreatedAt,
	); err != nil {
		return nil, err
	}
	simulation.TestData = testData
	simulation.Results = results
	return simulation, nil
}
