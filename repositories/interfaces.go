package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
)

// ErrNotFound is returned by repositories when the requested row does not exist
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// The context passed to fn carries the transaction, so repositories called
	// with it join the unit of work. Commits if fn succeeds, rolls back on error or panic.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// PolicyFilter narrows policy listings; nil fields match everything
type PolicyFilter struct {
	PolicyType *models.PolicyType
	Status     *models.PolicyStatus
}

// PolicyRepository handles policy data operations
type PolicyRepository interface {
	// Create creates a new policy
	Create(ctx context.Context, policy *models.Policy) error

	// GetByID retrieves a policy by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error)

	// List retrieves policies matching the filter ordered by priority then recency
	List(ctx context.Context, filter PolicyFilter) ([]*models.Policy, error)

	// ListActive retrieves every active policy, optionally of one type,
	// ordered by priority DESC, created_at DESC
	ListActive(ctx context.Context, policyType *models.PolicyType) ([]*models.Policy, error)

	// Update updates a policy
	Update(ctx context.Context, policy *models.Policy) error

	// Delete deletes a policy
	Delete(ctx context.Context, id uuid.UUID) error
}

// PolicyVersionRepository handles the write-once version history
type PolicyVersionRepository interface {
	// Create stores a version snapshot
	Create(ctx context.Context, version *models.PolicyVersion) error

	// GetByPolicyAndVersion retrieves the snapshot stored under a version label
	GetByPolicyAndVersion(ctx context.Context, policyID uuid.UUID, version string) (*models.PolicyVersion, error)

	// ListByPolicy retrieves all snapshots of a policy, newest first
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyVersion, error)
}

// PolicyValidationRepository handles the latest validation pass of each policy
type PolicyValidationRepository interface {
	// ReplaceForPolicy deletes the previous rows of a policy and inserts the given ones
	ReplaceForPolicy(ctx context.Context, policyID uuid.UUID, validations []*models.PolicyValidation) error

	// ListByPolicy retrieves the current validation rows of a policy
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyValidation, error)
}

// PolicyConflictRepository handles detected conflicts
type PolicyConflictRepository interface {
	// Create stores a detected conflict
	Create(ctx context.Context, conflict *models.PolicyConflict) error

	// GetByID retrieves a conflict by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyConflict, error)

	// FindOpen retrieves an unresolved conflict of the given type between two policies, in either order
	FindOpen(ctx context.Context, policy1ID, policy2ID uuid.UUID, conflictType models.ConflictType) (*models.PolicyConflict, error)

	// ListByPolicy retrieves conflicts involving a policy, newest first
	ListByPolicy(ctx context.Context, policyID uuid.UUID, openOnly bool) ([]*models.PolicyConflict, error)

	// Resolve marks a conflict resolved
	Resolve(ctx context.Context, conflict *models.PolicyConflict) error
}

// PolicySimulationRepository handles what-if run history
type PolicySimulationRepository interface {
	// Create stores a simulation run
	Create(ctx context.Context, simulation *models.PolicySimulation) error

	// GetByID retrieves a simulation by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.PolicySimulation, error)

	// ListByPolicy retrieves simulations of a policy, newest first
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicySimulation, error)
}

// PolicyChangeLogRepository handles the append-only audit trail
type PolicyChangeLogRepository interface {
	// Insert appends a change log entry
	Insert(ctx context.Context, entry *models.PolicyChangeLog) error

	// ListByPolicy retrieves change log entries of a policy with pagination, newest first
	ListByPolicy(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*models.PolicyChangeLog, error)
}

// PolicyTemplateRepository handles the template store
type PolicyTemplateRepository interface {
	// Create stores a template
	Create(ctx context.Context, template *models.PolicyTemplate) error

	// GetByID retrieves a template by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyTemplate, error)

	// List retrieves all templates ordered by name
	List(ctx context.Context) ([]*models.PolicyTemplate, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Policies    PolicyRepository
	Versions    PolicyVersionRepository
	Validations PolicyValidationRepository
	Conflicts   PolicyConflictRepository
	Simulations PolicySimulationRepository
	ChangeLogs  PolicyChangeLogRepository
	Templates   PolicyTemplateRepository
}
