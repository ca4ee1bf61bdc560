package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PolicyVersion is an immutable snapshot of a policy configuration
type PolicyVersion struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	PolicyID      uuid.UUID       `json:"policy_id" db:"policy_id"`
	Version       string          `json:"version" db:"version"`
	Configuration json.RawMessage `json:"configuration" db:"configuration"`
	ChangeSummary string          `json:"change_summary" db:"change_summary"`
	CreatedBy     string          `json:"created_by" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyVersion model
func (PolicyVersion) TableName() string {
	return "policy_versions"
}

// ValidationStatus represents the outcome of a validation row
type ValidationStatus string

const (
	ValidationStatusPassed ValidationStatus = "passed"
	ValidationStatusFailed ValidationStatus = "failed"
)

// ValidationTypeConfiguration marks rows produced by the configuration validator
const ValidationTypeConfiguration = "configuration"

// PolicyValidation is one row of the latest validation pass for a policy
type PolicyValidation struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	PolicyID       uuid.UUID        `json:"policy_id" db:"policy_id"`
	ValidationType string           `json:"validation_type" db:"validation_type"`
	Status         ValidationStatus `json:"status" db:"status"`
	Message        string           `json:"message" db:"message"`
	Details        json.RawMessage  `json:"details,omitempty" db:"details"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyValidation model
func (PolicyValidation) TableName() string {
	return "policy_validations"
}

// ConflictType distinguishes priority ties from contradictory configurations
type ConflictType string

const (
	ConflictTypePriority      ConflictType = "priority"
	ConflictTypeConfiguration ConflictType = "configuration"
)

// Severity grades conflicts and violations
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// PolicyConflict is a detected incompatibility between two active policies of the same type
type PolicyConflict struct {
	ID                   uuid.UUID    `json:"id" db:"id"`
	Policy1ID            uuid.UUID    `json:"policy_1_id" db:"policy_1_id"`
	Policy2ID            uuid.UUID    `json:"policy_2_id" db:"policy_2_id"`
	ConflictType         ConflictType `json:"conflict_type" db:"conflict_type"`
	Description          string       `json:"description" db:"description"`
	Severity             Severity     `json:"severity" db:"severity"`
	ResolutionSuggestion string       `json:"resolution_suggestion" db:"resolution_suggestion"`
	ResolvedAt           *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy           *string      `json:"resolved_by,omitempty" db:"resolved_by"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyConflict model
func (PolicyConflict) TableName() string {
	return "policy_conflicts"
}

// IsOpen reports whether the conflict has not been resolved
func (c *PolicyConflict) IsOpen() bool {
	return c.ResolvedAt == nil
}

// Involves reports whether the conflict references the given policy
func (c *PolicyConflict) Involves(policyID uuid.UUID) bool {
	return c.Policy1ID == policyID || c.Policy2ID == policyID
}

// SimulationType records which configuration a simulation ran under
type SimulationType string

const (
	SimulationTypeCurrent  SimulationType = "current"
	SimulationTypeProposed SimulationType = "proposed"
)

// PolicySimulation is a persisted what-if run
type PolicySimulation struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	PolicyID       uuid.UUID       `json:"policy_id" db:"policy_id"`
	SimulationType SimulationType  `json:"simulation_type" db:"simulation_type"`
	TestData       json.RawMessage `json:"test_data" db:"test_data"`
	Results        json.RawMessage `json:"results" db:"results"`
	CreatedBy      string          `json:"created_by" db:"created_by"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicySimulation model
func (PolicySimulation) TableName() string {
	return "policy_simulations"
}

// PolicyTemplate supplies default configuration for template-based creation
type PolicyTemplate struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	Name                 string          `json:"name" db:"name"`
	Description          string          `json:"description" db:"description"`
	PolicyType           PolicyType      `json:"policy_type" db:"policy_type"`
	DefaultConfiguration json.RawMessage `json:"default_configuration" db:"default_configuration"`
	SchemaDefinition     json.RawMessage `json:"schema_definition,omitempty" db:"schema_definition"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyTemplate model
func (PolicyTemplate) TableName() string {
	return "policy_templates"
}
