package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeType represents the kind of mutation recorded in the change log
type ChangeType string

const (
	ChangeTypeCreated     ChangeType = "created"
	ChangeTypeUpdated     ChangeType = "updated"
	ChangeTypeActivated   ChangeType = "activated"
	ChangeTypeDeactivated ChangeType = "deactivated"
	ChangeTypeRolledBack  ChangeType = "rolled_back"
	ChangeTypeDeleted     ChangeType = "deleted"
)

// PolicyChangeLog is an append-only audit entry for a policy mutation
type PolicyChangeLog struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	PolicyID         uuid.UUID       `json:"policy_id" db:"policy_id"`
	ChangeType       ChangeType      `json:"change_type" db:"change_type"`
	OldConfiguration json.RawMessage `json:"old_configuration,omitempty" db:"old_configuration"`
	NewConfiguration json.RawMessage `json:"new_configuration,omitempty" db:"new_configuration"`
	ChangeSummary    string          `json:"change_summary" db:"change_summary"`
	Reason           string          `json:"reason,omitempty" db:"reason"`
	ChangedBy        string          `json:"changed_by" db:"changed_by"`
	Timestamp        time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the PolicyChangeLog model
func (PolicyChangeLog) TableName() string {
	return "policy_change_logs"
}

// NewPolicyChangeLog creates a new change log entry for a policy
func NewPolicyChangeLog(policyID uuid.UUID, changeType ChangeType, changedBy string) *PolicyChangeLog {
	return &PolicyChangeLog{
		ID:         uuid.New(),
		PolicyID:   policyID,
		ChangeType: changeType,
		ChangedBy:  changedBy,
		Timestamp:  time.Now().UTC(),
	}
}

// WithConfigurations sets the configuration before and after the change
func (l *PolicyChangeLog) WithConfigurations(oldConfig, newConfig json.RawMessage) *PolicyChangeLog {
	l.OldConfiguration = oldConfig
	l.NewConfiguration = newConfig
	return l
}

// WithSummary sets the change summary and reason
func (l *PolicyChangeLog) WithSummary(summary, reason string) *PolicyChangeLog {
	l.ChangeSummary = summary
	l.Reason = reason
	return l
}
