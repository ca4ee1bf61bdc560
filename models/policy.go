package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PolicyType represents the kind of deal rule a policy carries
type PolicyType string

const (
	PolicyTypePricing      PolicyType = "pricing"
	PolicyTypeDiscount     PolicyType = "discount"
	PolicyTypePaymentTerms PolicyType = "payment_terms"
	PolicyTypePriceFloor   PolicyType = "price_floor"
	PolicyTypeSLA          PolicyType = "sla"
)

// PolicyTypes lists every supported policy type
var PolicyTypes = []PolicyType{
	PolicyTypePricing,
	PolicyTypeDiscount,
	PolicyTypePaymentTerms,
	PolicyTypePriceFloor,
	PolicyTypeSLA,
}

// IsValid reports whether t is a known policy type
func (t PolicyType) IsValid() bool {
	for _, known := range PolicyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// PolicyStatus represents the lifecycle state of a policy
type PolicyStatus string

const (
	PolicyStatusDraft    PolicyStatus = "draft"
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusInactive PolicyStatus = "inactive"
)

// InitialPolicyVersion is the version assigned to newly created policies
const InitialPolicyVersion = "1.0.0"

// Policy represents a named, typed, versioned business rule set
type Policy struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description" db:"description"`
	PolicyType     PolicyType      `json:"policy_type" db:"policy_type"`
	Status         PolicyStatus    `json:"status" db:"status"`
	Configuration  json.RawMessage `json:"configuration" db:"configuration"` // JSONB, shape depends on PolicyType
	Priority       int             `json:"priority" db:"priority"`
	Version        string          `json:"version" db:"version"`
	EffectiveAt    *time.Time      `json:"effective_at,omitempty" db:"effective_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	Tags           []string        `json:"tags" db:"tags"`
	CreatedBy      string          `json:"created_by" db:"created_by"`
	ApprovedBy     *string         `json:"approved_by,omitempty" db:"approved_by"`
	ParentPolicyID *uuid.UUID      `json:"parent_policy_id,omitempty" db:"parent_policy_id"`
	TemplateID     *uuid.UUID      `json:"template_id,omitempty" db:"template_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "policies"
}

// NewPolicy creates a new draft Policy at the initial version
func NewPolicy(name string, policyType PolicyType, configuration json.RawMessage, priority int, createdBy string) *Policy {
	now := time.Now().UTC()
	return &Policy{
		ID:            uuid.New(),
		Name:          name,
		PolicyType:    policyType,
		Status:        PolicyStatusDraft,
		Configuration: configuration,
		Priority:      priority,
		Version:       InitialPolicyVersion,
		Tags:          []string{},
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsActive reports whether the policy status is active
func (p *Policy) IsActive() bool {
	return p.Status == PolicyStatusActive
}

// IsInEffect reports whether the policy is active and inside its validity window at now.
// The window is closed at effective_at and open at expires_at.
func (p *Policy) IsInEffect(now time.Time) bool {
	if !p.IsActive() {
		return false
	}
	if p.EffectiveAt != nil && now.Before(*p.EffectiveAt) {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	return true
}

// Clone returns a deep copy of the policy
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	c := *p
	c.Configuration = append(json.RawMessage(nil), p.Configuration...)
	c.Tags = append([]string{}, p.Tags...)
	if p.EffectiveAt != nil {
		t := *p.EffectiveAt
		c.EffectiveAt = &t
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	if p.ApprovedBy != nil {
		s := *p.ApprovedBy
		c.ApprovedBy = &s
	}
	if p.ParentPolicyID != nil {
		id := *p.ParentPolicyID
		c.ParentPolicyID = &id
	}
	if p.TemplateID != nil {
		id := *p.TemplateID
		c.TemplateID = &id
	}
	return &c
}

// Precedes reports whether p is evaluated before other:
// higher priority first, then newer created_at, then lower ID.
func (p *Policy) Precedes(other *Policy) bool {
	if p.Priority != other.Priority {
		return p.Priority > other.Priority
	}
	if !p.CreatedAt.Equal(other.CreatedAt) {
		return p.CreatedAt.After(other.CreatedAt)
	}
	return p.ID.String() < other.ID.String()
}

// SortByPrecedence orders policies in evaluation order
func SortByPrecedence(policies []*Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Precedes(policies[j])
	})
}
