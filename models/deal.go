package models

import "github.com/shopspring/decimal"

// RiskTier represents the risk classification of a deal
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// IsValid reports whether r is a known risk tier
func (r RiskTier) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// DealSnapshot is the minimal view of a deal the guardrail evaluator consumes.
// The evaluator never mutates it.
type DealSnapshot struct {
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	DiscountPercent  float64         `json:"discount_percent"`
	PaymentTermsDays int             `json:"payment_terms_days"`
	Risk             RiskTier        `json:"risk"`
}

// GuardrailStatus is the verdict written back onto a deal
type GuardrailStatus string

const (
	GuardrailStatusPassed   GuardrailStatus = "passed"
	GuardrailStatusViolated GuardrailStatus = "violated"
)

// GuardrailVerdict holds the fields the deal lifecycle collaborator persists after evaluation
type GuardrailVerdict struct {
	GuardrailStatus GuardrailStatus `json:"guardrail_status"`
	GuardrailLocked bool            `json:"guardrail_locked"`
	GuardrailReason string          `json:"guardrail_reason,omitempty"`
	RequiresReview  bool            `json:"requires_review"`
}
