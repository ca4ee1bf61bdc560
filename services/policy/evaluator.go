package policy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
)

// ViolationType identifies which guardrail check failed
type ViolationType string

const (
	ViolationDiscountLimit ViolationType = "discount_limit"
	ViolationPriceFloor    ViolationType = "price_floor"
	ViolationPaymentTerms  ViolationType = "payment_terms"
)

// Violation represents one failed guardrail check
type Violation struct {
	Type       ViolationType   `json:"type"`
	PolicyID   uuid.UUID       `json:"policy_id"`
	PolicyName string          `json:"policy_name"`
	Message    string          `json:"message"`
	Severity   models.Severity `json:"severity"`
}

// SkippedPolicy records an active policy the evaluator could not apply
type SkippedPolicy struct {
	PolicyID   uuid.UUID `json:"policy_id"`
	PolicyName string    `json:"policy_name"`
	Reason     string    `json:"reason"`
}

// EvaluationResult represents the result of evaluating a deal against the active set
type EvaluationResult struct {
	Passed          bool            `json:"passed"`
	Violations      []Violation     `json:"violations"`
	AppliedPolicies []string        `json:"applied_policies"`
	SkippedPolicies []SkippedPolicy `json:"skipped_policies,omitempty"`
}

// Verdict projects the result onto the fields the deal lifecycle persists
func (r *EvaluationResult) Verdict() models.GuardrailVerdict {
	if r.Passed {
		return models.GuardrailVerdict{GuardrailStatus: models.GuardrailStatusPassed}
	}

	messages := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		messages = append(messages, v.Message)
	}
	return models.GuardrailVerdict{
		GuardrailStatus: models.GuardrailStatusViolated,
		GuardrailLocked: true,
		GuardrailReason: strings.Join(messages, "; "),
		RequiresReview:  true,
	}
}

// SortForEvaluation returns a copy of policies in evaluation order.
// Among equal priorities the most recently created policy wins.
func SortForEvaluation(policies []*models.Policy) []*models.Policy {
	sorted := make([]*models.Policy, len(policies))
	copy(sorted, policies)
	models.SortByPrecedence(sorted)
	return sorted
}

// Evaluate checks a deal against a set of active policies.
// Each pricing policy contributes at most one violation: the discount limit is checked
// first, then the price floor, then payment terms. Other policy types have no effect on
// deals yet. A policy whose configuration cannot be decoded is skipped.
func Evaluate(deal models.DealSnapshot, policies []*models.Policy) *EvaluationResult {
	result := &EvaluationResult{
		Passed:          true,
		Violations:      make([]Violation, 0),
		AppliedPolicies: make([]string, 0),
	}

	deal = withDealDefaults(deal)

	for _, policy := range SortForEvaluation(policies) {
		if policy.PolicyType != models.PolicyTypePricing {
			continue
		}

		cfg, err := models.DecodePricingConfig(policy.Configuration)
		if err == nil {
			err = cfg.Complete()
		}
		if err != nil {
			result.SkippedPolicies = append(result.SkippedPolicies, SkippedPolicy{
				PolicyID:   policy.ID,
				PolicyName: policy.Name,
				Reason:     err.Error(),
			})
			continue
		}

		violation, failed := checkPricing(cfg, deal)
		if !failed {
			continue
		}
		violation.PolicyID = policy.ID
		violation.PolicyName = policy.Name
		result.Violations = append(result.Violations, violation)
		result.AppliedPolicies = append(result.AppliedPolicies, policy.Name)
	}

	result.Passed = len(result.Violations) == 0
	return result
}

// checkPricing runs the pricing checks in order and stops at the first failure
func checkPricing(cfg *models.PricingConfig, deal models.DealSnapshot) (Violation, bool) {
	limit := cfg.DiscountLimitFor(deal.Risk)
	if deal.DiscountPercent > limit {
		return Violation{
			Type: ViolationDiscountLimit,
			Message: fmt.Sprintf("discount %s%% exceeds %s%% limit for %s risk",
				formatFloat(deal.DiscountPercent), formatFloat(limit), deal.Risk),
			Severity: models.SeverityHigh,
		}, true
	}

	floor := cfg.PriceFloor
	if deal.Currency == floor.EffectiveCurrency() && deal.Amount.LessThan(*floor.MinAmount) {
		return Violation{
			Type: ViolationPriceFloor,
			Message: fmt.Sprintf("deal amount %s %s is below price floor %s %s",
				deal.Amount.StringFixed(2), deal.Currency, floor.MinAmount.StringFixed(2), floor.EffectiveCurrency()),
			Severity: models.SeverityHigh,
		}, true
	}

	maxTerms := int(*cfg.PaymentTermsGuardrails.MaxTermsDays)
	if deal.PaymentTermsDays > maxTerms {
		return Violation{
			Type: ViolationPaymentTerms,
			Message: fmt.Sprintf("payment terms of %d days exceed the %d day maximum",
				deal.PaymentTermsDays, maxTerms),
			Severity: models.SeverityMedium,
		}, true
	}

	return Violation{}, false
}

// withDealDefaults fills the currency and risk tier a caller left empty
func withDealDefaults(deal models.DealSnapshot) models.DealSnapshot {
	if deal.Currency == "" {
		deal.Currency = models.DefaultCurrency
	}
	if deal.Risk == "" {
		deal.Risk = models.RiskMedium
	}
	return deal
}
