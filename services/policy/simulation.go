package policy

import (
	"github.com/shopspring/decimal"
	"github.com/upb/deal-guardrails/models"
)

// TestDeal is a synthetic deal submitted for simulation. Omitted fields take defaults:
// zero amount, discount and terms, currency USD and medium risk.
type TestDeal struct {
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	DiscountPercent  *float64         `json:"discount_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	PaymentTermsDays *int             `json:"payment_terms_days,omitempty" validate:"omitempty,gte=0"`
	Risk             models.RiskTier  `json:"risk,omitempty" validate:"omitempty,oneof=low medium high"`
}

// Snapshot builds the ephemeral deal snapshot the evaluator consumes
func (d TestDeal) Snapshot() models.DealSnapshot {
	snapshot := models.DealSnapshot{
		Amount:   decimal.Zero,
		Currency: d.Currency,
		Risk:     d.Risk,
	}
	if d.Amount != nil {
		snapshot.Amount = *d.Amount
	}
	if d.DiscountPercent != nil {
		snapshot.DiscountPercent = *d.DiscountPercent
	}
	if d.PaymentTermsDays != nil {
		snapshot.PaymentTermsDays = *d.PaymentTermsDays
	}
	return withDealDefaults(snapshot)
}

// DealEvaluation is the outcome for one deal of a simulation batch
type DealEvaluation struct {
	Index      int                 `json:"index"`
	Deal       models.DealSnapshot `json:"deal"`
	Passed     bool                `json:"passed"`
	Violations []Violation         `json:"violations"`
}

// SimulationSummary aggregates a simulation batch
type SimulationSummary struct {
	TotalDeals      int              `json:"total_deals"`
	PassedDeals     int              `json:"passed_deals"`
	FailedDeals     int              `json:"failed_deals"`
	PassRate        float64          `json:"pass_rate"`
	TotalViolations int              `json:"total_violations"`
	ViolationTypes  map[string]int   `json:"violation_types"`
	Results         []DealEvaluation `json:"results"`
}

// Simulate evaluates every test deal against the same active set.
// An empty batch has a pass rate of zero.
func Simulate(policies []*models.Policy, deals []TestDeal) *SimulationSummary {
	summary := &SimulationSummary{
		TotalDeals:     len(deals),
		ViolationTypes: make(map[string]int),
		Results:        make([]DealEvaluation, 0, len(deals)),
	}

	for i, deal := range deals {
		snapshot := deal.Snapshot()
		result := Evaluate(snapshot, policies)

		if result.Passed {
			summary.PassedDeals++
		} else {
			summary.FailedDeals++
		}
		summary.TotalViolations += len(result.Violations)
		for _, v := range result.Violations {
			summary.ViolationTypes[string(v.Type)]++
		}

		summary.Results = append(summary.Results, DealEvaluation{
			Index:      i,
			Deal:       snapshot,
			Passed:     result.Passed,
			Violations: result.Violations,
		})
	}

	if summary.TotalDeals > 0 {
		summary.PassRate = float64(summary.PassedDeals) / float64(summary.TotalDeals)
	}
	return summary
}
