package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/deal-guardrails/models"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestTestDeal_SnapshotDefaults(t *testing.T) {
	snapshot := TestDeal{}.Snapshot()

	assert.True(t, snapshot.Amount.IsZero())
	assert.Equal(t, "USD", snapshot.Currency)
	assert.Equal(t, models.RiskMedium, snapshot.Risk)
	assert.Zero(t, snapshot.DiscountPercent)
	assert.Zero(t, snapshot.PaymentTermsDays)

	amount := decimal.RequireFromString("1200.50")
	snapshot = TestDeal{
		Amount:           &amount,
		Currency:         "EUR",
		DiscountPercent:  floatPtr(12.5),
		PaymentTermsDays: intPtr(30),
		Risk:             models.RiskHigh,
	}.Snapshot()
	assert.True(t, snapshot.Amount.Equal(amount))
	assert.Equal(t, "EUR", snapshot.Currency)
	assert.Equal(t, 12.5, snapshot.DiscountPercent)
	assert.Equal(t, 30, snapshot.PaymentTermsDays)
	assert.Equal(t, models.RiskHigh, snapshot.Risk)
}

func TestSimulate_Summary(t *testing.T) {
	policy := activePolicy("Standard", models.PolicyTypePricing, pricingConfig(20, "", 60, "0", "USD"), 10, baseTime)

	deals := []TestDeal{
		{DiscountPercent: floatPtr(5)},
		{DiscountPercent: floatPtr(15)},
		{DiscountPercent: floatPtr(35)},
	}

	summary := Simulate([]*models.Policy{policy}, deals)

	assert.Equal(t, 3, summary.TotalDeals)
	assert.Equal(t, 2, summary.PassedDeals)
	assert.Equal(t, 1, summary.FailedDeals)
	assert.InDelta(t, 2.0/3.0, summary.PassRate, 1e-9)
	assert.Equal(t, 1, summary.TotalViolations)
	assert.Equal(t, map[string]int{"discount_limit": 1}, summary.ViolationTypes)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, 2, summary.Results[2].Index)
	assert.False(t, summary.Results[2].Passed)
	assert.Equal(t, "USD", summary.Results[2].Deal.Currency)
}

func TestSimulate_EmptyBatch(t *testing.T) {
	summary := Simulate(nil, nil)

	assert.Equal(t, 0, summary.TotalDeals)
	assert.Equal(t, 0.0, summary.PassRate)
	assert.NotNil(t, summary.ViolationTypes)
	assert.NotNil(t, summary.Results)
}

func TestSimulate_CountsViolationsAcrossPolicies(t *testing.T) {
	strict := activePolicy("Strict", models.PolicyTypePricing, pricingConfig(5, "", 30, "0", "USD"), 10, baseTime)
	floor := activePolicy("Floor", models.PolicyTypePricing, pricingConfig(50, "", 90, "1000", "USD"), 5, baseTime)
	amount := decimal.NewFromInt(10)

	summary := Simulate([]*models.Policy{strict, floor}, []TestDeal{
		{Amount: &amount, DiscountPercent: floatPtr(10)},
	})

	assert.Equal(t, 1, summary.FailedDeals)
	assert.Equal(t, 2, summary.TotalViolations)
	assert.Equal(t, map[string]int{"discount_limit": 1, "price_floor": 1}, summary.ViolationTypes)
}
