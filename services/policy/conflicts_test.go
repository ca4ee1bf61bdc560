package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/deal-guardrails/models"
)

func TestDetectConflicts_Pricing(t *testing.T) {
	a := activePolicy("A", models.PolicyTypePricing, pricingConfig(25, "", 45, "0", "USD"), 10, baseTime)

	t.Run("equal priority", func(t *testing.T) {
		b := activePolicy("B", models.PolicyTypePricing, pricingConfig(25, "", 45, "0", "USD"), 10, baseTime)

		conflicts := DetectConflicts(a, b, baseTime)

		require.Len(t, conflicts, 1)
		c := conflicts[0]
		assert.Equal(t, models.ConflictTypePriority, c.ConflictType)
		assert.Equal(t, models.SeverityMedium, c.Severity)
		assert.Equal(t, a.ID, c.Policy1ID)
		assert.Equal(t, b.ID, c.Policy2ID)
		assert.Contains(t, c.ResolutionSuggestion, "adjust priority")
		assert.Equal(t, baseTime, c.CreatedAt)
		assert.True(t, c.IsOpen())
	})

	t.Run("different default discount", func(t *testing.T) {
		b := activePolicy("B", models.PolicyTypePricing, pricingConfig(30, "", 45, "0", "USD"), 5, baseTime)

		conflicts := DetectConflicts(a, b, baseTime)

		require.Len(t, conflicts, 1)
		assert.Equal(t, models.ConflictTypeConfiguration, conflicts[0].ConflictType)
		assert.Equal(t, models.SeverityHigh, conflicts[0].Severity)
		assert.Equal(t, "align discount limits", conflicts[0].ResolutionSuggestion)
	})

	t.Run("both at once", func(t *testing.T) {
		b := activePolicy("B", models.PolicyTypePricing, pricingConfig(30, "", 45, "0", "USD"), 10, baseTime)

		conflicts := DetectConflicts(a, b, baseTime)

		require.Len(t, conflicts, 2)
		assert.Equal(t, models.ConflictTypePriority, conflicts[0].ConflictType)
		assert.Equal(t, models.ConflictTypeConfiguration, conflicts[1].ConflictType)
	})

	t.Run("no conflict", func(t *testing.T) {
		b := activePolicy("B", models.PolicyTypePricing, pricingConfig(25, "", 30, "100", "USD"), 3, baseTime)
		assert.Empty(t, DetectConflicts(a, b, baseTime))
	})

	t.Run("undecodable peer only yields priority conflict", func(t *testing.T) {
		b := activePolicy("B", models.PolicyTypePricing, json.RawMessage(`{"discount_guardrails": 7}`), 10, baseTime)

		conflicts := DetectConflicts(a, b, baseTime)

		require.Len(t, conflicts, 1)
		assert.Equal(t, models.ConflictTypePriority, conflicts[0].ConflictType)
	})
}

func TestDetectConflicts_IgnoresSelfAndOtherTypes(t *testing.T) {
	a := activePolicy("A", models.PolicyTypePricing, pricingConfig(25, "", 45, "0", "USD"), 10, baseTime)
	sla := activePolicy("SLA", models.PolicyTypeSLA, json.RawMessage(`{"touch_rate_target": 0.5, "response_time_threshold": 1}`), 10, baseTime)

	assert.Empty(t, DetectConflicts(a, a, baseTime))
	assert.Empty(t, DetectConflicts(a, sla, baseTime))
}

func TestDetectConflicts_OtherTypes(t *testing.T) {
	tests := []struct {
		name       string
		policyType models.PolicyType
		a, b       string
		severity   models.Severity
		conflict   bool
	}{
		{
			name:       "discount limits differ",
			policyType: models.PolicyTypeDiscount,
			a:          `{"max_discount_percent": 10, "risk_overrides": {}}`,
			b:          `{"max_discount_percent": 20, "risk_overrides": {}}`,
			severity:   models.SeverityHigh,
			conflict:   true,
		},
		{
			name:       "payment terms differ",
			policyType: models.PolicyTypePaymentTerms,
			a:          `{"max_terms_days": 30}`,
			b:          `{"max_terms_days": 60}`,
			severity:   models.SeverityHigh,
			conflict:   true,
		},
		{
			name:       "payment terms differ with decimal literal",
			policyType: models.PolicyTypePaymentTerms,
			a:          `{"max_terms_days": 30.0}`,
			b:          `{"max_terms_days": 60}`,
			severity:   models.SeverityHigh,
			conflict:   true,
		},
		{
			name:       "equal payment terms written differently",
			policyType: models.PolicyTypePaymentTerms,
			a:          `{"max_terms_days": 30.0}`,
			b:          `{"max_terms_days": 30}`,
		},
		{
			name:       "price floors differ in the same currency",
			policyType: models.PolicyTypePriceFloor,
			a:          `{"min_amount": "1000"}`,
			b:          `{"min_amount": 2000, "currency": "USD"}`,
			severity:   models.SeverityHigh,
			conflict:   true,
		},
		{
			name:       "price floors in different currencies",
			policyType: models.PolicyTypePriceFloor,
			a:          `{"min_amount": 1000, "currency": "EUR"}`,
			b:          `{"min_amount": 2000, "currency": "USD"}`,
		},
		{
			name:       "equal price floors written differently",
			policyType: models.PolicyTypePriceFloor,
			a:          `{"min_amount": "1000.00"}`,
			b:          `{"min_amount": 1000}`,
		},
		{
			name:       "sla targets differ",
			policyType: models.PolicyTypeSLA,
			a:          `{"touch_rate_target": 0.8, "response_time_threshold": 4}`,
			b:          `{"touch_rate_target": 0.9, "response_time_threshold": 4}`,
			severity:   models.SeverityLow,
			conflict:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := activePolicy("A", tt.policyType, json.RawMessage(tt.a), 1, baseTime)
			b := activePolicy("B", tt.policyType, json.RawMessage(tt.b), 2, baseTime)

			conflicts := DetectConflicts(a, b, baseTime)

			if !tt.conflict {
				assert.Empty(t, conflicts)
				return
			}
			require.Len(t, conflicts, 1)
			assert.Equal(t, models.ConflictTypeConfiguration, conflicts[0].ConflictType)
			assert.Equal(t, tt.severity, conflicts[0].Severity)
		})
	}
}
