package policy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
)

const (
	suggestAdjustPriority  = "adjust priority so evaluation order is explicit"
	suggestAlignDiscount   = "align discount limits"
	suggestAlignTerms      = "align payment terms limits"
	suggestAlignPriceFloor = "align price floor amounts"
	suggestAlignSLATargets = "align SLA touch rate targets"
)

// DetectConflicts compares policy against one active peer of the same type.
// Conflicts are advisory; an undecodable configuration yields no configuration conflict.
func DetectConflicts(policy, peer *models.Policy, now time.Time) []*models.PolicyConflict {
	if policy.ID == peer.ID || policy.PolicyType != peer.PolicyType {
		return nil
	}

	conflicts := make([]*models.PolicyConflict, 0)
	newConflict := func(conflictType models.ConflictType, severity models.Severity, description, suggestion string) {
		conflicts = append(conflicts, &models.PolicyConflict{
			ID:                   uuid.New(),
			Policy1ID:            policy.ID,
			Policy2ID:            peer.ID,
			ConflictType:         conflictType,
			Description:          description,
			Severity:             severity,
			ResolutionSuggestion: suggestion,
			CreatedAt:            now,
		})
	}

	if policy.Priority == peer.Priority {
		newConflict(models.ConflictTypePriority, models.SeverityMedium,
			fmt.Sprintf("policies %q and %q are both active with priority %d", policy.Name, peer.Name, policy.Priority),
			suggestAdjustPriority)
	}

	switch policy.PolicyType {
	case models.PolicyTypePricing:
		a, errA := models.DecodePricingConfig(policy.Configuration)
		b, errB := models.DecodePricingConfig(peer.Configuration)
		if errA != nil || errB != nil || a.DiscountGuardrails == nil || b.DiscountGuardrails == nil {
			break
		}
		if x, y, differ := floatsDiffer(a.DiscountGuardrails.DefaultMaxDiscountPercent, b.DiscountGuardrails.DefaultMaxDiscountPercent); differ {
			newConflict(models.ConflictTypeConfiguration, models.SeverityHigh,
				fmt.Sprintf("default max discount differs: %s%% in %q vs %s%% in %q", formatFloat(x), policy.Name, formatFloat(y), peer.Name),
				suggestAlignDiscount)
		}

	case models.PolicyTypeDiscount:
		a, errA := models.DecodeDiscountConfig(policy.Configuration)
		b, errB := models.DecodeDiscountConfig(peer.Configuration)
		if errA != nil || errB != nil {
			break
		}
		if x, y, differ := floatsDiffer(a.MaxDiscountPercent, b.MaxDiscountPercent); differ {
			newConflict(models.ConflictTypeConfiguration, models.SeverityHigh,
				fmt.Sprintf("max discount differs: %s%% in %q vs %s%% in %q", formatFloat(x), policy.Name, formatFloat(y), peer.Name),
				suggestAlignDiscount)
		}

	case models.PolicyTypePaymentTerms:
		a, errA := models.DecodePaymentTermsConfig(policy.Configuration)
		b, errB := models.DecodePaymentTermsConfig(peer.Configuration)
		if errA != nil || errB != nil || a.MaxTermsDays == nil || b.MaxTermsDays == nil {
			break
		}
		if *a.MaxTermsDays != *b.MaxTermsDays {
			newConflict(models.ConflictTypeConfiguration, models.SeverityHigh,
				fmt.Sprintf("max payment terms differ: %d days in %q vs %d days in %q", *a.MaxTermsDays, policy.Name, *b.MaxTermsDays, peer.Name),
				suggestAlignTerms)
		}

	case models.PolicyTypePriceFloor:
		a, errA := models.DecodePriceFloorConfig(policy.Configuration)
		b, errB := models.DecodePriceFloorConfig(peer.Configuration)
		if errA != nil || errB != nil || a.MinAmount == nil || b.MinAmount == nil {
			break
		}
		floorA := models.PriceFloor{MinAmount: a.MinAmount, Currency: a.Currency}
		floorB := models.PriceFloor{MinAmount: b.MinAmount, Currency: b.Currency}
		if floorA.EffectiveCurrency() == floorB.EffectiveCurrency() && !a.MinAmount.Equal(*b.MinAmount) {
			newConflict(models.ConflictTypeConfiguration, models.SeverityHigh,
				fmt.Sprintf("price floor differs: %s %s in %q vs %s %s in %q",
					a.MinAmount.StringFixed(2), floorA.EffectiveCurrency(), policy.Name,
					b.MinAmount.StringFixed(2), floorB.EffectiveCurrency(), peer.Name),
				suggestAlignPriceFloor)
		}

	case models.PolicyTypeSLA:
		a, errA := models.DecodeSLAConfig(policy.Configuration)
		b, errB := models.DecodeSLAConfig(peer.Configuration)
		if errA != nil || errB != nil {
			break
		}
		if x, y, differ := floatsDiffer(a.TouchRateTarget, b.TouchRateTarget); differ {
			newConflict(models.ConflictTypeConfiguration, models.SeverityLow,
				fmt.Sprintf("touch rate target differs: %s in %q vs %s in %q", formatFloat(x), policy.Name, formatFloat(y), peer.Name),
				suggestAlignSLATargets)
		}
	}

	return conflicts
}

// floatsDiffer reports whether two present values disagree
func floatsDiffer(a, b *float64) (float64, float64, bool) {
	if a == nil || b == nil {
		return 0, 0, false
	}
	return *a, *b, *a != *b
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
