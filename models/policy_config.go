package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed wherever a configuration or deal omits its currency
const DefaultCurrency = "USD"

// ErrIncompleteConfiguration is returned when a decoded configuration lacks a section needed for evaluation
var ErrIncompleteConfiguration = errors.New("incomplete policy configuration")

// DiscountGuardrails holds the discount section of a pricing configuration
type DiscountGuardrails struct {
	DefaultMaxDiscountPercent *float64             `json:"default_max_discount_percent"`
	RiskOverrides             map[RiskTier]float64 `json:"risk_overrides,omitempty"`
}

// Days is a whole number of days. It decodes from any JSON number with no fractional
// part, so 30 and 30.0 are the same limit.
type Days int

// UnmarshalJSON implements json.Unmarshaler
func (d *Days) UnmarshalJSON(data []byte) error {
	n, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("days must be a number, got %s", data)
	}
	if !n.IsInteger() {
		return fmt.Errorf("days must be a whole number, got %s", data)
	}
	*d = Days(n.IntPart())
	return nil
}

// PaymentTermsGuardrails holds the payment terms section of a pricing configuration
type PaymentTermsGuardrails struct {
	MaxTermsDays *Days `json:"max_terms_days"`
}

// PriceFloor holds a minimum deal amount in a currency
type PriceFloor struct {
	MinAmount *decimal.Decimal `json:"min_amount"`
	Currency  string           `json:"currency,omitempty"`
}

// EffectiveCurrency returns the floor currency, defaulting to DefaultCurrency
func (f PriceFloor) EffectiveCurrency() string {
	if f.Currency == "" {
		return DefaultCurrency
	}
	return f.Currency
}

// PricingConfig represents the configuration of a pricing policy
type PricingConfig struct {
	DiscountGuardrails     *DiscountGuardrails     `json:"discount_guardrails"`
	PaymentTermsGuardrails *PaymentTermsGuardrails `json:"payment_terms_guardrails"`
	PriceFloor             *PriceFloor             `json:"price_floor"`
}

// DiscountLimitFor returns the discount ceiling that applies to a deal of the given risk tier
func (c *PricingConfig) DiscountLimitFor(risk RiskTier) float64 {
	if limit, ok := c.DiscountGuardrails.RiskOverrides[risk]; ok {
		return limit
	}
	return *c.DiscountGuardrails.DefaultMaxDiscountPercent
}

// Complete reports whether every section the evaluator reads is present
func (c *PricingConfig) Complete() error {
	switch {
	case c.DiscountGuardrails == nil || c.DiscountGuardrails.DefaultMaxDiscountPercent == nil:
		return fmt.Errorf("%w: discount_guardrails.default_max_discount_percent", ErrIncompleteConfiguration)
	case c.PriceFloor == nil || c.PriceFloor.MinAmount == nil:
		return fmt.Errorf("%w: price_floor.min_amount", ErrIncompleteConfiguration)
	case c.PaymentTermsGuardrails == nil || c.PaymentTermsGuardrails.MaxTermsDays == nil:
		return fmt.Errorf("%w: payment_terms_guardrails.max_terms_days", ErrIncompleteConfiguration)
	}
	return nil
}

// DiscountConfig represents the configuration of a discount policy
type DiscountConfig struct {
	MaxDiscountPercent *float64           `json:"max_discount_percent"`
	RiskOverrides      map[string]float64 `json:"risk_overrides"`
}

// PaymentTermsConfig represents the configuration of a payment terms policy
type PaymentTermsConfig struct {
	MaxTermsDays *Days `json:"max_terms_days"`
}

// PriceFloorConfig represents the configuration of a price floor policy
type PriceFloorConfig struct {
	MinAmount *decimal.Decimal `json:"min_amount"`
	Currency  string           `json:"currency,omitempty"`
}

// SLAConfig represents the configuration of an SLA policy
type SLAConfig struct {
	TouchRateTarget       *float64 `json:"touch_rate_target"`
	ResponseTimeThreshold *float64 `json:"response_time_threshold"`
}

// DecodePricingConfig decodes a raw pricing configuration
func DecodePricingConfig(raw json.RawMessage) (*PricingConfig, error) {
	var cfg PricingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode pricing configuration: %w", err)
	}
	return &cfg, nil
}

// DecodeDiscountConfig decodes a raw discount configuration
func DecodeDiscountConfig(raw json.RawMessage) (*DiscountConfig, error) {
	var cfg DiscountConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode discount configuration: %w", err)
	}
	return &cfg, nil
}

// DecodePaymentTermsConfig decodes a raw payment terms configuration
func DecodePaymentTermsConfig(raw json.RawMessage) (*PaymentTermsConfig, error) {
	var cfg PaymentTermsConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode payment terms configuration: %w", err)
	}
	return &cfg, nil
}

// DecodePriceFloorConfig decodes a raw price floor configuration
func DecodePriceFloorConfig(raw json.RawMessage) (*PriceFloorConfig, error) {
	var cfg PriceFloorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode price floor configuration: %w", err)
	}
	return &cfg, nil
}

// DecodeSLAConfig decodes a raw SLA configuration
func DecodeSLAConfig(raw json.RawMessage) (*SLAConfig, error) {
	var cfg SLAConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode SLA configuration: %w", err)
	}
	return &cfg, nil
}
