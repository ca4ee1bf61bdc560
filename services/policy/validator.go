package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/upb/deal-guardrails/models"
)

// ValidateConfiguration checks a raw configuration against the rules of its policy type.
// An empty result means the configuration is valid. Errors are reported in a fixed
// field order so repeated calls on the same input return the same list.
func ValidateConfiguration(policyType models.PolicyType, raw json.RawMessage) []string {
	if !policyType.IsValid() {
		return []string{fmt.Sprintf("unknown policy type %q", policyType)}
	}

	obj, err := decodeObject(raw)
	if err != nil {
		return []string{"configuration must be a JSON object"}
	}

	v := &configValidator{}
	switch policyType {
	case models.PolicyTypePricing:
		v.percent(obj, "discount_guardrails", "default_max_discount_percent")
		v.riskOverrides(obj, true, "discount_guardrails", "risk_overrides")
		v.positiveInt(obj, "payment_terms_guardrails", "max_terms_days")
		v.nonNegativeAmount(obj, "price_floor", "min_amount")
		v.currency(obj, "price_floor", "currency")
	case models.PolicyTypeDiscount:
		v.percent(obj, "max_discount_percent")
		if v.requireObject(obj, "risk_overrides") {
			v.riskOverrides(obj, false, "risk_overrides")
		}
	case models.PolicyTypePaymentTerms:
		v.positiveInt(obj, "max_terms_days")
	case models.PolicyTypePriceFloor:
		v.nonNegativeAmount(obj, "min_amount")
		v.currency(obj, "currency")
	case models.PolicyTypeSLA:
		v.fraction(obj, "touch_rate_target")
		v.positive(obj, "response_time_threshold")
	}
	return v.errors
}

// decodeObject decodes raw into a generic object keeping numbers exact
func decodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("configuration is null")
	}
	return obj, nil
}

type configValidator struct {
	errors []string
}

func (v *configValidator) addf(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

// lookup walks path through nested objects
func lookup(obj map[string]interface{}, path ...string) (interface{}, bool) {
	var current interface{} = obj
	for _, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// number looks up a required numeric field, recording an error when it is missing or not a number
func (v *configValidator) number(obj map[string]interface{}, path ...string) (decimal.Decimal, bool) {
	field := strings.Join(path, ".")
	value, ok := lookup(obj, path...)
	if !ok || value == nil {
		v.addf("%s is required", field)
		return decimal.Zero, false
	}
	n, ok := value.(json.Number)
	if !ok {
		v.addf("%s must be a number", field)
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		v.addf("%s must be a number", field)
		return decimal.Zero, false
	}
	return d, true
}

func (v *configValidator) percent(obj map[string]interface{}, path ...string) {
	if d, ok := v.number(obj, path...); ok && !inRange(d, 0, 100) {
		v.addf("%s must be between 0 and 100", strings.Join(path, "."))
	}
}

func (v *configValidator) fraction(obj map[string]interface{}, path ...string) {
	if d, ok := v.number(obj, path...); ok && !inRange(d, 0, 1) {
		v.addf("%s must be between 0 and 1", strings.Join(path, "."))
	}
}

func (v *configValidator) positive(obj map[string]interface{}, path ...string) {
	if d, ok := v.number(obj, path...); ok && !d.IsPositive() {
		v.addf("%s must be greater than 0", strings.Join(path, "."))
	}
}

func (v *configValidator) positiveInt(obj map[string]interface{}, path ...string) {
	d, ok := v.number(obj, path...)
	if !ok {
		return
	}
	field := strings.Join(path, ".")
	switch {
	case !d.IsInteger():
		v.addf("%s must be a whole number of days", field)
	case !d.IsPositive():
		v.addf("%s must be greater than 0", field)
	}
}

// nonNegativeAmount accepts a money amount given as a JSON number or a decimal string
func (v *configValidator) nonNegativeAmount(obj map[string]interface{}, path ...string) {
	field := strings.Join(path, ".")
	value, ok := lookup(obj, path...)
	if !ok || value == nil {
		v.addf("%s is required", field)
		return
	}

	var text string
	switch val := value.(type) {
	case json.Number:
		text = val.String()
	case string:
		text = val
	default:
		v.addf("%s must be a number", field)
		return
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		v.addf("%s must be a number", field)
		return
	}
	if d.IsNegative() {
		v.addf("%s must be greater than or equal to 0", field)
	}
}

// currency checks an optional ISO-style currency code
func (v *configValidator) currency(obj map[string]interface{}, path ...string) {
	value, ok := lookup(obj, path...)
	if !ok || value == nil {
		return
	}
	code, ok := value.(string)
	if !ok || len(code) != 3 || strings.ToUpper(code) != code {
		v.addf("%s must be a three-letter upper-case currency code", strings.Join(path, "."))
	}
}

func (v *configValidator) requireObject(obj map[string]interface{}, path ...string) bool {
	field := strings.Join(path, ".")
	value, ok := lookup(obj, path...)
	if !ok || value == nil {
		v.addf("%s is required", field)
		return false
	}
	if _, ok := value.(map[string]interface{}); !ok {
		v.addf("%s must be an object", field)
		return false
	}
	return true
}

// riskOverrides checks an optional map of risk tier to discount percent.
// Keys are visited in sorted order.
func (v *configValidator) riskOverrides(obj map[string]interface{}, knownTiersOnly bool, path ...string) {
	field := strings.Join(path, ".")
	value, ok := lookup(obj, path...)
	if !ok || value == nil {
		return
	}
	overrides, ok := value.(map[string]interface{})
	if !ok {
		v.addf("%s must be an object", field)
		return
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if knownTiersOnly && !models.RiskTier(key).IsValid() {
			v.addf("%s.%s is not a known risk tier", field, key)
			continue
		}
		n, ok := overrides[key].(json.Number)
		if !ok {
			v.addf("%s.%s must be a number", field, key)
			continue
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			v.addf("%s.%s must be a number", field, key)
			continue
		}
		if !inRange(d, 0, 100) {
			v.addf("%s.%s must be between 0 and 100", field, key)
		}
	}
}

func inRange(d decimal.Decimal, low, high int64) bool {
	return d.GreaterThanOrEqual(decimal.NewFromInt(low)) && d.LessThanOrEqual(decimal.NewFromInt(high))
}
