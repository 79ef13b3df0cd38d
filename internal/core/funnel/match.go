package funnel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Property filter operators.
const (
	OpExact        = "exact"
	OpIsNot        = "is_not"
	OpIContains    = "icontains"
	OpNotIContains = "not_icontains"
	OpRegex        = "regex"
	OpNotRegex     = "not_regex"
	OpIsSet        = "is_set"
	OpIsNotSet     = "is_not_set"
	OpGreaterThan  = "gt"
	OpLessThan     = "lt"
)

// PropertyFilter is one predicate over an event's property bag.
// Multi-valued operators (exact, is_not, icontains, regex) treat Values as an
// OR-set; gt/lt use Values[0] as the numeric bound.
type PropertyFilter struct {
	Key      string   `json:"key"`
	Operator string   `json:"operator"`
	Values   []string `json:"values,omitempty"`
}

func (f PropertyFilter) validate() error {
	if f.Key == "" {
		return fmt.Errorf("property filter key must not be empty")
	}
	switch f.Operator {
	case OpIsSet, OpIsNotSet:
		return nil
	case OpExact, OpIsNot, OpIContains, OpNotIContains, OpRegex, OpNotRegex:
		if len(f.Values) == 0 {
			return fmt.Errorf("property filter %q (%s) requires at least one value", f.Key, f.Operator)
		}
		if f.Operator == OpRegex || f.Operator == OpNotRegex {
			for _, v := range f.Values {
				if _, err := regexp.Compile(v); err != nil {
					return fmt.Errorf("property filter %q: invalid regex %q: %w", f.Key, v, err)
				}
			}
		}
		return nil
	case OpGreaterThan, OpLessThan:
		if len(f.Values) != 1 {
			return fmt.Errorf("property filter %q (%s) requires exactly one value", f.Key, f.Operator)
		}
		if _, err := strconv.ParseFloat(f.Values[0], 64); err != nil {
			return fmt.Errorf("property filter %q: non-numeric bound %q", f.Key, f.Values[0])
		}
		return nil
	default:
		return fmt.Errorf("unsupported property filter operator %q", f.Operator)
	}
}

// Match evaluates the filter against a property bag. Pure.
func (f PropertyFilter) Match(props map[string]interface{}) bool {
	raw, set := props[f.Key]
	if set && raw == nil {
		set = false
	}

	switch f.Operator {
	case OpIsSet:
		return set
	case OpIsNotSet:
		return !set
	}
	if !set {
		// Negated operators hold vacuously on unset properties.
		return f.Operator == OpIsNot || f.Operator == OpNotIContains || f.Operator == OpNotRegex
	}

	val := coerceString(raw)
	switch f.Operator {
	case OpExact:
		return containsString(f.Values, val)
	case OpIsNot:
		return !containsString(f.Values, val)
	case OpIContains:
		return anyFold(f.Values, val, strings.Contains)
	case OpNotIContains:
		return !anyFold(f.Values, val, strings.Contains)
	case OpRegex:
		return anyRegex(f.Values, val)
	case OpNotRegex:
		return !anyRegex(f.Values, val)
	case OpGreaterThan, OpLessThan:
		num, ok := coerceFloat(raw)
		if !ok {
			return false
		}
		bound, err := strconv.ParseFloat(f.Values[0], 64)
		if err != nil {
			return false
		}
		if f.Operator == OpGreaterThan {
			return num > bound
		}
		return num < bound
	default:
		return false
	}
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func anyFold(values []string, v string, pred func(s, substr string) bool) bool {
	lower := strings.ToLower(v)
	for _, candidate := range values {
		if pred(lower, strings.ToLower(candidate)) {
			return true
		}
	}
	return false
}

func anyRegex(patterns []string, v string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue // rejected at spec validation; unreachable for validated specs
		}
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// coerceString renders a JSON-decoded property value for comparison.
// Numbers drop trailing zeros so 95 and 95.0 compare equal.
func coerceString(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		num, err := strconv.ParseFloat(v, 64)
		return num, err == nil
	default:
		return 0, false
	}
}

// matchStep reports whether a row satisfies one step's predicate:
// event name match AND all property filters.
func matchStep(row Row, step StepSpec) bool {
	if row.Name != step.Event {
		return false
	}
	for _, f := range step.Properties {
		if !f.Match(row.Properties) {
			return false
		}
	}
	return true
}

// matchExclusion reports whether a row satisfies an exclusion's predicate.
func matchExclusion(row Row, ex ExclusionSpec) bool {
	if row.Name != ex.Event {
		return false
	}
	for _, f := range ex.Properties {
		if !f.Match(row.Properties) {
			return false
		}
	}
	return true
}

// samePredicate reports whether two steps share an identical predicate.
// Consecutive identical steps get the stricter duplicate-event handling in
// the sequence resolver (the same event row must not satisfy both).
func samePredicate(a, b StepSpec) bool {
	if a.Event != b.Event || len(a.Properties) != len(b.Properties) {
		return false
	}
	for i := range a.Properties {
		pa, pb := a.Properties[i], b.Properties[i]
		if pa.Key != pb.Key || pa.Operator != pb.Operator || len(pa.Values) != len(pb.Values) {
			return false
		}
		for j := range pa.Values {
			if pa.Values[j] != pb.Values[j] {
				return false
			}
		}
	}
	return true
}
