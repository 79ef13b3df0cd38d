package funnel

import (
	"sort"
	"strings"
)

// breakdownValue reads the displayed breakdown value from a property bag.
//
// Single-property breakdowns coerce scalars to strings (95 and "95" segment
// together). Multi-property breakdowns require every set component to be a
// string — anything else makes the joined value ambiguous and is fatal.
// Missing components render as the empty string; a value with no set
// component at all collapses to "".
func breakdownValue(props map[string]interface{}, keys []string) (string, error) {
	if len(keys) == 1 {
		raw, ok := props[keys[0]]
		if !ok || raw == nil {
			return "", nil
		}
		return coerceString(raw), nil
	}

	parts := make([]string, len(keys))
	any := false
	for i, key := range keys {
		raw, ok := props[key]
		if !ok || raw == nil {
			continue
		}
		s, isString := raw.(string)
		if !isString {
			return "", ErrAmbiguousBreakdown
		}
		parts[i] = s
		if s != "" {
			any = true
		}
	}
	if !any {
		return "", nil
	}
	return strings.Join(parts, MultiPropertySeparator), nil
}

// RankedBreakdownValues returns the distinct attributed breakdown values
// ranked by funnel entrance count descending, ties broken lexicographically.
// This is the pre-bucketing order used to decide which values survive the
// breakdown limit.
func RankedBreakdownValues(results []ActorResult) []string {
	entrances := make(map[string]int64)
	for _, r := range results {
		if r.Reached(0) {
			entrances[r.Breakdown]++
		} else if _, ok := entrances[r.Breakdown]; !ok {
			entrances[r.Breakdown] = 0
		}
	}
	values := make([]string, 0, len(entrances))
	for v := range entrances {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if entrances[values[i]] != entrances[values[j]] {
			return entrances[values[i]] > entrances[values[j]]
		}
		return values[i] < values[j]
	})
	return values
}

// ApplyBreakdownLimit collapses every value ranked below the breakdown limit
// into the synthetic OtherBucket. Cohort breakdowns are exempt: every cohort
// id is shown. Returns the input untouched when no collapsing applies.
func ApplyBreakdownLimit(spec *QuerySpec, results []ActorResult) []ActorResult {
	b := spec.Breakdown
	if b == nil || b.IsCohort() || b.Limit <= 0 {
		return results
	}

	ranked := RankedBreakdownValues(results)
	if len(ranked) <= b.Limit {
		return results
	}

	kept := make(map[string]bool, b.Limit)
	for _, v := range ranked[:b.Limit] {
		kept[v] = true
	}

	out := make([]ActorResult, len(results))
	for i, r := range results {
		if !kept[r.Breakdown] {
			r.Breakdown = OtherBucket
		}
		out[i] = r
	}
	return out
}
