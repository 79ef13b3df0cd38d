package funnel

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects the shape of the engine output.
const (
	// ModeSteps produces one aggregate row per funnel step.
	ModeSteps = "steps"
	// ModeTrends produces one row per entrance period with conversion rates.
	ModeTrends = "trends"
)

// Attribution policies for breakdown values.
// See BreakdownSpec for how each policy credits a value to an actor.
const (
	AttributionFirstTouch = "first_touch"
	AttributionLastTouch  = "last_touch"
	AttributionAllEvents  = "all_events"
	AttributionStep       = "step"
)

// OtherBucket is the synthetic breakdown value that collects every value
// ranked below the configured breakdown limit.
const OtherBucket = "Other"

// MultiPropertySeparator joins the component values of a multi-property
// breakdown into a single displayed value (e.g. "Chrome::95").
const MultiPropertySeparator = "::"

// StepSpec defines one stage of the funnel sequence.
// Step indices are contiguous from 0 and match the slice position in QuerySpec.Steps.
type StepSpec struct {
	Index      int              `json:"index"`
	Event      string           `json:"event"`
	Properties []PropertyFilter `json:"properties,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// Label returns the display name of the step: the custom name when set,
// otherwise the event name.
func (s StepSpec) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Event
}

// ExclusionSpec invalidates a conversion when the excluded event occurs
// strictly between the latest-matched timestamps of FromStep and ToStep
// (or FromStep + window, when ToStep never matched).
type ExclusionSpec struct {
	Event      string           `json:"event"`
	Properties []PropertyFilter `json:"properties,omitempty"`
	FromStep   int              `json:"from_step"`
	ToStep     int              `json:"to_step"`
}

// BreakdownSpec segments funnel results by a property value or cohort
// membership. Exactly one of Properties or Cohorts is set.
type BreakdownSpec struct {
	// Properties lists the breakdown property keys. More than one key is a
	// multi-property breakdown: component values join with MultiPropertySeparator.
	Properties []string `json:"properties,omitempty"`

	// Cohorts lists cohort ids. Cohort breakdowns never collapse into "Other".
	Cohorts []string `json:"cohorts,omitempty"`

	// Attribution decides which value(s) are credited to an actor.
	Attribution string `json:"attribution"`

	// AttributionStep is the step index read when Attribution == AttributionStep.
	AttributionStep int `json:"attribution_step,omitempty"`

	// Limit caps the number of distinct displayed values; the rest collapse
	// into OtherBucket. 0 means no limit.
	Limit int `json:"limit,omitempty"`
}

// IsCohort reports whether this breakdown segments by cohort membership.
func (b *BreakdownSpec) IsCohort() bool {
	return len(b.Cohorts) > 0
}

// QuerySpec is the full declarative description of one funnel analysis run.
// All derived state is request-scoped; a spec is never mutated by the engine.
type QuerySpec struct {
	Steps      []StepSpec      `json:"steps"`
	Window     WindowSpec      `json:"window"`
	Exclusions []ExclusionSpec `json:"exclusions,omitempty"`
	Breakdown  *BreakdownSpec  `json:"breakdown,omitempty"`

	DateFrom time.Time `json:"date_from"`
	DateTo   time.Time `json:"date_to"`

	Mode string `json:"mode"`

	// Trends mode only.
	Interval string `json:"interval,omitempty"`  // entrance period truncation unit
	FromStep int    `json:"from_step,omitempty"` // conversion numerator endpoint
	ToStep   int    `json:"to_step,omitempty"`   // conversion denominator endpoint

	// SamplingFactor in (0,1] rescales count aggregates. 0 means unsampled.
	SamplingFactor float64 `json:"sampling_factor,omitempty"`
}

// Validate checks the spec against the fatal error taxonomy.
// Invalid specs are rejected before any computation; nothing is clamped.
func (q *QuerySpec) Validate() error {
	if len(q.Steps) < 2 {
		return specErrorf("steps", "funnel requires at least 2 steps, got %d", len(q.Steps))
	}
	for i, s := range q.Steps {
		if s.Index != i {
			return specErrorf("steps", "step indices must be contiguous from 0: step at position %d has index %d", i, s.Index)
		}
		if s.Event == "" {
			return specErrorf("steps", "step %d: event must not be empty", i)
		}
		for _, f := range s.Properties {
			if err := f.validate(); err != nil {
				return specErrorf("steps", "step %d: %v", i, err)
			}
		}
	}

	if err := q.Window.validate(); err != nil {
		return specErrorf("window", "%v", err)
	}

	n := len(q.Steps)
	for i, ex := range q.Exclusions {
		if ex.Event == "" {
			return specErrorf("exclusions", "exclusion %d: event must not be empty", i)
		}
		if ex.FromStep < 0 || ex.FromStep > n-2 {
			return specErrorf("exclusions", "exclusion %d: from_step %d out of range [0,%d]", i, ex.FromStep, n-2)
		}
		if ex.ToStep < 1 || ex.ToStep > n-1 {
			return specErrorf("exclusions", "exclusion %d: to_step %d out of range [1,%d]", i, ex.ToStep, n-1)
		}
		if ex.FromStep >= ex.ToStep {
			return specErrorf("exclusions", "exclusion %d: from_step %d must be < to_step %d", i, ex.FromStep, ex.ToStep)
		}
		for _, s := range q.Steps {
			if s.Event == ex.Event {
				return specErrorf("exclusions", "exclusion %d: event %q is also funnel step %d", i, ex.Event, s.Index)
			}
		}
	}

	if q.Breakdown != nil {
		if err := q.Breakdown.validate(n); err != nil {
			return err
		}
	}

	if q.DateFrom.IsZero() || q.DateTo.IsZero() {
		return specErrorf("dates", "date_from and date_to are required")
	}
	if !q.DateFrom.Before(q.DateTo) {
		return specErrorf("dates", "date_from must be before date_to")
	}

	switch q.Mode {
	case ModeSteps:
	case ModeTrends:
		switch q.Interval {
		case UnitHour, UnitDay, UnitWeek, UnitMonth:
		default:
			return specErrorf("interval", "unsupported trends interval %q", q.Interval)
		}
		if q.FromStep < 0 || q.FromStep > n-2 {
			return specErrorf("from_step", "from_step %d out of range [0,%d]", q.FromStep, n-2)
		}
		if q.ToStep < 1 || q.ToStep > n-1 {
			return specErrorf("to_step", "to_step %d out of range [1,%d]", q.ToStep, n-1)
		}
		if q.FromStep >= q.ToStep {
			return specErrorf("to_step", "from_step %d must be < to_step %d", q.FromStep, q.ToStep)
		}
	default:
		return specErrorf("mode", "unsupported mode %q", q.Mode)
	}

	if q.SamplingFactor < 0 || q.SamplingFactor > 1 {
		return specErrorf("sampling_factor", "sampling_factor %v out of range (0,1]", q.SamplingFactor)
	}

	return nil
}

func (b *BreakdownSpec) validate(stepCount int) error {
	if len(b.Properties) == 0 && len(b.Cohorts) == 0 {
		return specErrorf("breakdown", "breakdown requires properties or cohorts")
	}
	if len(b.Properties) > 0 && len(b.Cohorts) > 0 {
		return specErrorf("breakdown", "breakdown properties and cohorts are mutually exclusive")
	}
	switch b.Attribution {
	case AttributionFirstTouch, AttributionLastTouch, AttributionAllEvents:
	case AttributionStep:
		if b.AttributionStep < 0 || b.AttributionStep >= stepCount {
			return specErrorf("breakdown", "attribution_step %d out of range [0,%d]", b.AttributionStep, stepCount-1)
		}
	default:
		return specErrorf("breakdown", "unsupported attribution %q", b.Attribution)
	}
	if b.Limit < 0 {
		return specErrorf("breakdown", "limit must be >= 0")
	}
	return nil
}

// EventNames returns the deduplicated union of step and exclusion event
// names, in first-seen order. Storage uses it to push down the name filter.
func (q *QuerySpec) EventNames() []string {
	seen := make(map[string]bool, len(q.Steps)+len(q.Exclusions))
	names := make([]string, 0, len(q.Steps)+len(q.Exclusions))
	for _, s := range q.Steps {
		if !seen[s.Event] {
			seen[s.Event] = true
			names = append(names, s.Event)
		}
	}
	for _, ex := range q.Exclusions {
		if !seen[ex.Event] {
			seen[ex.Event] = true
			names = append(names, ex.Event)
		}
	}
	return names
}

// Fingerprint returns a stable SHA-256 hex digest of the spec.
// Used as the key for request-scoped caches (e.g. breakdown value discovery).
func (q *QuerySpec) Fingerprint() string {
	raw, err := json.Marshal(q)
	if err != nil {
		// QuerySpec contains only marshalable fields; treat failure as a bug.
		panic(fmt.Sprintf("funnel: marshal spec for fingerprint: %v", err))
	}
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}
