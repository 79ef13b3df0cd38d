package funnel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Row is one time-ordered event observation for an actor, already filtered
// to the funnel's relevant event names and date range by storage.
type Row struct {
	ActorID    string
	Timestamp  time.Time
	Name       string
	Properties map[string]interface{}
}

// ActorResult is the collapsed outcome of one actor's walk through the
// funnel, optionally scoped to a single breakdown value.
type ActorResult struct {
	ActorID string

	// Breakdown is the attributed segmentation value ("" when the query has
	// no breakdown, or when attribution found no value).
	Breakdown string

	// StepsCompleted is the length of the longest valid, correctly
	// time-ordered prefix of steps, in 0..N.
	StepsCompleted int

	// EntranceAt is the step-0 timestamp of the winning conversion attempt.
	// Zero when StepsCompleted == 0.
	EntranceAt time.Time

	// ConversionSeconds[i] is latest_i - latest_{i-1} in seconds for each
	// step i >= 1 along the valid prefix; nil when step i was not reached.
	// Index 0 is always nil (step 0 has no predecessor).
	ConversionSeconds []*float64
}

// Reached reports whether the actor completed at least step (0-based).
func (r ActorResult) Reached(step int) bool {
	return r.StepsCompleted >= step+1
}

// StepResult is one aggregate output row in steps mode.
type StepResult struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Breakdown string `json:"breakdown,omitempty"`

	// Count of actors whose valid prefix reached this step,
	// sampling-corrected when the query was sampled.
	Count int64 `json:"count"`

	// Conversion time in seconds from the previous step, across all actors
	// that reached this step. Nil for step 0 and for steps nobody converted to.
	AverageConversionSeconds *decimal.Decimal `json:"average_conversion_time,omitempty"`
	MedianConversionSeconds  *decimal.Decimal `json:"median_conversion_time,omitempty"`

	// ActorIDs is the deterministic, sorted sample of actors that reached
	// this step (capped by the engine's sample size).
	ActorIDs []string `json:"actor_ids,omitempty"`
}

// TrendsPeriodResult is one aggregate output row in trends mode.
type TrendsPeriodResult struct {
	PeriodStart time.Time `json:"entrance_period_start"`
	Breakdown   string    `json:"breakdown,omitempty"`

	ReachedFromStepCount int64 `json:"reached_from_step_count"`
	ReachedToStepCount   int64 `json:"reached_to_step_count"`

	// ConversionRate is reached_to/reached_from * 100 rounded to 2 decimals;
	// 0 when the denominator is 0. Never sampling-corrected.
	ConversionRate decimal.Decimal `json:"conversion_rate"`
}
