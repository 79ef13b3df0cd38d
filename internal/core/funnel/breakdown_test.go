package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func breakdownSpec(attribution string) *QuerySpec {
	spec := threeStepSpec()
	spec.Breakdown = &BreakdownSpec{
		Properties:  []string{"browser"},
		Attribution: attribution,
	}
	return spec
}

func TestFirstTouchAttribution(t *testing.T) {
	spec := breakdownSpec(AttributionFirstTouch)
	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	results, err := ev.EvaluateActor("actor-1", []Row{
		row("sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
		row("play_movie", day1.Add(time.Hour), map[string]interface{}{"browser": "Safari"}),
		row("buy", day1.Add(2*time.Hour), nil),
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Chrome", results[0].Breakdown)
	require.Equal(t, 3, results[0].StepsCompleted)
}

func TestFirstTouchSkipsEmptyValues(t *testing.T) {
	spec := breakdownSpec(AttributionFirstTouch)
	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	results, err := ev.EvaluateActor("actor-1", []Row{
		row("sign_up", day1, nil),
		row("play_movie", day1.Add(time.Hour), map[string]interface{}{"browser": "Safari"}),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Safari", results[0].Breakdown)
}

func TestLastTouchAttribution(t *testing.T) {
	spec := breakdownSpec(AttributionLastTouch)
	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	results, err := ev.EvaluateActor("actor-1", []Row{
		row("sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
		row("play_movie", day1.Add(time.Hour), map[string]interface{}{"browser": "Safari"}),
		row("buy", day1.Add(2*time.Hour), nil),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Safari", results[0].Breakdown)
}

func TestAllEventsAttributionPartitionsRows(t *testing.T) {
	spec := breakdownSpec(AttributionAllEvents)
	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	// The Chrome partition converts fully; the Safari partition only enters.
	results, err := ev.EvaluateActor("actor-1", []Row{
		row("sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
		row("sign_up", day1.Add(time.Minute), map[string]interface{}{"browser": "Safari"}),
		row("play_movie", day1.Add(time.Hour), map[string]interface{}{"browser": "Chrome"}),
		row("buy", day1.Add(2*time.Hour), map[string]interface{}{"browser": "Chrome"}),
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byValue := make(map[string]ActorResult)
	for _, r := range results {
		byValue[r.Breakdown] = r
	}
	require.Equal(t, 3, byValue["Chrome"].StepsCompleted)
	require.Equal(t, 1, byValue["Safari"].StepsCompleted)
}

func TestStepAttribution(t *testing.T) {
	spec := breakdownSpec(AttributionStep)
	spec.Breakdown.AttributionStep = 1

	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	results, err := ev.EvaluateActor("actor-1", []Row{
		row("sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
		row("play_movie", day1.Add(time.Hour), map[string]interface{}{"browser": "Safari"}),
		row("buy", day1.Add(2*time.Hour), map[string]interface{}{"browser": "Chrome"}),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Safari", results[0].Breakdown)
}

func TestStepAttributionUnreachedStepIsEmpty(t *testing.T) {
	spec := breakdownSpec(AttributionStep)
	spec.Breakdown.AttributionStep = 2

	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	results, err := ev.EvaluateActor("actor-1", []Row{
		row("sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
		row("play_movie", day1.Add(time.Hour), nil),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "", results[0].Breakdown)
	require.Equal(t, 2, results[0].StepsCompleted)
}

func TestCohortBreakdownOneResultPerMembership(t *testing.T) {
	spec := threeStepSpec()
	spec.Breakdown = &BreakdownSpec{
		Cohorts:     []string{"power-users", "trial"},
		Attribution: AttributionFirstTouch,
	}
	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	rows := []Row{
		row("sign_up", day1, nil),
		row("play_movie", day1.Add(time.Hour), nil),
	}

	results, err := ev.EvaluateActor("actor-1", rows, []string{"trial", "power-users"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "power-users", results[0].Breakdown)
	require.Equal(t, "trial", results[1].Breakdown)
	require.Equal(t, 2, results[0].StepsCompleted)
	require.Equal(t, 2, results[1].StepsCompleted)

	// No membership, no results.
	results, err = ev.EvaluateActor("actor-1", rows, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestBreakdownValueMultiProperty(t *testing.T) {
	keys := []string{"browser", "version"}

	v, err := breakdownValue(map[string]interface{}{"browser": "Chrome", "version": "95"}, keys)
	require.NoError(t, err)
	require.Equal(t, "Chrome::95", v)

	// Missing components render empty but keep their slot.
	v, err = breakdownValue(map[string]interface{}{"browser": "Chrome"}, keys)
	require.NoError(t, err)
	require.Equal(t, "Chrome::", v)

	// No component set collapses to the empty value.
	v, err = breakdownValue(map[string]interface{}{}, keys)
	require.NoError(t, err)
	require.Equal(t, "", v)

	// Non-string components make the joined value ambiguous.
	_, err = breakdownValue(map[string]interface{}{"browser": "Chrome", "version": float64(95)}, keys)
	require.ErrorIs(t, err, ErrAmbiguousBreakdown)
}

func TestBreakdownValueSingleCoercesScalars(t *testing.T) {
	v, err := breakdownValue(map[string]interface{}{"version": float64(95)}, []string{"version"})
	require.NoError(t, err)
	require.Equal(t, "95", v)

	v, err = breakdownValue(map[string]interface{}{"version": "95"}, []string{"version"})
	require.NoError(t, err)
	require.Equal(t, "95", v)
}

func TestRankedBreakdownValues(t *testing.T) {
	results := []ActorResult{
		{ActorID: "a", Breakdown: "Chrome", StepsCompleted: 3},
		{ActorID: "b", Breakdown: "Chrome", StepsCompleted: 1},
		{ActorID: "c", Breakdown: "Safari", StepsCompleted: 2},
		{ActorID: "d", Breakdown: "Firefox", StepsCompleted: 1},
		{ActorID: "e", Breakdown: "Edge", StepsCompleted: 0}, // never entered
	}

	ranked := RankedBreakdownValues(results)
	// Chrome has 2 entrances; Safari and Firefox tie at 1 and sort
	// lexicographically; Edge trails with 0.
	require.Equal(t, []string{"Chrome", "Firefox", "Safari", "Edge"}, ranked)
}

func TestApplyBreakdownLimitCollapsesToOther(t *testing.T) {
	spec := breakdownSpec(AttributionFirstTouch)
	spec.Breakdown.Limit = 1

	results := []ActorResult{
		{ActorID: "a", Breakdown: "Chrome", StepsCompleted: 2},
		{ActorID: "b", Breakdown: "Chrome", StepsCompleted: 1},
		{ActorID: "c", Breakdown: "Safari", StepsCompleted: 3},
		{ActorID: "d", Breakdown: "Firefox", StepsCompleted: 1},
	}

	out := ApplyBreakdownLimit(spec, results)
	actors := make(map[string][]string)
	for _, r := range out {
		actors[r.Breakdown] = append(actors[r.Breakdown], r.ActorID)
	}
	// Chrome survives (most entrances); the "Other" people set is the union
	// of the collapsed values' people sets.
	require.Equal(t, []string{"a", "b"}, actors["Chrome"])
	require.Equal(t, []string{"c", "d"}, actors[OtherBucket])

	// No actor is lost in the rewrite.
	require.Len(t, out, len(results))
}

func TestAllEventsPartitionConservation(t *testing.T) {
	// Partitioning by value must not lose an entering actor: summing
	// entrances across breakdown values (pre-bucketing) matches the count of
	// partitions that entered the funnel.
	spec := breakdownSpec(AttributionAllEvents)
	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	results, err := ev.EvaluateActor("actor-1", []Row{
		row("sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
		row("sign_up", day1.Add(time.Minute), map[string]interface{}{"browser": "Safari"}),
		row("play_movie", day1.Add(time.Hour), map[string]interface{}{"browser": "Chrome"}),
	}, nil)
	require.NoError(t, err)

	total := 0
	perValue := make(map[string]int)
	for _, r := range results {
		if r.Reached(0) {
			total++
			perValue[r.Breakdown]++
		}
	}
	sum := 0
	for _, n := range perValue {
		sum += n
	}
	require.Equal(t, total, sum)
	require.Equal(t, map[string]int{"Chrome": 1, "Safari": 1}, perValue)
}

func TestApplyBreakdownLimitNoCollapseUnderLimit(t *testing.T) {
	spec := breakdownSpec(AttributionFirstTouch)
	spec.Breakdown.Limit = 5

	results := []ActorResult{
		{ActorID: "a", Breakdown: "Chrome", StepsCompleted: 1},
		{ActorID: "b", Breakdown: "Safari", StepsCompleted: 1},
	}
	out := ApplyBreakdownLimit(spec, results)
	require.Equal(t, results, out)
}

func TestApplyBreakdownLimitCohortsExempt(t *testing.T) {
	spec := threeStepSpec()
	spec.Breakdown = &BreakdownSpec{
		Cohorts:     []string{"c1", "c2", "c3"},
		Attribution: AttributionFirstTouch,
		Limit:       1,
	}

	results := []ActorResult{
		{ActorID: "a", Breakdown: "c1", StepsCompleted: 1},
		{ActorID: "b", Breakdown: "c2", StepsCompleted: 1},
		{ActorID: "c", Breakdown: "c3", StepsCompleted: 1},
	}
	out := ApplyBreakdownLimit(spec, results)
	require.Equal(t, results, out)
}
