package funnel

import (
	"sort"
	"time"
)

// Evaluator is a validated, compiled QuerySpec ready for per-actor
// evaluation. It holds no mutable state: one Evaluator can serve any number
// of actors concurrently.
type Evaluator struct {
	spec      *QuerySpec
	dupOfPrev []bool
	window    time.Duration
}

// NewEvaluator validates the spec and precomputes duplicate-predicate tags.
func NewEvaluator(spec *QuerySpec) (*Evaluator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	dup := make([]bool, len(spec.Steps))
	for i := 1; i < len(spec.Steps); i++ {
		dup[i] = samePredicate(spec.Steps[i-1], spec.Steps[i])
	}
	return &Evaluator{
		spec:      spec,
		dupOfPrev: dup,
		window:    spec.Window.Duration(),
	}, nil
}

// Spec returns the compiled spec.
func (ev *Evaluator) Spec() *QuerySpec { return ev.spec }

// StepCount returns the number of funnel steps.
func (ev *Evaluator) StepCount() int { return len(ev.spec.Steps) }

// EvaluateActor resolves one actor's rows into ActorResults.
//
// Rows may arrive in any order; they are sorted ascending by timestamp here
// so the caller can hand over raw storage slices. cohorts lists the cohort
// ids the actor belongs to (only consulted for cohort breakdowns).
//
// Most attribution policies yield exactly one result. ALL_EVENTS and cohort
// breakdowns may yield several (one per partition the actor appears in), or
// none (cohort breakdown with no membership).
func (ev *Evaluator) EvaluateActor(actorID string, rows []Row, cohorts []string) ([]ActorResult, error) {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Name < sorted[j].Name
	})

	b := ev.spec.Breakdown
	if b == nil {
		res, _ := ev.evaluateSequence(actorID, sorted, "")
		return []ActorResult{res}, nil
	}

	if b.IsCohort() {
		if len(cohorts) == 0 {
			return nil, nil
		}
		base, _ := ev.evaluateSequence(actorID, sorted, "")
		results := make([]ActorResult, 0, len(cohorts))
		ids := append([]string(nil), cohorts...)
		sort.Strings(ids)
		for _, id := range ids {
			r := base
			r.Breakdown = id
			r.ConversionSeconds = append([]*float64(nil), base.ConversionSeconds...)
			results = append(results, r)
		}
		return results, nil
	}

	switch b.Attribution {
	case AttributionAllEvents:
		return ev.evaluatePerValue(actorID, sorted)

	case AttributionFirstTouch, AttributionLastTouch:
		value, err := touchValue(sorted, b.Properties, b.Attribution == AttributionLastTouch)
		if err != nil {
			return nil, err
		}
		res, _ := ev.evaluateSequence(actorID, sorted, value)
		return []ActorResult{res}, nil

	case AttributionStep:
		res, latest := ev.evaluateSequence(actorID, sorted, "")
		value, err := ev.stepValue(sorted, latest, res.StepsCompleted)
		if err != nil {
			return nil, err
		}
		res.Breakdown = value
		return []ActorResult{res}, nil

	default:
		// Unreachable for validated specs.
		res, _ := ev.evaluateSequence(actorID, sorted, "")
		return []ActorResult{res}, nil
	}
}

// evaluateSequence runs matcher → resolver → collapse over one partition of
// an actor's rows. It also returns the winning attempt's latest timestamps
// for step-attributed breakdown reads.
func (ev *Evaluator) evaluateSequence(actorID string, rows []Row, breakdown string) (ActorResult, []*time.Time) {
	res := ev.resolve(rows)
	best, found := ev.collapse(res)
	return ev.actorResult(actorID, breakdown, best, found), best.latest
}

// evaluatePerValue partitions rows by their per-row breakdown value and
// resolves each partition independently. An actor may carry one result per
// distinct value across their event history.
func (ev *Evaluator) evaluatePerValue(actorID string, rows []Row) ([]ActorResult, error) {
	keys := ev.spec.Breakdown.Properties
	partitions := make(map[string][]Row)
	for _, row := range rows {
		value, err := breakdownValue(row.Properties, keys)
		if err != nil {
			return nil, err
		}
		partitions[value] = append(partitions[value], row)
	}

	values := make([]string, 0, len(partitions))
	for v := range partitions {
		values = append(values, v)
	}
	sort.Strings(values)

	results := make([]ActorResult, 0, len(values))
	for _, v := range values {
		res, _ := ev.evaluateSequence(actorID, partitions[v], v)
		results = append(results, res)
	}
	return results, nil
}

// stepValue reads the breakdown value at the row that satisfied the
// attribution step on the winning attempt. Empty when the step was never
// reached.
func (ev *Evaluator) stepValue(rows []Row, latest []*time.Time, stepsCompleted int) (string, error) {
	n := ev.spec.Breakdown.AttributionStep
	if stepsCompleted < n+1 || latest == nil || latest[n] == nil {
		return "", nil
	}
	at := *latest[n]
	step := ev.spec.Steps[n]
	for _, row := range rows {
		if row.Timestamp.Equal(at) && matchStep(row, step) {
			return breakdownValue(row.Properties, ev.spec.Breakdown.Properties)
		}
	}
	return "", nil
}

// touchValue returns the earliest (or latest) non-empty breakdown value
// across an actor's time-ordered rows.
func touchValue(rows []Row, keys []string, last bool) (string, error) {
	value := ""
	for _, row := range rows {
		v, err := breakdownValue(row.Properties, keys)
		if err != nil {
			return "", err
		}
		if v == "" {
			continue
		}
		if !last {
			return v, nil
		}
		value = v
	}
	return value, nil
}
