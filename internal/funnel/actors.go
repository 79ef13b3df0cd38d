package funnel

import (
	"context"
	"fmt"
	"sort"

	corefunnel "github.com/converge-lab/project-converge/internal/core/funnel"
)

// Actors re-derives the exact actor id set that reached a step, optionally
// scoped to one displayed breakdown value (post-"Other" bucketing).
//
// The list is deterministic for a given spec: same rows, same spec, same
// drilldown — no randomness and no order-dependent tie-breaking.
func (e *Engine) Actors(ctx context.Context, spec *corefunnel.QuerySpec, stepIndex int, breakdownValue string) ([]string, error) {
	ev, err := corefunnel.NewEvaluator(spec)
	if err != nil {
		return nil, err
	}
	if stepIndex < 0 || stepIndex >= ev.StepCount() {
		return nil, fmt.Errorf("drilldown step index %d out of range [0,%d]", stepIndex, ev.StepCount()-1)
	}

	results, _, _, err := e.evaluate(ctx, ev)
	if err != nil {
		return nil, err
	}
	results = corefunnel.ApplyBreakdownLimit(spec, results)

	seen := make(map[string]bool)
	for _, r := range results {
		if !r.Reached(stepIndex) {
			continue
		}
		if spec.Breakdown != nil && r.Breakdown != breakdownValue {
			continue
		}
		seen[r.ActorID] = true
	}

	actors := make([]string, 0, len(seen))
	for id := range seen {
		actors = append(actors, id)
	}
	sort.Strings(actors)
	return actors, nil
}
