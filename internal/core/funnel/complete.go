package funnel

import "time"

// candidate is one conversion attempt: an entry row where step 0 matched,
// with the prefix length and timestamps it achieved.
type candidate struct {
	entrance time.Time
	steps    int
	latest   []*time.Time
}

// collapse turns one actor-partition's resolved rows into the maximal
// validly-ordered prefix across all conversion attempts.
//
// For each entry row the prefix length is computed by an iterative fold from
// step 0 upward (the recursive sorting condition flattened to a loop): step i
// extends the prefix iff latest_i is set, ordered after latest_{i-1} (strictly
// after for duplicate-predicate steps), and within the conversion window of
// the entry timestamp. A triggered exclusion discards the whole attempt, not
// just the tail.
//
// The winning attempt is the one with the longest prefix; ties resolve to the
// earliest entrance so drilldowns are reproducible.
func (ev *Evaluator) collapse(res *resolvedRows) (best candidate, found bool) {
	for r := range res.rows {
		if !res.steps[r][0] {
			continue
		}
		latest := res.latest[r]
		entrance := res.rows[r].Timestamp

		steps := 1
		for i := 1; i < len(ev.spec.Steps); i++ {
			li := latest[i]
			prev := latest[i-1]
			if li == nil || prev == nil {
				break
			}
			if ev.dupOfPrev[i] {
				if !prev.Before(*li) {
					break
				}
			} else if prev.After(*li) {
				break
			}
			if li.Sub(entrance) > ev.window || li.Sub(*prev) > ev.window {
				break
			}
			steps = i + 1
		}

		if ev.excluded(res, r, latest, steps) {
			continue
		}

		c := candidate{entrance: entrance, steps: steps, latest: latest}
		if !found || c.steps > best.steps ||
			(c.steps == best.steps && c.entrance.Before(best.entrance)) {
			best = c
			found = true
		}
	}
	return best, found
}

// excluded reports whether any exclusion invalidates this conversion attempt.
// An exclusion triggers when its event's next timestamp falls strictly
// between latest_from and min(latest_to, latest_from + window); latest_to is
// replaced by latest_from + window when the to-step never matched. Only
// exclusions whose from-step lies on the reached prefix apply.
func (ev *Evaluator) excluded(res *resolvedRows, r int, latest []*time.Time, steps int) bool {
	for e, ex := range ev.spec.Exclusions {
		if steps < ex.FromStep+1 {
			continue
		}
		from := latest[ex.FromStep]
		if from == nil {
			continue
		}
		bound := from.Add(ev.window)
		if to := latest[ex.ToStep]; to != nil && to.Before(bound) {
			bound = *to
		}
		le := res.exclusion[r][e]
		if le != nil && le.After(*from) && le.Before(bound) {
			return true
		}
	}
	return false
}

// actorResult materializes the winning candidate into an ActorResult.
func (ev *Evaluator) actorResult(actorID, breakdown string, best candidate, found bool) ActorResult {
	out := ActorResult{
		ActorID:           actorID,
		Breakdown:         breakdown,
		ConversionSeconds: make([]*float64, len(ev.spec.Steps)),
	}
	if !found {
		return out
	}
	out.StepsCompleted = best.steps
	out.EntranceAt = best.entrance
	for i := 1; i < best.steps; i++ {
		seconds := best.latest[i].Sub(*best.latest[i-1]).Seconds()
		out.ConversionSeconds[i] = &seconds
	}
	return out
}
