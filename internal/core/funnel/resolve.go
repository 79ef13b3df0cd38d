package funnel

import "time"

// resolvedRows carries one actor's rows annotated with per-row step bitmaps
// and back-propagated "next reachable" timestamps. All slices are indexed
// [row][step] (or [row][exclusion]) and scoped to one actor — the arena is
// discarded after the actor is collapsed.
type resolvedRows struct {
	rows      []Row
	steps     [][]bool
	latest    [][]*time.Time
	exclusion [][]*time.Time
}

// resolve annotates rows (sorted ascending by timestamp) with, per row and
// step i, the earliest step-i timestamp that is >= the row's timestamp.
//
// This is the explicit-scan equivalent of a windowed min over a descending
// partition: one reverse pass per step carrying the earliest matching
// timestamp seen so far. When step i duplicates step i-1's predicate, the
// current row is excluded from its own step-i lookback, so a single event
// cannot satisfy two consecutive identical steps.
func (ev *Evaluator) resolve(rows []Row) *resolvedRows {
	n := len(ev.spec.Steps)
	res := &resolvedRows{
		rows:      rows,
		steps:     make([][]bool, len(rows)),
		latest:    make([][]*time.Time, len(rows)),
		exclusion: make([][]*time.Time, len(rows)),
	}

	for r, row := range rows {
		res.steps[r] = make([]bool, n)
		res.latest[r] = make([]*time.Time, n)
		for i, step := range ev.spec.Steps {
			res.steps[r][i] = matchStep(row, step)
		}
		if len(ev.spec.Exclusions) > 0 {
			res.exclusion[r] = make([]*time.Time, len(ev.spec.Exclusions))
		}
	}

	for i := 0; i < n; i++ {
		var next *time.Time
		for r := len(rows) - 1; r >= 0; r-- {
			if ev.dupOfPrev[i] {
				// Duplicate-predicate step: assign before observing the
				// current row, excluding it from its own lookback.
				res.latest[r][i] = next
				if res.steps[r][i] {
					ts := rows[r].Timestamp
					next = &ts
				}
				continue
			}
			if res.steps[r][i] {
				ts := rows[r].Timestamp
				next = &ts
			}
			res.latest[r][i] = next
		}
	}

	for e, ex := range ev.spec.Exclusions {
		var next *time.Time
		for r := len(rows) - 1; r >= 0; r-- {
			if matchExclusion(rows[r], ex) {
				ts := rows[r].Timestamp
				next = &ts
			}
			res.exclusion[r][e] = next
		}
	}

	return res
}
