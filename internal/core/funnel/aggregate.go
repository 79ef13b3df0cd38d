package funnel

import (
	"sort"

	"github.com/shopspring/decimal"
)

// conversionPrecision is the decimal precision of reported conversion-time
// aggregates, in fractional digits of a second.
const conversionPrecision = 4

// AggregateSteps collapses per-actor results into one StepResult per step
// (× breakdown value). actorSample caps the per-step actor id sample;
// 0 keeps every id.
//
// Counts are NOT sampling-corrected here — correction is a separate final
// pass (see sampling.go) so rates and averages are never rescaled.
func AggregateSteps(spec *QuerySpec, results []ActorResult, actorSample int) []StepResult {
	groups := groupResults(results)
	order := groupOrder(results)

	out := make([]StepResult, 0, len(order)*len(spec.Steps))
	for _, value := range order {
		group := groups[value]
		for i, step := range spec.Steps {
			sr := StepResult{
				Index:     i,
				Name:      step.Label(),
				Breakdown: value,
			}

			var reached []ActorResult
			for _, r := range group {
				if r.Reached(i) {
					reached = append(reached, r)
				}
			}
			sr.Count = int64(len(reached))

			if i > 0 {
				var seconds []float64
				for _, r := range reached {
					if r.ConversionSeconds[i] != nil {
						seconds = append(seconds, *r.ConversionSeconds[i])
					}
				}
				sr.AverageConversionSeconds = meanSeconds(seconds)
				sr.MedianConversionSeconds = medianSeconds(seconds)
			}

			ids := make([]string, 0, len(reached))
			for _, r := range reached {
				ids = append(ids, r.ActorID)
			}
			sort.Strings(ids)
			if actorSample > 0 && len(ids) > actorSample {
				ids = ids[:actorSample]
			}
			sr.ActorIDs = ids

			out = append(out, sr)
		}
	}
	return out
}

// AggregateTrends collapses per-actor results into one TrendsPeriodResult per
// entrance period (× breakdown value). Every period in [date_from, date_to]
// is emitted even when no entrances occurred, so gaps report zero rather than
// missing rows.
func AggregateTrends(spec *QuerySpec, results []ActorResult) []TrendsPeriodResult {
	groups := groupResults(results)
	order := groupOrder(results)
	if len(order) == 0 {
		order = []string{""}
	}

	type periodCounts struct{ from, to int64 }

	out := make([]TrendsPeriodResult, 0)
	for _, value := range order {
		counts := make(map[int64]*periodCounts)
		for _, r := range groups[value] {
			if !r.Reached(spec.FromStep) {
				continue
			}
			period := TruncatePeriod(r.EntranceAt, spec.Interval)
			pc := counts[period.Unix()]
			if pc == nil {
				pc = &periodCounts{}
				counts[period.Unix()] = pc
			}
			pc.from++
			if r.Reached(spec.ToStep) {
				pc.to++
			}
		}

		end := TruncatePeriod(spec.DateTo, spec.Interval)
		for p := TruncatePeriod(spec.DateFrom, spec.Interval); !p.After(end); p = NextPeriod(p, spec.Interval) {
			row := TrendsPeriodResult{
				PeriodStart:    p,
				Breakdown:      value,
				ConversionRate: decimal.Zero,
			}
			if pc := counts[p.Unix()]; pc != nil {
				row.ReachedFromStepCount = pc.from
				row.ReachedToStepCount = pc.to
				if pc.from > 0 {
					row.ConversionRate = decimal.NewFromInt(pc.to).
						Mul(decimal.NewFromInt(100)).
						DivRound(decimal.NewFromInt(pc.from), 2)
				}
			}
			out = append(out, row)
		}
	}
	return out
}

func groupResults(results []ActorResult) map[string][]ActorResult {
	groups := make(map[string][]ActorResult)
	for _, r := range results {
		groups[r.Breakdown] = append(groups[r.Breakdown], r)
	}
	return groups
}

// groupOrder ranks breakdown groups by entrance count with OtherBucket
// forced last, so report rows come out in a stable, meaningful order.
func groupOrder(results []ActorResult) []string {
	ranked := RankedBreakdownValues(results)
	out := make([]string, 0, len(ranked))
	hasOther := false
	for _, v := range ranked {
		if v == OtherBucket {
			hasOther = true
			continue
		}
		out = append(out, v)
	}
	if hasOther {
		out = append(out, OtherBucket)
	}
	return out
}

func meanSeconds(seconds []float64) *decimal.Decimal {
	if len(seconds) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, s := range seconds {
		sum = sum.Add(decimal.NewFromFloat(s))
	}
	mean := sum.DivRound(decimal.NewFromInt(int64(len(seconds))), conversionPrecision)
	return &mean
}

func medianSeconds(seconds []float64) *decimal.Decimal {
	if len(seconds) == 0 {
		return nil
	}
	sorted := append([]float64(nil), seconds...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	var median decimal.Decimal
	if len(sorted)%2 == 1 {
		median = decimal.NewFromFloat(sorted[mid]).Round(conversionPrecision)
	} else {
		median = decimal.NewFromFloat(sorted[mid-1]).
			Add(decimal.NewFromFloat(sorted[mid])).
			DivRound(decimal.NewFromInt(2), conversionPrecision)
	}
	return &median
}
