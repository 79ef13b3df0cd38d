package funnel

import "github.com/shopspring/decimal"

// Aggregate kinds for sampling correction. Only additive kinds rescale;
// ratios, averages, medians and extrema are invariant under uniform sampling.
const (
	KindCount      = "count"
	KindSum        = "sum"
	KindRate       = "rate"
	KindAverage    = "average"
	KindMedian     = "median"
	KindPercentile = "percentile"
	KindMax        = "max"
)

// Additive reports whether an aggregate kind rescales under sampling.
func Additive(kind string) bool {
	return kind == KindCount || kind == KindSum
}

// Correct rescales a sampled aggregate back to the full population.
// Non-additive kinds and factors outside (0,1) pass through unchanged.
func Correct(v decimal.Decimal, kind string, factor float64) decimal.Decimal {
	if !Additive(kind) || factor <= 0 || factor >= 1 {
		return v
	}
	return v.DivRound(decimal.NewFromFloat(factor), 0)
}

// CorrectCount is Correct for plain integer counts.
func CorrectCount(count int64, factor float64) int64 {
	return Correct(decimal.NewFromInt(count), KindCount, factor).IntPart()
}

// CorrectStepResults applies sampling correction to the count aggregates of
// finalized step results. Conversion-time aggregates are never touched.
// Must run last, after all aggregation.
func CorrectStepResults(results []StepResult, factor float64) {
	if factor <= 0 || factor >= 1 {
		return
	}
	for i := range results {
		results[i].Count = CorrectCount(results[i].Count, factor)
	}
}

// CorrectTrends applies sampling correction to trends entrance and
// conversion counts. The conversion rate is a ratio and stays untouched.
// Must run last, after all aggregation.
func CorrectTrends(results []TrendsPeriodResult, factor float64) {
	if factor <= 0 || factor >= 1 {
		return
	}
	for i := range results {
		results[i].ReachedFromStepCount = CorrectCount(results[i].ReachedFromStepCount, factor)
		results[i].ReachedToStepCount = CorrectCount(results[i].ReachedToStepCount, factor)
	}
}
