package funnel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/converge-lab/project-converge/internal/api/v1"
	corefunnel "github.com/converge-lab/project-converge/internal/core/funnel"
	"github.com/converge-lab/project-converge/internal/core/storage"
)

// mockRowSource for testing
type mockRowSource struct {
	events  []*v1.Event
	values  []string
	cohorts map[string][]string

	rowsErr      error
	discoverErr  error
	discoverHits int32
}

func (m *mockRowSource) RetrieveFunnelRows(ctx context.Context, f storage.RowFilter) ([]*v1.Event, error) {
	if m.rowsErr != nil {
		return nil, m.rowsErr
	}
	return m.events, nil
}

func (m *mockRowSource) DiscoverPropertyValues(ctx context.Context, f storage.DiscoveryFilter) ([]string, error) {
	atomic.AddInt32(&m.discoverHits, 1)
	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	return m.values, nil
}

func (m *mockRowSource) RetrieveCohortActors(ctx context.Context, cohortID string) ([]string, error) {
	return m.cohorts[cohortID], nil
}

var runFrom = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func event(actorID, name string, at time.Time, props map[string]interface{}) *v1.Event {
	return &v1.Event{ActorID: actorID, Name: name, OccurredAt: at, Properties: props}
}

func runSpec() *corefunnel.QuerySpec {
	return &corefunnel.QuerySpec{
		Steps: []corefunnel.StepSpec{
			{Index: 0, Event: "sign_up"},
			{Index: 1, Event: "play_movie"},
			{Index: 2, Event: "buy"},
		},
		Window:   corefunnel.WindowSpec{Value: 14, Unit: corefunnel.UnitDay},
		DateFrom: runFrom,
		DateTo:   runFrom.AddDate(0, 1, 0),
		Mode:     corefunnel.ModeSteps,
	}
}

func twoActorEvents() []*v1.Event {
	day1 := runFrom.AddDate(0, 0, 4)
	day2 := day1.AddDate(0, 0, 1)
	return []*v1.Event{
		event("actor-a", "sign_up", day1.Add(12*time.Hour), nil),
		event("actor-a", "play_movie", day1.Add(13*time.Hour), nil),
		event("actor-a", "buy", day1.Add(15*time.Hour), nil),
		event("actor-b", "sign_up", day2.Add(14*time.Hour), nil),
		event("actor-b", "play_movie", day2.Add(16*time.Hour), nil),
	}
}

func TestEngineRunSteps(t *testing.T) {
	source := &mockRowSource{events: twoActorEvents()}
	engine := New(source, Options{})

	report, err := engine.Run(context.Background(), runSpec())
	require.NoError(t, err)

	require.NotEmpty(t, report.RunID)
	require.Equal(t, corefunnel.ModeSteps, report.Mode)
	require.Equal(t, 5, report.RowCount)
	require.Equal(t, 2, report.ActorCount)

	require.Len(t, report.Steps, 3)
	require.Equal(t, int64(2), report.Steps[0].Count)
	require.Equal(t, int64(2), report.Steps[1].Count)
	require.Equal(t, int64(1), report.Steps[2].Count)

	require.True(t, report.Steps[1].AverageConversionSeconds.Equal(decimal.NewFromInt(5400)),
		"step 1 average: %s", report.Steps[1].AverageConversionSeconds)
	require.Equal(t, []string{"actor-a", "actor-b"}, report.Steps[1].ActorIDs)
	require.Equal(t, []string{"actor-a"}, report.Steps[2].ActorIDs)
}

func TestEngineRunTrends(t *testing.T) {
	spec := runSpec()
	spec.Mode = corefunnel.ModeTrends
	spec.Interval = corefunnel.UnitDay
	spec.FromStep = 0
	spec.ToStep = 2
	spec.DateFrom = runFrom.AddDate(0, 0, 4)
	spec.DateTo = runFrom.AddDate(0, 0, 6)

	source := &mockRowSource{events: twoActorEvents()}
	engine := New(source, Options{})

	report, err := engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Empty(t, report.Steps)
	require.Len(t, report.Trends, 3)

	require.Equal(t, int64(1), report.Trends[0].ReachedFromStepCount)
	require.Equal(t, int64(1), report.Trends[0].ReachedToStepCount)
	require.True(t, report.Trends[0].ConversionRate.Equal(decimal.NewFromInt(100)))

	require.Equal(t, int64(1), report.Trends[1].ReachedFromStepCount)
	require.Equal(t, int64(0), report.Trends[1].ReachedToStepCount)
	require.True(t, report.Trends[1].ConversionRate.IsZero())
}

func TestEngineRunInvalidSpec(t *testing.T) {
	spec := runSpec()
	spec.Steps = spec.Steps[:1]

	engine := New(&mockRowSource{}, Options{})
	_, err := engine.Run(context.Background(), spec)
	require.Error(t, err)
	require.ErrorContains(t, err, "at least 2 steps")
}

func TestEngineRunStorageFailure(t *testing.T) {
	source := &mockRowSource{rowsErr: storage.ErrTimeout}
	engine := New(source, Options{})

	report, err := engine.Run(context.Background(), runSpec())
	require.Nil(t, report)
	require.ErrorIs(t, err, storage.ErrTimeout)
}

func TestEngineRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &mockRowSource{events: twoActorEvents()}
	engine := New(source, Options{})

	report, err := engine.Run(ctx, runSpec())
	require.Nil(t, report, "cancelled run must not produce a partial report")
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngineRunSamplingCorrection(t *testing.T) {
	spec := runSpec()
	spec.SamplingFactor = 0.1

	source := &mockRowSource{events: twoActorEvents()}
	engine := New(source, Options{})

	report, err := engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, int64(20), report.Steps[0].Count)
	require.Equal(t, int64(10), report.Steps[2].Count)
	// Conversion times are per-actor observations and stay uncorrected.
	require.True(t, report.Steps[1].AverageConversionSeconds.Equal(decimal.NewFromInt(5400)))
}

func TestEngineRunBreakdownEmptyDomainShortCircuits(t *testing.T) {
	spec := runSpec()
	spec.Breakdown = &corefunnel.BreakdownSpec{
		Properties:  []string{"browser"},
		Attribution: corefunnel.AttributionFirstTouch,
	}

	source := &mockRowSource{events: twoActorEvents(), values: nil}
	engine := New(source, Options{})

	report, err := engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Empty(t, report.Steps)
	require.Equal(t, 0, report.RowCount)
}

func TestEngineDiscoveryCachedPerFingerprint(t *testing.T) {
	spec := runSpec()
	spec.Breakdown = &corefunnel.BreakdownSpec{
		Properties:  []string{"browser"},
		Attribution: corefunnel.AttributionFirstTouch,
	}

	day1 := runFrom.AddDate(0, 0, 4)
	source := &mockRowSource{
		events: []*v1.Event{
			event("actor-a", "sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
			event("actor-a", "play_movie", day1.Add(time.Hour), nil),
		},
		values: []string{"Chrome"},
	}
	engine := New(source, Options{})

	_, err := engine.Run(context.Background(), spec)
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&source.discoverHits))

	engine.InvalidateDiscovery(spec)
	_, err = engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&source.discoverHits))
}

func TestEngineRunCohortBreakdown(t *testing.T) {
	spec := runSpec()
	spec.Breakdown = &corefunnel.BreakdownSpec{
		Cohorts:     []string{"beta-testers"},
		Attribution: corefunnel.AttributionFirstTouch,
	}

	source := &mockRowSource{
		events:  twoActorEvents(),
		cohorts: map[string][]string{"beta-testers": {"actor-a", "actor-z"}},
	}
	engine := New(source, Options{})

	report, err := engine.Run(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, report.Steps, 3)

	// Only actor-a is a member; actor-b drops out of the report entirely and
	// actor-z has no rows.
	require.Equal(t, "beta-testers", report.Steps[0].Breakdown)
	require.Equal(t, int64(1), report.Steps[0].Count)
	require.Equal(t, []string{"actor-a"}, report.Steps[0].ActorIDs)
}

func TestEngineRunNoRows(t *testing.T) {
	source := &mockRowSource{}
	engine := New(source, Options{})

	report, err := engine.Run(context.Background(), runSpec())
	require.NoError(t, err)
	require.Equal(t, 0, report.ActorCount)
	require.Empty(t, report.Steps)
}

func TestEngineRunManyActorsAcrossWorkers(t *testing.T) {
	day1 := runFrom.AddDate(0, 0, 4)
	var events []*v1.Event
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("actor-%02d", i)
		events = append(events,
			event(id, "sign_up", day1.Add(time.Duration(i)*time.Minute), nil),
			event(id, "play_movie", day1.Add(time.Duration(i)*time.Minute+time.Hour), nil),
		)
	}

	source := &mockRowSource{events: events}
	engine := New(source, Options{WorkerCount: 8})

	report, err := engine.Run(context.Background(), runSpec())
	require.NoError(t, err)
	require.Equal(t, 50, report.ActorCount)
	require.Equal(t, int64(50), report.Steps[0].Count)
	require.Equal(t, int64(50), report.Steps[1].Count)
	require.Equal(t, int64(0), report.Steps[2].Count)
}

func TestEngineActorsDrilldown(t *testing.T) {
	source := &mockRowSource{events: twoActorEvents()}
	engine := New(source, Options{})

	actors, err := engine.Actors(context.Background(), runSpec(), 1, "")
	require.NoError(t, err)
	require.Equal(t, []string{"actor-a", "actor-b"}, actors)

	actors, err = engine.Actors(context.Background(), runSpec(), 2, "")
	require.NoError(t, err)
	require.Equal(t, []string{"actor-a"}, actors)

	_, err = engine.Actors(context.Background(), runSpec(), 3, "")
	require.Error(t, err)
	require.ErrorContains(t, err, "out of range")
}

func TestEngineActorsDrilldownBreakdownScoped(t *testing.T) {
	spec := runSpec()
	spec.Breakdown = &corefunnel.BreakdownSpec{
		Properties:  []string{"browser"},
		Attribution: corefunnel.AttributionFirstTouch,
	}

	day1 := runFrom.AddDate(0, 0, 4)
	source := &mockRowSource{
		events: []*v1.Event{
			event("actor-a", "sign_up", day1, map[string]interface{}{"browser": "Chrome"}),
			event("actor-b", "sign_up", day1, map[string]interface{}{"browser": "Safari"}),
		},
		values: []string{"Chrome", "Safari"},
	}
	engine := New(source, Options{})

	actors, err := engine.Actors(context.Background(), spec, 0, "Chrome")
	require.NoError(t, err)
	require.Equal(t, []string{"actor-a"}, actors)
}

func TestEngineRunDiscoveryFailure(t *testing.T) {
	spec := runSpec()
	spec.Breakdown = &corefunnel.BreakdownSpec{
		Properties:  []string{"browser"},
		Attribution: corefunnel.AttributionFirstTouch,
	}

	wantErr := errors.New("discovery unavailable")
	source := &mockRowSource{discoverErr: wantErr}
	engine := New(source, Options{})

	_, err := engine.Run(context.Background(), spec)
	require.ErrorIs(t, err, wantErr)
}

func TestOptionsNormalized(t *testing.T) {
	// StepActorSample zero is meaningful (keep every actor id), so only
	// negative values fall back to the default.
	n := Options{}.normalized()
	require.Equal(t, defaultWorkerCount, n.WorkerCount)
	require.Equal(t, defaultDiscoveryLimit, n.DiscoveryLimit)
	require.Equal(t, 0, n.StepActorSample, "zero keeps every actor id")

	n = Options{WorkerCount: 3, DiscoveryLimit: 7, StepActorSample: -1}.normalized()
	require.Equal(t, 3, n.WorkerCount)
	require.Equal(t, 7, n.DiscoveryLimit)
	require.Equal(t, defaultStepActorSample, n.StepActorSample)

	n = Options{StepActorSample: 50}.normalized()
	require.Equal(t, 50, n.StepActorSample)
}

func TestEngineRunZeroStepActorSampleKeepsAllIDs(t *testing.T) {
	source := &mockRowSource{events: twoActorEvents()}
	engine := New(source, Options{StepActorSample: 0})

	report, err := engine.Run(context.Background(), runSpec())
	require.NoError(t, err)
	require.Equal(t, []string{"actor-a", "actor-b"}, report.Steps[0].ActorIDs)
}
