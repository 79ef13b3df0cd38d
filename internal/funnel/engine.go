// Package funnel orchestrates funnel analysis runs: it pulls filtered rows
// from storage, resolves actors in parallel, and aggregates the results into
// a report. The pure per-actor algorithm lives in internal/core/funnel.
package funnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	corefunnel "github.com/converge-lab/project-converge/internal/core/funnel"
	"github.com/converge-lab/project-converge/internal/core/partition"
	"github.com/converge-lab/project-converge/internal/core/storage"
)

const (
	defaultWorkerCount     = 10
	defaultDiscoveryLimit  = 25
	defaultStepActorSample = 100
)

// Options controls parallelism and report shaping for an Engine.
type Options struct {
	// WorkerCount is the number of goroutines resolving actors in parallel.
	WorkerCount int

	// DiscoveryLimit caps breakdown value discovery when the query spec
	// carries no breakdown limit of its own.
	DiscoveryLimit int

	// StepActorSample caps the per-step actor id sample in step results.
	// 0 keeps every id.
	StepActorSample int
}

func (o Options) normalized() Options {
	n := o
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.DiscoveryLimit <= 0 {
		n.DiscoveryLimit = defaultDiscoveryLimit
	}
	if n.StepActorSample < 0 {
		n.StepActorSample = defaultStepActorSample
	}
	return n
}

// Engine executes funnel queries against a row source. Safe for concurrent
// use; the only shared state is the read-only breakdown discovery cache.
type Engine struct {
	source    storage.RowSource
	opts      Options
	discovery *discoveryCache
}

// New creates an engine over the given row source.
func New(source storage.RowSource, opts Options) *Engine {
	return &Engine{
		source:    source,
		opts:      opts.normalized(),
		discovery: newDiscoveryCache(),
	}
}

// Report is the output of one engine run. Exactly one of Steps or Trends is
// populated, matching the query mode.
type Report struct {
	RunID string `json:"run_id"`
	Mode  string `json:"mode"`

	Steps  []corefunnel.StepResult         `json:"steps,omitempty"`
	Trends []corefunnel.TrendsPeriodResult `json:"trends,omitempty"`

	RowCount   int `json:"row_count"`
	ActorCount int `json:"actor_count"`
}

// Run executes one funnel query end to end. All-or-nothing: a cancelled
// context or storage failure aborts the run with no partial aggregates.
func (e *Engine) Run(ctx context.Context, spec *corefunnel.QuerySpec) (*Report, error) {
	ev, err := corefunnel.NewEvaluator(spec)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	start := time.Now()

	if spec.Breakdown != nil && !spec.Breakdown.IsCohort() {
		if _, err := e.discovery.domain(ctx, e.source, spec, e.opts.DiscoveryLimit); err != nil {
			if errors.Is(err, corefunnel.ErrEmptyBreakdownDomain) {
				slog.Info("[Engine] Breakdown domain empty, short-circuiting to empty result",
					"run_id", runID,
					"properties", spec.Breakdown.Properties,
				)
				return &Report{RunID: runID, Mode: spec.Mode}, nil
			}
			return nil, err
		}
	}

	results, rowCount, actorCount, err := e.evaluate(ctx, ev)
	if err != nil {
		return nil, err
	}

	results = corefunnel.ApplyBreakdownLimit(spec, results)

	report := &Report{
		RunID:      runID,
		Mode:       spec.Mode,
		RowCount:   rowCount,
		ActorCount: actorCount,
	}

	// Sampling correction runs last, after every count is finalized, and
	// only on count aggregates — never on rates or conversion times.
	switch spec.Mode {
	case corefunnel.ModeTrends:
		report.Trends = corefunnel.AggregateTrends(spec, results)
		corefunnel.CorrectTrends(report.Trends, spec.SamplingFactor)
	default:
		report.Steps = corefunnel.AggregateSteps(spec, results, e.opts.StepActorSample)
		corefunnel.CorrectStepResults(report.Steps, spec.SamplingFactor)
	}

	slog.Info("[Engine] Run complete",
		"run_id", runID,
		"mode", spec.Mode,
		"rows", rowCount,
		"actors", actorCount,
		"duration", time.Since(start),
	)

	return report, nil
}

type actorJob struct {
	actorID string
	rows    []corefunnel.Row
	cohorts []string
}

type workerOutput struct {
	results []corefunnel.ActorResult
	err     error
}

// evaluate fetches rows and resolves every actor through the evaluator.
//
// Actors are independent, so they are sharded across workers by partition
// hash — one actor's rows always stay together on one worker, and the shard
// assignment is deterministic across runs. Aggregation is all-or-nothing: if
// the context is cancelled mid-flight, no partial result set is returned.
func (e *Engine) evaluate(ctx context.Context, ev *corefunnel.Evaluator) ([]corefunnel.ActorResult, int, int, error) {
	spec := ev.Spec()

	events, err := e.source.RetrieveFunnelRows(ctx, storage.RowFilter{
		EventNames: spec.EventNames(),
		From:       spec.DateFrom,
		To:         spec.DateTo,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("retrieve funnel rows: %w", err)
	}

	// Rows arrive sorted by (actor_id, occurred_at); grouping preserves
	// each actor's internal order.
	groups := make(map[string][]corefunnel.Row)
	order := make([]string, 0)
	for _, evt := range events {
		if _, seen := groups[evt.ActorID]; !seen {
			order = append(order, evt.ActorID)
		}
		groups[evt.ActorID] = append(groups[evt.ActorID], corefunnel.Row{
			ActorID:    evt.ActorID,
			Timestamp:  evt.OccurredAt,
			Name:       evt.Name,
			Properties: evt.Properties,
		})
	}

	memberships, err := e.cohortMemberships(ctx, spec, groups)
	if err != nil {
		return nil, 0, 0, err
	}

	workerCount := e.opts.WorkerCount
	if workerCount > len(order) {
		workerCount = len(order)
	}
	if workerCount == 0 {
		return nil, len(events), 0, nil
	}

	shards := make([][]actorJob, workerCount)
	for _, actorID := range order {
		w := partition.For(actorID) % workerCount
		shards[w] = append(shards[w], actorJob{
			actorID: actorID,
			rows:    groups[actorID],
			cohorts: memberships[actorID],
		})
	}

	outputs := make(chan workerOutput, workerCount)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func(jobs []actorJob) {
			defer wg.Done()
			var local []corefunnel.ActorResult
			for _, job := range jobs {
				if ctx.Err() != nil {
					outputs <- workerOutput{err: ctx.Err()}
					return
				}
				results, err := ev.EvaluateActor(job.actorID, job.rows, job.cohorts)
				if err != nil {
					outputs <- workerOutput{err: fmt.Errorf("actor %s: %w", job.actorID, err)}
					return
				}
				local = append(local, results...)
			}
			outputs <- workerOutput{results: local}
		}(shards[w])
	}

	wg.Wait()
	close(outputs)

	var merged []corefunnel.ActorResult
	for out := range outputs {
		if out.err != nil {
			return nil, 0, 0, out.err
		}
		merged = append(merged, out.results...)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}

	return merged, len(events), len(order), nil
}

// cohortMemberships resolves actor → cohort ids for cohort breakdowns.
// Only cohorts named by the spec are consulted, and only actors present in
// the row set are kept.
func (e *Engine) cohortMemberships(ctx context.Context, spec *corefunnel.QuerySpec, groups map[string][]corefunnel.Row) (map[string][]string, error) {
	if spec.Breakdown == nil || !spec.Breakdown.IsCohort() {
		return nil, nil
	}

	memberships := make(map[string][]string)
	for _, cohortID := range spec.Breakdown.Cohorts {
		actors, err := e.source.RetrieveCohortActors(ctx, cohortID)
		if err != nil {
			return nil, fmt.Errorf("retrieve cohort %s: %w", cohortID, err)
		}
		for _, actorID := range actors {
			if _, present := groups[actorID]; present {
				memberships[actorID] = append(memberships[actorID], cohortID)
			}
		}
	}
	return memberships, nil
}
