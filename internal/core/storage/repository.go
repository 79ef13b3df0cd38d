package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/converge-lab/project-converge/internal/api/v1"
)

// ErrTimeout is returned when the event store could not answer in time.
// Retryable by the caller; the engine itself never retries and never caches
// a partial aggregate built on top of one.
var ErrTimeout = errors.New("event storage timeout")

// RowFilter is the pushdown filter for funnel row retrieval: storage applies
// the event-name and date-range filters so the engine only ever sees
// relevant rows.
type RowFilter struct {
	// EventNames is the union of step and exclusion event names.
	EventNames []string

	// From is inclusive, To exclusive.
	From time.Time
	To   time.Time
}

// DiscoveryFilter selects the candidate breakdown value domain for a query.
type DiscoveryFilter struct {
	// Properties are the breakdown property keys. Multi-property domains are
	// joined value combinations.
	Properties []string

	EventNames []string
	From       time.Time
	To         time.Time

	// Limit caps the number of discovered values, ranked by frequency.
	Limit int
}

// RowSource is the engine's read path into the event store.
type RowSource interface {
	// RetrieveFunnelRows fetches the filtered event rows, sorted by
	// (actor_id, occurred_at) ascending so one actor's rows are contiguous.
	RetrieveFunnelRows(ctx context.Context, f RowFilter) ([]*v1.Event, error)

	// DiscoverPropertyValues returns the distinct non-empty breakdown values
	// present in the filtered rows, most frequent first.
	DiscoverPropertyValues(ctx context.Context, f DiscoveryFilter) ([]string, error)

	// RetrieveCohortActors returns the actor ids belonging to a cohort,
	// sorted ascending.
	RetrieveCohortActors(ctx context.Context, cohortID string) ([]string, error)
}
