package v1

import (
	"fmt"
	"time"
)

// Event is one row of the event stream as the storage collaborator hands it
// to the engine: an actor, a moment in time, and a property bag.
type Event struct {
	// ActorID identifies the entity being funneled — a person, group, or
	// session depending on the aggregation mode of the query.
	// Examples: "person:alice@example.com", "group:acme", "session:7f3a".
	ActorID string `json:"actor_id"`

	// Name is the domain event name the row was filtered on
	// (e.g. "sign up", "play movie", "buy").
	Name string `json:"name"`

	// OccurredAt is when the event happened (client-side clock). Rows are
	// delivered sorted by (actor_id, occurred_at) ascending.
	OccurredAt time.Time `json:"occurred_at"`

	// Properties is the event's property bag, used by step predicates and
	// breakdown attribution.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Validate ensures the event carries the attributes the engine depends on.
func (e *Event) Validate() error {
	if e.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}

	if e.Name == "" {
		return fmt.Errorf("name is required")
	}

	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	return nil
}
