package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	v1 "github.com/converge-lab/project-converge/internal/api/v1"
	"github.com/converge-lab/project-converge/internal/core/storage"
)

// pgQueryCanceled is the postgres error code raised when a statement is
// cancelled, typically by statement_timeout or a cancelled context.
const pgQueryCanceled = "57014"

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a funnel row into an Event struct, unmarshalling the
// JSONB property bag. Compatible with both sql.Row and sql.Rows.
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var propertiesJSON []byte

	err := row.Scan(
		&evt.ActorID,
		&evt.Name,
		&evt.OccurredAt,
		&propertiesJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if len(propertiesJSON) > 0 {
		if err := json.Unmarshal(propertiesJSON, &evt.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}

	return &evt, nil
}

// mapQueryErr maps driver-level timeouts and cancellations to the storage
// taxonomy so callers can distinguish retryable failures. Everything else is
// wrapped with the failing operation.
func mapQueryErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &pqErr) && pqErr.Code == pgQueryCanceled) {
		return fmt.Errorf("%s: %w", op, storage.ErrTimeout)
	}

	return fmt.Errorf("%s: %w", op, err)
}
