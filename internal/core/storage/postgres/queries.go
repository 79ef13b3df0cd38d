package postgres

import (
	"fmt"
	"strings"
)

// SQL queries for the funnel read path. Step/date filters are pushed down so
// the engine only scans relevant rows.

const (
	// queryRetrieveFunnelRows fetches the windowed event set for one run.
	// Sorted by (actor_id, occurred_at) so one actor's rows arrive
	// contiguous and time-ordered — the engine's partitioning contract.
	queryRetrieveFunnelRows = `
		SELECT actor_id, name, occurred_at, properties
		FROM events
		WHERE name = ANY($1)
		  AND occurred_at >= $2
		  AND occurred_at < $3
		ORDER BY actor_id ASC, occurred_at ASC
	`

	// queryRetrieveCohortActors lists a cohort's members in a stable order.
	queryRetrieveCohortActors = `
		SELECT actor_id
		FROM cohort_members
		WHERE cohort_id = $1
		ORDER BY actor_id ASC
	`
)

// buildDiscoveryQuery composes the breakdown-domain query for propCount
// breakdown keys. Multi-property domains concatenate component values with
// the engine's separator inside the database, so ranking happens over the
// joined value. Placeholders $1..$propCount are the property keys; the tail
// placeholders are names array, from, to, empty-value sentinel, limit.
func buildDiscoveryQuery(propCount int, separator string) string {
	components := make([]string, propCount)
	for i := 0; i < propCount; i++ {
		components[i] = fmt.Sprintf("COALESCE(properties->>$%d, '')", i+1)
	}

	expr := components[0]
	if propCount > 1 {
		expr = fmt.Sprintf("concat_ws('%s', %s)", separator, strings.Join(components, ", "))
	}

	base := propCount
	return fmt.Sprintf(`
		SELECT %[1]s AS value
		FROM events
		WHERE name = ANY($%[2]d)
		  AND occurred_at >= $%[3]d
		  AND occurred_at < $%[4]d
		  AND %[1]s <> $%[5]d
		GROUP BY value
		ORDER BY count(*) DESC, value ASC
		LIMIT $%[6]d
	`, expr, base+1, base+2, base+3, base+4, base+5)
}
