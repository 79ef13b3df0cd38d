package partition

import "hash/fnv"

// Count is the fixed number of logical partitions.
// Never changes after initial deployment — it's a capacity decision, not a scaling decision.
const Count = 256

// For returns the partition ID for a given actor ID.
// Stable and deterministic: same actorID always maps to the same partition,
// so one actor's rows always land on the same worker.
// Uses FNV-32a (stdlib, fast, well-distributed).
func For(actorID string) int {
	h := fnv.New32a()
	h.Write([]byte(actorID))
	return int(h.Sum32()) % Count
}
