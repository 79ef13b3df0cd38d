package funnel

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	corefunnel "github.com/converge-lab/project-converge/internal/core/funnel"
	"github.com/converge-lab/project-converge/internal/core/storage"
)

// discoveryCache memoizes breakdown value discovery per spec fingerprint.
// Concurrent runs of the same spec share one storage round trip via
// singleflight. The cache holds successful discoveries only; invalidation is
// caller-controlled (see Engine.InvalidateDiscovery) — this is deliberately
// not a process-wide singleton.
type discoveryCache struct {
	group   singleflight.Group
	mu      sync.Mutex
	domains map[string][]string
}

func newDiscoveryCache() *discoveryCache {
	return &discoveryCache{domains: make(map[string][]string)}
}

// domain returns the breakdown value domain for a spec, discovering it once
// per fingerprint. Returns ErrEmptyBreakdownDomain when no candidate values
// exist, so callers can short-circuit to an empty result.
func (c *discoveryCache) domain(ctx context.Context, source storage.RowSource, spec *corefunnel.QuerySpec, defaultLimit int) ([]string, error) {
	key := spec.Fingerprint()

	c.mu.Lock()
	cached, ok := c.domains[key]
	c.mu.Unlock()
	if !ok {
		v, err, _ := c.group.Do(key, func() (interface{}, error) {
			limit := spec.Breakdown.Limit
			if limit <= 0 {
				limit = defaultLimit
			}
			values, err := source.DiscoverPropertyValues(ctx, storage.DiscoveryFilter{
				Properties: spec.Breakdown.Properties,
				EventNames: spec.EventNames(),
				From:       spec.DateFrom,
				To:         spec.DateTo,
				Limit:      limit,
			})
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.domains[key] = values
			c.mu.Unlock()
			return values, nil
		})
		if err != nil {
			return nil, err
		}
		cached = v.([]string)
	}

	if len(cached) == 0 {
		return nil, corefunnel.ErrEmptyBreakdownDomain
	}
	return cached, nil
}

func (c *discoveryCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.domains, key)
	c.mu.Unlock()
}

// InvalidateDiscovery drops the cached breakdown value domain for a spec.
// Callers invalidate when the underlying event set changed under them.
func (e *Engine) InvalidateDiscovery(spec *corefunnel.QuerySpec) {
	e.discovery.invalidate(spec.Fingerprint())
}
