package energy

import (
	"sync"
	"time"

	sdk "github.com/wattscope/wattscope/pkg/energy"
)

// analyticsCache memoizes the last computed analytics bundle for a short
// TTL. Every ingest invalidates it eagerly so reads after a device-state
// change never serve stale results.
type analyticsCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	bundle     sdk.AnalyticsBundle
	computedAt time.Time
	valid      bool
}

func newAnalyticsCache(ttl time.Duration) *analyticsCache {
	return &analyticsCache{ttl: ttl}
}

// get returns the cached bundle while fresh, otherwise recomputes via fn
// and caches the result. Computation runs under the cache lock so
// concurrent readers don't duplicate the work.
func (c *analyticsCache) get(fn func() sdk.AnalyticsBundle) (sdk.AnalyticsBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && time.Since(c.computedAt) < c.ttl {
		return c.bundle, true
	}
	c.bundle = fn()
	c.computedAt = time.Now()
	c.valid = true
	return c.bundle, false
}

// invalidate drops the cached bundle.
func (c *analyticsCache) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
