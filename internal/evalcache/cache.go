// Package evalcache deduplicates judgment-oracle calls for identical shared
// conditions within one case. Concurrent callers of the same key share one
// in-flight evaluation; completed verdicts are served from memory and deep-
// copied on return so callers cannot corrupt the cached value.
package evalcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"normgate/internal/judge"
	"normgate/internal/metrics"
)

// Evaluator produces the verdict for a key when the cache has none.
type Evaluator func(ctx context.Context) (*judge.Verdict, error)

// Cache guarantees at most one evaluator invocation per key per case.
type Cache interface {
	GetOrEvaluate(ctx context.Context, key string, eval Evaluator) (*judge.Verdict, error)
}

// Memory is the per-run cache layer. Errors are not cached; a failed
// judgment may be retried by a later caller.
type Memory struct {
	flight  singleflight.Group
	mu      sync.RWMutex
	results map[string]*judge.Verdict
}

func NewMemory() *Memory {
	return &Memory{results: make(map[string]*judge.Verdict)}
}

func (c *Memory) GetOrEvaluate(ctx context.Context, key string, eval Evaluator) (*judge.Verdict, error) {
	c.mu.RLock()
	v, ok := c.results[key]
	c.mu.RUnlock()
	if ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return v.Clone(), nil
	}

	// Late joiners block on the same in-flight evaluation; the evaluator's
	// context is the first caller's.
	out, err, _ := c.flight.Do(key, func() (any, error) {
		c.mu.RLock()
		v, ok := c.results[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, evalErr := eval(ctx)
		if evalErr != nil {
			return nil, evalErr
		}
		c.mu.Lock()
		c.results[key] = v.Clone()
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*judge.Verdict).Clone(), nil
}
