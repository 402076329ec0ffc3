package evalcache

import (
	"context"
	"errors"
	"log"

	"normgate/internal/judge"
	"normgate/internal/metrics"
	"normgate/internal/resultstore"
)

// Durable layers a result store under the memory cache, scoped to one
// evaluation. The store is read before any oracle call; writes are best
// effort and surface only through logs and metrics, never to the caller.
type Durable struct {
	evaluationID string
	store        resultstore.Store
	mem          *Memory
}

func NewDurable(evaluationID string, store resultstore.Store) *Durable {
	return &Durable{
		evaluationID: evaluationID,
		store:        store,
		mem:          NewMemory(),
	}
}

func (c *Durable) GetOrEvaluate(ctx context.Context, key string, eval Evaluator) (*judge.Verdict, error) {
	return c.mem.GetOrEvaluate(ctx, key, func(ctx context.Context) (*judge.Verdict, error) {
		if c.store != nil {
			stored, err := c.store.GetResult(ctx, c.evaluationID, key)
			if err == nil {
				metrics.CacheHits.WithLabelValues("durable").Inc()
				return stored, nil
			}
			if !errors.Is(err, resultstore.ErrNotFound) {
				// A failed read is a miss; the judgment below still settles it.
				log.Printf("durable cache read failed for %s/%s: %v", c.evaluationID, key, err)
			}
		}

		v, err := eval(ctx)
		if err != nil {
			return nil, err
		}
		if c.store != nil {
			if err := c.store.PutResult(ctx, c.evaluationID, key, v); err != nil {
				metrics.PersistFailures.Inc()
				log.Printf("durable cache write failed for %s/%s: %v", c.evaluationID, key, err)
			}
		}
		return v, nil
	})
}
