package oracle

import (
	"context"
	"encoding/json"
	"time"

	"stallplan/internal/cache"
	"stallplan/internal/placement"
)

// Cached memoizes another oracle by feature vector. Cache failures never
// fail a prediction; they only cost a model call.
type Cached struct {
	Oracle Oracle
	Cache  cache.Cache
	TTL    time.Duration
	// Namespace separates models sharing one cache.
	Namespace string
}

func (c Cached) key(features []float64) string {
	return cache.Key("oracle:"+c.Namespace, features)
}

func (c Cached) Predict(ctx context.Context, features []float64) ([]placement.Candidate, error) {
	key := c.key(features)
	if data, hit, err := c.Cache.Get(ctx, key); err == nil && hit {
		var cands []placement.Candidate
		if json.Unmarshal(data, &cands) == nil {
			return cands, nil
		}
	}
	cands, err := c.Oracle.Predict(ctx, features)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cands); err == nil {
		_ = c.Cache.Set(ctx, key, data, c.TTL)
	}
	return cands, nil
}
