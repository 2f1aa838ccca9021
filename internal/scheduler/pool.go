// Package scheduler runs the governor's batch jobs: the daily status
// evaluation, the monthly optimization pass, and the nightly backup. Jobs
// fan out across keys with a bounded worker pool; failures stay per-key.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantpilot/governor/internal/domain"
)

// KeyResult is the outcome of processing one key in a batch.
type KeyResult struct {
	Key domain.Key
	Err error
}

// BatchSummary aggregates a fan-out run.
type BatchSummary struct {
	Total  int
	OK     int
	Failed int
	Errors []KeyResult
}

// FanOut processes keys concurrently with at most workers goroutines.
// A panic or error in one key is captured in its result and never aborts
// sibling keys. Results preserve input order.
func FanOut(ctx context.Context, workers int, keys []domain.Key, fn func(domain.Key) error) BatchSummary {
	if workers < 1 {
		workers = 1
	}

	results := make([]KeyResult, len(keys))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, key := range keys {
		if ctx.Err() != nil {
			results[i] = KeyResult{Key: key, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, key domain.Key) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					results[i] = KeyResult{Key: key, Err: fmt.Errorf("panic processing %s: %v", key, p)}
				}
			}()
			results[i] = KeyResult{Key: key, Err: fn(key)}
		}(i, key)
	}
	wg.Wait()

	summary := BatchSummary{Total: len(keys)}
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, r)
		} else {
			summary.OK++
		}
	}
	return summary
}
