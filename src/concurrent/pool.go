// Package concurrent runs independent, read-only calls side by side.
package concurrent

import (
	"context"
	"sync"
)

// DefaultLimit is used when a caller passes a non-positive limit.
const DefaultLimit = 4

// Join runs fn for every item with at most limit calls in flight and returns
// the results in input order. fn reports failures inside R; Join only fails
// when ctx ends, in which case the partial results are dropped.
func Join[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, idx int, item T) R) ([]R, error) {
	if len(items) == 0 {
		return nil, ctx.Err()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	results := make([]R, len(items))
	if len(items) == 1 || limit == 1 {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = fn(ctx, i, item)
		}
		return results, ctx.Err()
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)
	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
				results[idx] = fn(ctx, idx, val)
			}
		}(i, item)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Pool caps the number of concurrent calls shared by several callers.
type Pool struct {
	sem chan struct{}
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultLimit
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do waits for a free slot, then runs fn.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
		return fn()
	}
}
