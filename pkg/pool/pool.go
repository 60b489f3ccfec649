package pool

import (
	"context"
	"sync"
)

// WorkerFunc processes one item and may return an error.
type WorkerFunc[T any] func(ctx context.Context, item T) error

// MapFunc turns one item into a result.
type MapFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Result is the outcome for the item at Index of the input slice.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Map runs fn over items with numWorkers goroutines and returns one Result per
// item, in input order. Items not started before ctx is cancelled get ctx.Err().
func Map[T, R any](ctx context.Context, items []T, numWorkers int, fn MapFunc[T, R]) []Result[R] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	results := make([]Result[R], len(items))
	for i := range results {
		results[i].Index = i
	}

	var wg sync.WaitGroup
	taskChan := make(chan int, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskChan {
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				results[i].Value, results[i].Err = fn(ctx, items[i])
			}
		}()
	}

	next := 0
OUT:
	for ; next < len(items); next++ {
		select {
		case taskChan <- next:
		case <-ctx.Done():
			break OUT
		}
	}
	close(taskChan)
	wg.Wait()

	for ; next < len(items); next++ {
		results[next].Err = ctx.Err()
	}
	return results
}

// Run processes items concurrently and returns the errors of the items that
// failed, in input order. Items skipped because ctx was cancelled are not reported.
func Run[T any](ctx context.Context, items []T, numWorkers int, workerFunc WorkerFunc[T]) []error {
	results := Map(ctx, items, numWorkers, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, workerFunc(ctx, item)
	})

	var allErrors []error
	for _, r := range results {
		if r.Err != nil && r.Err != ctx.Err() {
			allErrors = append(allErrors, r.Err)
		}
	}
	return allErrors
}
