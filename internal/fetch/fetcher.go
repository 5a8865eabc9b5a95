// Package fetch executes a remote operation over many items with bounded
// concurrency, per-attempt timeouts, exponential-backoff retry, and circuit
// breaking. One failing item never fails the batch; its error is recorded
// in the result map and the rest continue.
package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/johndauphine/bizsync/internal/breaker"
	"github.com/johndauphine/bizsync/internal/logging"
)

// Options controls fetch execution.
type Options struct {
	// MaxConcurrent caps in-flight calls within a batch (default 5).
	MaxConcurrent int

	// BatchSize splits items into batches; progress fires per batch
	// (default 10).
	BatchSize int

	// MaxRetries is the total attempts per item (default 3).
	MaxRetries int

	// RetryDelay is the base backoff delay (default 1s).
	RetryDelay time.Duration

	// Timeout bounds each attempt; exceeding it fails the attempt, not the
	// run (default 30s).
	Timeout time.Duration

	// Breaker wraps every attempt for ServiceClass when set. An open
	// circuit fails the item immediately without further retries.
	Breaker      *breaker.Registry
	ServiceClass string

	// Retryable classifies errors; nil retries everything.
	Retryable func(error) bool
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Result is the terminal outcome for one item.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// All fetches every item and returns a result per item key. Keys must be
// unique. onProgress fires after each batch with cumulative completion.
func All[K comparable, T any](
	ctx context.Context,
	items []K,
	fn func(ctx context.Context, item K) (T, error),
	opts Options,
	onProgress func(completed, total int),
) map[K]Result[T] {
	opts = opts.withDefaults()

	results := make(map[K]Result[T], len(items))
	var mu sync.Mutex

	total := len(items)
	completed := 0

	for start := 0; start < len(items); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		sem := make(chan struct{}, opts.MaxConcurrent)
		var wg sync.WaitGroup

		for _, item := range batch {
			select {
			case <-ctx.Done():
				mu.Lock()
				if _, seen := results[item]; !seen {
					results[item] = Result[T]{Err: ctx.Err()}
				}
				mu.Unlock()
				continue
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(it K) {
				defer wg.Done()
				defer func() { <-sem }()

				res := fetchOne(ctx, it, fn, opts)
				mu.Lock()
				results[it] = res
				mu.Unlock()
			}(item)
		}

		wg.Wait()

		completed += len(batch)
		if onProgress != nil {
			onProgress(completed, total)
		}
	}

	return results
}

// fetchOne runs the per-item retry loop. Every attempt, including retries,
// passes through the circuit breaker for the item's service class.
func fetchOne[K comparable, T any](
	ctx context.Context,
	item K,
	fn func(ctx context.Context, item K) (T, error),
	opts Options,
) Result[T] {
	backoff := &Backoff{Base: opts.RetryDelay, MaxAttempts: opts.MaxRetries}

	var lastErr error
	for {
		delay, ok := backoff.Next()
		if !ok {
			return Result[T]{Err: lastErr, Attempts: backoff.Attempt()}
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result[T]{Err: ctx.Err(), Attempts: backoff.Attempt()}
			}
		}

		value, err := attempt(ctx, item, fn, opts)
		if err == nil {
			return Result[T]{Value: value, Attempts: backoff.Attempt()}
		}
		lastErr = err

		if breaker.IsOpen(err) {
			// Fail fast for the rest of the cooldown; retrying would only
			// hammer an open circuit.
			return Result[T]{Err: err, Attempts: backoff.Attempt()}
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return Result[T]{Err: err, Attempts: backoff.Attempt()}
		}
		if ctx.Err() != nil {
			return Result[T]{Err: ctx.Err(), Attempts: backoff.Attempt()}
		}

		logging.Debug("Retrying %v after attempt %d: %v", item, backoff.Attempt(), err)
	}
}

func attempt[K comparable, T any](
	ctx context.Context,
	item K,
	fn func(ctx context.Context, item K) (T, error),
	opts Options,
) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.Breaker != nil {
		return breaker.Execute(opts.Breaker, opts.ServiceClass, func() (T, error) {
			return fn(attemptCtx, item)
		})
	}
	return fn(attemptCtx, item)
}
