package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johndauphine/bizsync/internal/breaker"
)

var errFlaky = errors.New("transient failure")

func fastOpts() Options {
	return Options{
		MaxConcurrent: 3,
		BatchSize:     10,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		Timeout:       time.Second,
	}
}

func TestAllSuccess(t *testing.T) {
	items := []string{"loc1", "loc2", "loc3", "loc4", "loc5"}

	results := All(context.Background(), items,
		func(ctx context.Context, item string) (string, error) {
			return "data-" + item, nil
		},
		fastOpts(), nil)

	if len(results) != len(items) {
		t.Fatalf("results = %d, want %d", len(results), len(items))
	}
	for _, item := range items {
		res, ok := results[item]
		if !ok {
			t.Fatalf("missing result for %s", item)
		}
		if res.Err != nil {
			t.Errorf("%s: unexpected error %v", item, res.Err)
		}
		if res.Value != "data-"+item {
			t.Errorf("%s: value = %q", item, res.Value)
		}
	}
}

func TestFailingItemDoesNotFailBatch(t *testing.T) {
	items := []string{"loc1", "loc2", "loc3"}

	results := All(context.Background(), items,
		func(ctx context.Context, item string) (int, error) {
			if item == "loc2" {
				return 0, errFlaky
			}
			return 1, nil
		},
		fastOpts(), nil)

	if results["loc1"].Err != nil || results["loc3"].Err != nil {
		t.Error("healthy items should succeed despite loc2 failing")
	}
	if !errors.Is(results["loc2"].Err, errFlaky) {
		t.Errorf("loc2 err = %v, want %v", results["loc2"].Err, errFlaky)
	}
}

func TestRetryBound(t *testing.T) {
	var calls atomic.Int32

	results := All(context.Background(), []string{"loc1"},
		func(ctx context.Context, item string) (int, error) {
			calls.Add(1)
			return 0, errFlaky
		},
		fastOpts(), nil)

	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly MaxRetries (3)", got)
	}
	if results["loc1"].Attempts != 3 {
		t.Errorf("recorded attempts = %d, want 3", results["loc1"].Attempts)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32

	results := All(context.Background(), []string{"loc1"},
		func(ctx context.Context, item string) (string, error) {
			if calls.Add(1) < 3 {
				return "", errFlaky
			}
			return "ok", nil
		},
		fastOpts(), nil)

	res := results["loc1"]
	if res.Err != nil {
		t.Fatalf("err = %v, want success on third attempt", res.Err)
	}
	if res.Value != "ok" || res.Attempts != 3 {
		t.Errorf("result = %+v, want ok after 3 attempts", res)
	}
}

func TestNonRetryableStopsEarly(t *testing.T) {
	var calls atomic.Int32
	opts := fastOpts()
	opts.Retryable = func(err error) bool {
		return !strings.Contains(err.Error(), "permanent")
	}

	All(context.Background(), []string{"loc1"},
		func(ctx context.Context, item string) (int, error) {
			calls.Add(1)
			return 0, errors.New("permanent rejection")
		},
		opts, nil)

	if got := calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable error", got)
	}
}

func TestConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	opts := fastOpts()
	opts.MaxConcurrent = 2
	opts.BatchSize = 20

	items := make([]int, 12)
	for i := range items {
		items[i] = i
	}

	All(context.Background(), items,
		func(ctx context.Context, item int) (int, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return item, nil
		},
		opts, nil)

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestProgressPerBatch(t *testing.T) {
	var mu sync.Mutex
	var events [][2]int

	opts := fastOpts()
	opts.BatchSize = 2

	items := []int{1, 2, 3, 4, 5}
	All(context.Background(), items,
		func(ctx context.Context, item int) (int, error) { return item, nil },
		opts,
		func(completed, total int) {
			mu.Lock()
			events = append(events, [2]int{completed, total})
			mu.Unlock()
		})

	want := [][2]int{{2, 5}, {4, 5}, {5, 5}}
	if len(events) != len(want) {
		t.Fatalf("progress events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestBreakerFailsFastAcrossItems(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Settings{Threshold: 3, Cooldown: time.Minute})
	opts := fastOpts()
	opts.MaxConcurrent = 1
	opts.MaxRetries = 1
	opts.Breaker = reg
	opts.ServiceClass = "reviews"

	var calls atomic.Int32
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	results := All(context.Background(), items,
		func(ctx context.Context, item int) (int, error) {
			calls.Add(1)
			return 0, errFlaky
		},
		opts, nil)

	// Threshold failures invoke the operation; after that the breaker
	// rejects without calling through.
	if got := calls.Load(); got != 3 {
		t.Errorf("underlying calls = %d, want 3 (threshold)", got)
	}
	failFast := 0
	for _, res := range results {
		if breaker.IsOpen(res.Err) {
			failFast++
		}
	}
	if failFast != 7 {
		t.Errorf("fail-fast results = %d, want 7", failFast)
	}
}

func TestTimeoutFailsAttemptNotRun(t *testing.T) {
	opts := fastOpts()
	opts.Timeout = 10 * time.Millisecond
	opts.MaxRetries = 2

	var calls atomic.Int32
	results := All(context.Background(), []string{"slow", "fast"},
		func(ctx context.Context, item string) (string, error) {
			calls.Add(1)
			if item == "slow" {
				select {
				case <-time.After(200 * time.Millisecond):
					return "late", nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			return "ok", nil
		},
		opts, nil)

	if results["fast"].Err != nil {
		t.Errorf("fast item should succeed, got %v", results["fast"].Err)
	}
	if !errors.Is(results["slow"].Err, context.DeadlineExceeded) {
		t.Errorf("slow err = %v, want deadline exceeded", results["slow"].Err)
	}
	if results["slow"].Attempts != 2 {
		t.Errorf("slow attempts = %d, want 2 (timeout is retryable)", results["slow"].Attempts)
	}
}

func TestUniqueKeys(t *testing.T) {
	items := make([]string, 30)
	for i := range items {
		items[i] = fmt.Sprintf("loc%d", i)
	}
	results := All(context.Background(), items,
		func(ctx context.Context, item string) (string, error) { return item, nil },
		fastOpts(), nil)
	if len(results) != 30 {
		t.Errorf("result keys = %d, want 30 unique", len(results))
	}
}
