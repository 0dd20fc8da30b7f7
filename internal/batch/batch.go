// =============================================================================
// BOQ Rate Filler - Batch Orchestrator
// =============================================================================
//
// This module runs one worker per item with bounded concurrency. It is used by
// the 'batch' command to reconcile many target workbooks against one draft.
//
// CONCURRENCY MODEL:
//   - A weighted semaphore caps the number of workers in flight
//   - Each worker writes only its own result slot
//   - Completions fan in over a channel to a single collector goroutine,
//     which owns the completed counter and calls OnProgress
//
// ERROR HANDLING:
//   - A failing item is logged and counted; siblings keep running
//   - A panicking worker is recovered and counted as a failure
//   - Cancellation stops new items from starting; running items finish
//
// =============================================================================

package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency is the worker limit when Options.MaxConcurrency is unset.
const DefaultMaxConcurrency = 3

// Worker processes one item.
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

// Options configures a batch run.
type Options[T any] struct {
	// MaxConcurrency caps workers in flight.
	// Default: 3
	MaxConcurrency int

	// OnProgress is called once per finished item, from a single goroutine.
	OnProgress func(completed, total int, item T)

	// Name labels an item in log lines. Default: the item's index.
	Name func(item T) string

	// Logger receives one warning per failed item. Default: disabled.
	Logger *zerolog.Logger
}

// Failure records one item that did not produce a result.
type Failure struct {
	Index int
	Name  string
	Err   error
}

// Stats summarizes a batch run.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int

	// Skipped counts items never started because the context was canceled.
	Skipped int

	Canceled bool
	Failures []Failure
	Duration time.Duration
}

type slot[R any] struct {
	value R
	err   error
	ran   bool
}

// Run processes items with at most opts.MaxConcurrency workers at a time.
//
// PARAMETERS:
//   - ctx: checked before each acquisition and again before each item starts
//   - items: the work list
//   - worker: called once per started item
//   - opts: limits, progress callback and logging
//
// RETURNS:
//   - The results of successful items, in the original relative order
//   - Counts of succeeded, failed and skipped items
func Run[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options[T]) ([]R, Stats) {
	start := time.Now()
	stats := Stats{Total: len(items)}

	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	name := opts.Name
	if name == nil {
		name = func(T) string { return "" }
	}

	// =========================================================================
	// STEP 1: START THE COLLECTOR
	// =========================================================================

	slots := make([]slot[R], len(items))
	done := make(chan int, len(items))
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		completed := 0
		for i := range done {
			completed++
			if opts.OnProgress != nil {
				opts.OnProgress(completed, len(items), items[i])
			}
		}
	}()

	// =========================================================================
	// STEP 2: DISPATCH WORKERS
	// =========================================================================

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)

			if ctx.Err() != nil {
				return
			}
			value, err := call(ctx, worker, items[i])
			slots[i] = slot[R]{value: value, err: err, ran: true}
			done <- i
		}(i)
	}

	wg.Wait()
	close(done)
	<-collected

	// =========================================================================
	// STEP 3: TALLY
	// =========================================================================

	results := make([]R, 0, len(items))
	for i, s := range slots {
		switch {
		case !s.ran:
			stats.Skipped++
		case s.err != nil:
			stats.Failed++
			label := name(items[i])
			stats.Failures = append(stats.Failures, Failure{Index: i, Name: label, Err: s.err})
			logger.Warn().Err(s.err).Int("index", i).Str("item", label).Msg("batch item failed")
		default:
			stats.Succeeded++
			results = append(results, s.value)
		}
	}
	stats.Canceled = ctx.Err() != nil && stats.Skipped > 0
	stats.Duration = time.Since(start)
	return results, stats
}

func call[T, R any](ctx context.Context, worker Worker[T, R], item T) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return worker(ctx, item)
}

// Err reports the run's cancellation as an error, or nil.
func (s Stats) Err() error {
	if s.Canceled {
		return fmt.Errorf("%w: %d of %d items not started", pkgerrors.ErrCanceled, s.Skipped, s.Total)
	}
	return nil
}

// Throttle wraps a progress callback so it fires at most once per interval.
// The final call (completed == total) always fires.
func Throttle[T any](interval time.Duration, fn func(completed, total int, item T)) func(completed, total int, item T) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(completed, total int, item T) {
		mu.Lock()
		now := time.Now()
		fire := completed >= total || last.IsZero() || now.Sub(last) >= interval
		if fire {
			last = now
		}
		mu.Unlock()
		if fire {
			fn(completed, total, item)
		}
	}
}
