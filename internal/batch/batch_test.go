package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbers(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestRunBoundsConcurrency(t *testing.T) {
	const limit = 3
	for _, n := range []int{limit, 2 * limit, 10 * limit} {
		t.Run(fmt.Sprintf("%d items", n), func(t *testing.T) {
			var inFlight, peak atomic.Int32
			worker := func(ctx context.Context, i int) (int, error) {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return i * i, nil
			}

			results, stats := Run(context.Background(), numbers(n), worker, Options[int]{MaxConcurrency: limit})

			assert.LessOrEqual(t, peak.Load(), int32(limit))
			assert.Positive(t, peak.Load())
			assert.Len(t, results, n)
			assert.Equal(t, n, stats.Succeeded)
			assert.Zero(t, stats.Failed)
			assert.NoError(t, stats.Err())
		})
	}
}

func TestRunPreservesOrder(t *testing.T) {
	items := numbers(8)
	worker := func(ctx context.Context, i int) (string, error) {
		time.Sleep(time.Duration(len(items)-i) * time.Millisecond)
		return fmt.Sprintf("item-%d", i), nil
	}

	results, _ := Run(context.Background(), items, worker, Options[int]{MaxConcurrency: 4})

	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item-%d", i), r)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	worker := func(ctx context.Context, i int) (int, error) {
		switch {
		case i == 3:
			panic("bad workbook")
		case i%2 == 1:
			return 0, boom
		}
		return i, nil
	}

	results, stats := Run(context.Background(), numbers(6), worker, Options[int]{
		MaxConcurrency: 2,
		Name:           func(i int) string { return fmt.Sprintf("target-%d.xlsx", i) },
	})

	assert.Equal(t, []int{0, 2, 4}, results)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 3, stats.Failed)
	require.Len(t, stats.Failures, 3)
	assert.Equal(t, 1, stats.Failures[0].Index)
	assert.Equal(t, "target-1.xlsx", stats.Failures[0].Name)
	assert.ErrorIs(t, stats.Failures[0].Err, boom)
	assert.Contains(t, stats.Failures[1].Err.Error(), "bad workbook")
}

func TestRunProgress(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []int
		seen  = map[int]bool{}
	)
	worker := func(ctx context.Context, i int) (int, error) { return i, nil }

	Run(context.Background(), numbers(5), worker, Options[int]{
		MaxConcurrency: 2,
		OnProgress: func(completed, total int, item int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 5, total)
			calls = append(calls, completed)
			seen[item] = true
		},
	})

	assert.Equal(t, []int{1, 2, 3, 4, 5}, calls)
	assert.Len(t, seen, 5)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	worker := func(ctx context.Context, i int) (int, error) {
		started.Add(1)
		cancel()
		return i, nil
	}

	results, stats := Run(ctx, numbers(5), worker, Options[int]{MaxConcurrency: 1})

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, []int{0}, results)
	assert.Equal(t, 4, stats.Skipped)
	assert.True(t, stats.Canceled)
	assert.ErrorIs(t, stats.Err(), pkgerrors.ErrCanceled)
}

func TestRunEmpty(t *testing.T) {
	results, stats := Run(context.Background(), nil, func(ctx context.Context, i int) (int, error) { return i, nil }, Options[int]{})
	assert.Empty(t, results)
	assert.Zero(t, stats.Total)
}

func TestThrottle(t *testing.T) {
	var fired []int
	progress := Throttle(time.Hour, func(completed, total int, item string) {
		fired = append(fired, completed)
	})

	for i := 1; i <= 4; i++ {
		progress(i, 4, "x")
	}
	assert.Equal(t, []int{1, 4}, fired)

	fired = nil
	progress = Throttle(0, func(completed, total int, item string) {
		fired = append(fired, completed)
	})
	for i := 1; i <= 3; i++ {
		progress(i, 3, "x")
	}
	assert.Equal(t, []int{1, 2, 3}, fired)
}
