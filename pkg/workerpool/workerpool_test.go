package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrej220/authclear/pkg/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[R any](ch <-chan R) []R {
	var out []R
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestPoolYieldsOneResultPerPayload(t *testing.T) {
	pool := workerpool.NewPool(3, func(_ context.Context, n int) int { return n * 2 })

	got := collect(pool.Run(context.Background(), []int{1, 2, 3, 4, 5, 6, 7}))

	assert.ElementsMatch(t, []int{2, 4, 6, 8, 10, 12, 14}, got)
	assert.Equal(t, int32(0), pool.ActiveWorkers())
}

func TestPoolEmptyInput(t *testing.T) {
	pool := workerpool.NewPool(2, func(_ context.Context, n int) int { return n })
	assert.Empty(t, collect(pool.Run(context.Background(), nil)))
}

func TestPoolNeverExceedsMaxWorkers(t *testing.T) {
	const limit = 2
	var inFlight, peak int32
	pool := workerpool.NewPool(limit, func(_ context.Context, n int) int {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return n
	})

	got := collect(pool.Run(context.Background(), []int{1, 2, 3, 4, 5, 6}))

	assert.Len(t, got, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
	assert.Equal(t, int32(limit), atomic.LoadInt32(&peak))
}

func TestPoolCompletionOrder(t *testing.T) {
	pool := workerpool.NewPool(2, func(_ context.Context, d time.Duration) time.Duration {
		time.Sleep(d)
		return d
	})

	got := collect(pool.Run(context.Background(), []time.Duration{80 * time.Millisecond, 5 * time.Millisecond}))

	require.Len(t, got, 2)
	assert.Equal(t, 5*time.Millisecond, got[0])
}

func TestPoolDefaultSize(t *testing.T) {
	pool := workerpool.NewPool(0, func(_ context.Context, n int) int { return n })
	assert.Equal(t, workerpool.TotalMaxWorkers, pool.MaxWorkers())
}

func TestPoolIsReusable(t *testing.T) {
	var calls int32
	pool := workerpool.NewPool(2, func(_ context.Context, n int) int {
		atomic.AddInt32(&calls, 1)
		return n
	})

	assert.Len(t, collect(pool.Run(context.Background(), []int{1, 2, 3})), 3)
	assert.Len(t, collect(pool.Run(context.Background(), []int{1, 2, 3})), 3)
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls))
}
