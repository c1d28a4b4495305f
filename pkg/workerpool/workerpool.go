package workerpool

import (
	"context"
	"sync/atomic"

	"github.com/andrej220/authclear/pkg/lg"
	"golang.org/x/sync/errgroup"
)

const TotalMaxWorkers = 10

// JobFunc processes one payload and always returns a result.
// Failures are expected to be encoded in R, not returned as errors.
type JobFunc[T, R any] func(context.Context, T) R

// Pool is a fixed-size worker pool. Each worker takes one payload from a shared
// queue, runs it to completion and only then takes the next one.
type Pool[T, R any] struct {
	fn            JobFunc[T, R]
	maxWorkers    int
	activeWorkers int32
}

func NewPool[T, R any](maxWorkers int, fn JobFunc[T, R]) *Pool[T, R] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	return &Pool[T, R]{
		fn:         fn,
		maxWorkers: maxWorkers,
	}
}

// Run queues every payload and returns a channel that yields one result per
// payload in completion order. The channel is closed once all payloads have
// been processed.
func (p *Pool[T, R]) Run(ctx context.Context, payloads []T) <-chan R {
	results := make(chan R, len(payloads))
	jobs := make(chan T, len(payloads))
	for _, payload := range payloads {
		jobs <- payload
	}
	close(jobs)

	workers := p.maxWorkers
	if len(payloads) < workers {
		workers = len(payloads)
	}

	logger := lg.FromContext(ctx)
	logger.Debug("Starting worker pool",
		lg.Int("workers", workers),
		lg.Int("jobs", len(payloads)))

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for payload := range jobs {
				results <- p.do(ctx, payload)
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
		logger.Debug("Worker pool drained", lg.Int("jobs", len(payloads)))
	}()

	return results
}

func (p *Pool[T, R]) do(ctx context.Context, payload T) R {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	return p.fn(ctx, payload)
}

// ActiveWorkers reports how many jobs are executing right now.
func (p *Pool[T, R]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}

// MaxWorkers reports the pool size.
func (p *Pool[T, R]) MaxWorkers() int {
	return p.maxWorkers
}
