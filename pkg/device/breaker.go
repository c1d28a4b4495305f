package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrej220/authclear/pkg/lg"
	"github.com/sony/gobreaker"
)

// BreakerConnector trips a circuit breaker per switch address after
// repeated connect failures, so the remaining tasks for an unreachable switch
// fail fast instead of each waiting out the dial timeout. It never retries.
// It is opt-in: with it enabled, tasks behind an open breaker fail without a
// connect attempt of their own.
type BreakerConnector struct {
	next        Connector
	threshold   uint32
	openTimeout time.Duration
	logger      lg.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerConnector wraps next. A threshold of 0 disables the breaker and
// returns next unchanged.
func NewBreakerConnector(next Connector, threshold uint32, openTimeout time.Duration, logger lg.Logger) Connector {
	if threshold == 0 {
		return next
	}
	if logger == nil {
		logger = lg.Discard
	}
	return &BreakerConnector{
		next:        next,
		threshold:   threshold,
		openTimeout: openTimeout,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *BreakerConnector) breaker(address string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[address]; ok {
		return cb
	}
	threshold := b.threshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        address,
		MaxRequests: 1,
		Timeout:     b.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("Circuit breaker state changed",
				lg.String("switch", name),
				lg.String("from", from.String()),
				lg.String("to", to.String()))
		},
	})
	b.breakers[address] = cb
	return cb
}

func (b *BreakerConnector) Connect(ctx context.Context, target Target) (Session, error) {
	cb := b.breaker(target.Address)
	res, err := cb.Execute(func() (any, error) {
		return b.next.Connect(ctx, target)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w for %s", ErrCircuitOpen, target.Address)
	}
	if err != nil {
		return nil, err
	}
	return res.(Session), nil
}

// State reports the breaker state for address; unknown addresses are closed.
func (b *BreakerConnector) State(address string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.breakers[address]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
