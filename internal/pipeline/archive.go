package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// Archiver stores accepted readings for later analysis
type Archiver interface {
	StoreReading(ctx context.Context, r *types.TelemetryReading) error
}

// BreakerConfig configures the archive circuit breaker
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// breakerArchiver fails fast while the archive database is unreachable so a
// down Postgres cannot stall the dispatch loop.
type breakerArchiver struct {
	inner   Archiver
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func newBreakerArchiver(inner Archiver, cfg BreakerConfig, logger *slog.Logger) *breakerArchiver {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "archive",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &breakerArchiver{inner: inner, breaker: cb}
}

func (a *breakerArchiver) StoreReading(ctx context.Context, r *types.TelemetryReading) error {
	_, err := a.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, a.inner.StoreReading(ctx, r)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: archive circuit open: %v", types.ErrStorageUnavailable, err)
	}
	return err
}

func (a *breakerArchiver) State() gobreaker.State {
	return a.breaker.State()
}
