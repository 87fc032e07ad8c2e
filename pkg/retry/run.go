package retry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zyte_api_retries_total",
		Help: "Total number of retry attempts by fault class",
	}, []string{"fault_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zyte_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by fault class",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"fault_class"})

	retryStoppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zyte_api_retry_stopped_total",
		Help: "Total number of times the retry budget was exhausted by fault class",
	}, []string{"fault_class"})
)

// Run executes fn until it succeeds, the policy stops, or the context is
// cancelled. Every returned error is inspected for a Fault (via the Faulter
// interface); errors without one are terminal. The final error is returned
// as-is, never wrapped.
func Run(ctx context.Context, policy *Policy, logger zerolog.Logger, fn func(context.Context) error) error {
	state := NewState()

	for {
		err := fn(ctx)
		if err == nil {
			if state.Attempt > 0 {
				logger.Info().
					Int("attempts", state.Attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		var faulter Faulter
		if !errors.As(err, &faulter) {
			return err
		}
		fault := faulter.Fault()
		state.Record(fault)

		if policy.Stop(state, fault) {
			retryStoppedTotal.WithLabelValues(fault.Kind.String()).Inc()
			logger.Warn().
				Str("fault_class", fault.Kind.String()).
				Int("attempts", state.Attempt).
				Msg("Retry budget exhausted")
			return err
		}

		backoff := policy.Wait(state, fault)
		retriesTotal.WithLabelValues(fault.Kind.String()).Inc()
		retryBackoffSeconds.WithLabelValues(fault.Kind.String()).Observe(backoff.Seconds())

		logger.Debug().
			Str("fault_class", fault.Kind.String()).
			Int("status", fault.Status).
			Int("attempt", state.Attempt).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
