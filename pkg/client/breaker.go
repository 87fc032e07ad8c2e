package client

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var breakerTrippedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "zyte_api_circuit_breaker_tripped_total",
	Help: "Total number of clients whose undocumented-error circuit breaker tripped",
})

// Default circuit breaker thresholds: both must hold for the breaker to
// trip.
const (
	breakerMinUndocumented = 10
	breakerMinRatio        = 0.01
)

// breaker is the client-wide safety valve against systemic undocumented
// errors: once at least breakerMinUndocumented undocumented outcomes have
// been observed and they make up at least breakerMinRatio of all attempt
// outcomes, the client stops issuing network calls. Tripping is
// irreversible for the life of the client instance.
type breaker struct {
	mu           sync.Mutex
	total        int64
	undocumented int64
	tripped      bool
}

// allow reports whether a request may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.tripped
}

// record registers one attempt outcome.
func (b *breaker) record(undocumented bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	if undocumented {
		b.undocumented++
	}
	if !b.tripped &&
		b.undocumented >= breakerMinUndocumented &&
		float64(b.undocumented) >= breakerMinRatio*float64(b.total) {
		b.tripped = true
		breakerTrippedTotal.Inc()
	}
}
