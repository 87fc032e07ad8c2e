// Package stats records aggregate statistics shared by all in-flight
// logical requests of one client: plain counters, status and fault
// histograms, and running time distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Distribution accumulates a running mean and variance (Welford's online
// algorithm). Not safe for concurrent use on its own; AggStats guards it.
type Distribution struct {
	n    int64
	mean float64
	m2   float64
}

// Push adds an observation.
func (d *Distribution) Push(v float64) {
	d.n++
	delta := v - d.mean
	d.mean += delta / float64(d.n)
	d.m2 += delta * (v - d.mean)
}

// N returns the number of observations.
func (d *Distribution) N() int64 { return d.n }

// Mean returns the running mean, or 0 with no observations.
func (d *Distribution) Mean() float64 { return d.mean }

// StdDev returns the running sample standard deviation.
func (d *Distribution) StdDev() float64 {
	if d.n < 2 {
		return 0
	}
	return math.Sqrt(d.m2 / float64(d.n-1))
}

// AggStats holds cumulative statistics for one client instance. Every
// concurrently running attempt mutates it, so all access goes through an
// internal mutex.
type AggStats struct {
	mu sync.Mutex

	timeConnect Distribution
	timeTotal   Distribution

	nSuccess     int64 // successful results returned to the caller
	nFatalErrors int64 // errors returned to the caller, after all retries

	nAttempts int64 // network calls made, including retries
	n429      int64 // throttling (429) responses
	nErrors   int64 // errors, including errors which were retried
	n402Req   int64 // out-of-band payment challenge requests

	statusCodes   map[int]int64
	faultKinds    map[string]int64
	apiErrorTypes map[string]int64
}

// New returns an empty AggStats.
func New() *AggStats {
	return &AggStats{
		statusCodes:   make(map[int]int64),
		faultKinds:    make(map[string]int64),
		apiErrorTypes: make(map[string]int64),
	}
}

// RecordAttempt counts one network call about to be made.
func (a *AggStats) RecordAttempt() {
	a.mu.Lock()
	a.nAttempts++
	a.mu.Unlock()
}

// RecordSuccess counts one logical request that returned a result.
func (a *AggStats) RecordSuccess() {
	a.mu.Lock()
	a.nSuccess++
	a.mu.Unlock()
}

// RecordFatalError counts one logical request that surfaced an error.
func (a *AggStats) RecordFatalError() {
	a.mu.Lock()
	a.nFatalErrors++
	a.mu.Unlock()
}

// RecordChallenge counts one payment challenge request.
func (a *AggStats) RecordChallenge() {
	a.mu.Lock()
	a.n402Req++
	a.mu.Unlock()
}

// RecordConnect registers the status code and time-to-connection of a
// response, successful or not.
func (a *AggStats) RecordConnect(status int, seconds float64) {
	a.mu.Lock()
	a.timeConnect.Push(seconds)
	a.statusCodes[status]++
	a.mu.Unlock()
}

// RecordRead registers the total time of a fully read response.
func (a *AggStats) RecordRead(seconds float64) {
	a.mu.Lock()
	a.timeTotal.Push(seconds)
	a.mu.Unlock()
}

// RecordRequestError registers an error response. Throttling responses are
// tracked separately from the generic error count. apiErrorType is the
// error-body type field (or derived slug); empty means unparseable.
func (a *AggStats) RecordRequestError(status int, apiErrorType string) {
	a.mu.Lock()
	if status == 429 {
		a.n429++
	} else {
		a.nErrors++
	}
	a.apiErrorTypes[apiErrorType]++
	a.mu.Unlock()
}

// RecordException registers a failure that produced no HTTP response, e.g.
// a network fault. Recorded under status code 0.
func (a *AggStats) RecordException(faultKind string) {
	a.mu.Lock()
	a.nErrors++
	a.statusCodes[0]++
	a.faultKinds[faultKind]++
	a.mu.Unlock()
}

// NAttempts returns the number of network calls made, including retries.
func (a *AggStats) NAttempts() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.nAttempts }

// NSuccess returns the number of successful logical requests.
func (a *AggStats) NSuccess() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.nSuccess }

// NFatalErrors returns the number of failed logical requests.
func (a *AggStats) NFatalErrors() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.nFatalErrors }

// NErrors returns the number of non-throttling errors, retried or not.
func (a *AggStats) NErrors() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.nErrors }

// N429 returns the number of throttling (429) responses.
func (a *AggStats) N429() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.n429 }

// N402Req returns the number of payment challenge requests.
func (a *AggStats) N402Req() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.n402Req }

// NProcessed returns the total number of finished logical requests.
func (a *AggStats) NProcessed() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nSuccess + a.nFatalErrors
}

// StatusCodes returns a copy of the status code histogram. Failures without
// a response are keyed under 0.
func (a *AggStats) StatusCodes() map[int]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]int64, len(a.statusCodes))
	for k, v := range a.statusCodes {
		out[k] = v
	}
	return out
}

// FaultKinds returns a copy of the no-response fault histogram.
func (a *AggStats) FaultKinds() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.faultKinds))
	for k, v := range a.faultKinds {
		out[k] = v
	}
	return out
}

// APIErrorTypes returns a copy of the API error-type histogram.
func (a *AggStats) APIErrorTypes() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.apiErrorTypes))
	for k, v := range a.apiErrorTypes {
		out[k] = v
	}
	return out
}

// ThrottleRatio returns the share of attempts that were throttled.
func (a *AggStats) ThrottleRatio() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ratio(a.n429, a.nAttempts)
}

// ErrorRatio returns the share of attempts that errored.
func (a *AggStats) ErrorRatio() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ratio(a.nErrors, a.nAttempts)
}

// SuccessRatio returns the share of processed logical requests that
// succeeded.
func (a *AggStats) SuccessRatio() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ratio(a.nSuccess, a.nSuccess+a.nFatalErrors)
}

// String returns a one-line progress summary.
func (a *AggStats) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	processed := a.nSuccess + a.nFatalErrors
	return fmt.Sprintf(
		"conn:%0.2fs, resp:%0.2fs, throttle:%.1f%%, err:%d+%d(%.1f%%) | success:%d/%d(%.1f%%)",
		a.timeConnect.Mean(),
		a.timeTotal.Mean(),
		ratio(a.n429, a.nAttempts)*100,
		a.nErrors-a.nFatalErrors,
		a.nFatalErrors,
		ratio(a.nErrors, a.nAttempts)*100,
		a.nSuccess,
		processed,
		ratio(a.nSuccess, processed)*100,
	)
}

// Summary returns a multi-line report.
func (a *AggStats) Summary() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	processed := a.nSuccess + a.nFatalErrors
	var b strings.Builder
	b.WriteString("\nSummary\n-------\n")
	fmt.Fprintf(&b, "Mean connection time:     %0.2f\n", a.timeConnect.Mean())
	fmt.Fprintf(&b, "Mean response time:       %0.2f\n", a.timeTotal.Mean())
	fmt.Fprintf(&b, "Throttle ratio:           %0.1f%%\n", ratio(a.n429, a.nAttempts)*100)
	fmt.Fprintf(&b, "Attempts:                 %d\n", a.nAttempts)
	fmt.Fprintf(&b, "Errors:                   %0.1f%%, fatal: %d, non fatal: %d\n",
		ratio(a.nErrors, a.nAttempts)*100, a.nFatalErrors, a.nErrors-a.nFatalErrors)
	fmt.Fprintf(&b, "Successful URLs:          %d of %d\n", a.nSuccess, processed)
	fmt.Fprintf(&b, "Success ratio:            %0.1f%%\n", ratio(a.nSuccess, processed)*100)
	return b.String()
}

// Histogram formats a count map sorted by descending count, for diagnostic
// dumps.
func Histogram[K comparable](m map[K]int64) string {
	type kv struct {
		key   K
		count int64
	}
	entries := make([]kv, 0, len(m))
	for k, v := range m {
		entries = append(entries, kv{k, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count > entries[j].count })
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%v: %d", e.key, e.count)
	}
	return strings.Join(parts, ", ")
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
