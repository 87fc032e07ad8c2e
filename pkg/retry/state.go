package retry

import (
	"sync/atomic"
	"time"
)

// ids distinguishes stop/wait combinator instances, so that two combinators
// of the same shape keep independent scratch space inside a State.
var ids atomic.Uint64

func nextID() uint64 { return ids.Add(1) }

type uninterruptedTimer struct {
	attempt int
	start   time.Time
}

// State is the per-logical-request scratch space of the retry engine. It is
// created when a logical request starts and discarded when it ends; it is
// never shared between logical requests.
type State struct {
	// Attempt is the number of attempts made so far, including the one
	// whose fault is currently being evaluated.
	Attempt int

	// History holds the fault kind of every failed attempt, oldest first.
	History []Kind

	// Statuses holds the HTTP status of every failed attempt (0 for
	// network faults), oldest first.
	Statuses []int

	counters map[uint64]int
	timers   map[uint64]*uninterruptedTimer
	kinds    map[Kind]int

	now func() time.Time // test hook
}

// NewState returns an empty State for one logical request.
func NewState() *State {
	return &State{
		counters: make(map[uint64]int),
		timers:   make(map[uint64]*uninterruptedTimer),
		kinds:    make(map[Kind]int),
		now:      time.Now,
	}
}

// Record registers the fault of the attempt that just failed. It must be
// called exactly once per fault, before consulting the policy.
func (s *State) Record(f Fault) {
	s.Attempt++
	s.History = append(s.History, f.Kind)
	s.Statuses = append(s.Statuses, f.Status)
	s.kinds[f.Kind]++
}

// Count returns how many faults of the given kind have occurred.
func (s *State) Count(k Kind) int { return s.kinds[k] }

// count keeps an instance-scoped counter and returns its new value.
func (s *State) count(id uint64) int {
	s.counters[id]++
	return s.counters[id]
}

// uninterruptedElapsed returns how long faults handled by the combinator
// identified by id have been occurring without interruption. The timer
// resets whenever an attempt was handled by a different combinator in
// between, which shows up as a gap in the attempt sequence.
func (s *State) uninterruptedElapsed(id uint64) time.Duration {
	t, ok := s.timers[id]
	if !ok || s.Attempt-t.attempt > 1 {
		s.timers[id] = &uninterruptedTimer{attempt: s.Attempt, start: s.now()}
		return 0
	}
	t.attempt = s.Attempt
	return s.now().Sub(t.start)
}
