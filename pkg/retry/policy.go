package retry

import (
	"math"
	"math/rand"
	"time"
)

// StopFunc decides, given the state of a logical request and the fault that
// just occurred, whether to give up and surface the fault.
type StopFunc func(s *State, f Fault) bool

// WaitFunc computes how long to suspend before the next attempt.
type WaitFunc func(s *State, f Fault) time.Duration

// Policy is a retry strategy: one wait and one stop function per fault
// class, composed through a fixed dispatch on the fault kind. Client faults
// (generic 4xx) are always terminal and have no entry. Custom policies are
// built by replacing individual functions on a copy of DefaultPolicy or
// AggressivePolicy; there is no hierarchy to subclass.
//
// The engine never recovers from a panic inside a wait or stop function:
// a defective custom policy fails loudly instead of retrying forever.
type Policy struct {
	ThrottlingStop StopFunc
	ThrottlingWait WaitFunc

	NetworkStop StopFunc
	NetworkWait WaitFunc

	DownloadStop StopFunc
	DownloadWait WaitFunc

	UndocumentedStop StopFunc
	UndocumentedWait WaitFunc

	PaymentRequiredStop StopFunc
	PaymentRequiredWait WaitFunc
}

// Stop dispatches to the stop function for the fault's class.
func (p *Policy) Stop(s *State, f Fault) bool {
	switch f.Kind {
	case KindThrottling:
		return p.ThrottlingStop(s, f)
	case KindNetwork:
		return p.NetworkStop(s, f)
	case KindTemporaryDownload, KindPermanentDownload:
		return p.DownloadStop(s, f)
	case KindUndocumented:
		return p.UndocumentedStop(s, f)
	case KindPaymentRequired:
		return p.PaymentRequiredStop(s, f)
	case KindClient:
		return true
	default:
		return true
	}
}

// Wait dispatches to the wait function for the fault's class.
func (p *Policy) Wait(s *State, f Fault) time.Duration {
	switch f.Kind {
	case KindThrottling:
		return p.ThrottlingWait(s, f)
	case KindNetwork:
		return p.NetworkWait(s, f)
	case KindTemporaryDownload, KindPermanentDownload:
		return p.DownloadWait(s, f)
	case KindUndocumented:
		return p.UndocumentedWait(s, f)
	case KindPaymentRequired:
		return p.PaymentRequiredWait(s, f)
	default:
		return 0
	}
}

// DefaultPolicy returns the default retry policy:
//
//   - throttling: never stop; two 20-40s jittered waits, then exponential
//     backoff with full jitter capped at 600s
//   - network: stop after 15 minutes of uninterrupted network faults;
//     3-7s plus exponential jitter capped at 55s
//   - download: stop at 4 total or 2 permanent download errors; waits as
//     network
//   - undocumented: stop at 2 occurrences; waits as network
//   - payment required: stop at 2 occurrences; immediate retry
func DefaultPolicy() *Policy {
	return &Policy{
		ThrottlingStop:      StopNever(),
		ThrottlingWait:      ThrottlingWait(),
		NetworkStop:         StopAfterUninterruptedDelay(15 * time.Minute),
		NetworkWait:         NetworkWait(),
		DownloadStop:        StopOnDownloadError(4, 2),
		DownloadWait:        NetworkWait(),
		UndocumentedStop:    StopOnCount(2),
		UndocumentedWait:    NetworkWait(),
		PaymentRequiredStop: StopOnCount(2),
		PaymentRequiredWait: WaitNone(),
	}
}

// AggressivePolicy returns a policy with the same wait shapes as
// DefaultPolicy but larger budgets: 8 total / 4 permanent download errors,
// and an undocumented-error streak of 4 where intervening throttling does
// not break the streak.
func AggressivePolicy() *Policy {
	p := DefaultPolicy()
	p.DownloadStop = StopOnDownloadError(8, 4)
	p.UndocumentedStop = StopOnStreak(4)
	return p
}

// ThrottlingOnlyPolicy returns a policy that retries throttling responses
// forever and stops on everything else immediately. Used when retries are
// "disabled": rate limiting is still honored.
func ThrottlingOnlyPolicy() *Policy {
	return &Policy{
		ThrottlingStop:      StopNever(),
		ThrottlingWait:      ThrottlingWait(),
		NetworkStop:         StopAlways(),
		NetworkWait:         WaitNone(),
		DownloadStop:        StopAlways(),
		DownloadWait:        WaitNone(),
		UndocumentedStop:    StopAlways(),
		UndocumentedWait:    WaitNone(),
		PaymentRequiredStop: StopOnCount(2),
		PaymentRequiredWait: WaitNone(),
	}
}

// StopNever never stops.
func StopNever() StopFunc {
	return func(*State, Fault) bool { return false }
}

// StopAlways stops on the first occurrence.
func StopAlways() StopFunc {
	return func(*State, Fault) bool { return true }
}

// StopOnCount stops once this combinator instance has been consulted
// maxCount times within one logical request. Faults handled by a different
// combinator do not advance the count.
func StopOnCount(maxCount int) StopFunc {
	id := nextID()
	return func(s *State, _ Fault) bool {
		return s.count(id) >= maxCount
	}
}

// StopAfterUninterruptedDelay stops once faults handled by this combinator
// have been occurring for maxDelay without a differently-classified fault
// in between. Any interleaved fault of another class resets the timer.
func StopAfterUninterruptedDelay(maxDelay time.Duration) StopFunc {
	id := nextID()
	return func(s *State, _ Fault) bool {
		return s.uninterruptedElapsed(id) >= maxDelay
	}
}

// StopOnDownloadError stops after maxTotal download errors of either
// subtype, or maxPermanent permanent download errors, whichever comes
// first.
func StopOnDownloadError(maxTotal, maxPermanent int) StopFunc {
	totalID := nextID()
	permanentID := nextID()
	return func(s *State, f Fault) bool {
		if f.Kind == KindPermanentDownload && s.count(permanentID) >= maxPermanent {
			return true
		}
		return s.count(totalID) >= maxTotal
	}
}

// StopOnStreak stops after maxStreak consecutive undocumented errors.
// Interleaved throttling responses do not break the streak; any other fault
// class does.
func StopOnStreak(maxStreak int) StopFunc {
	return func(s *State, _ Fault) bool {
		streak := 0
		for i := len(s.History) - 1; i >= 0; i-- {
			switch s.History[i] {
			case KindUndocumented:
				streak++
			case KindThrottling:
				// keeps the streak alive
			default:
				return streak >= maxStreak
			}
		}
		return streak >= maxStreak
	}
}

// WaitNone retries immediately.
func WaitNone() WaitFunc {
	return func(*State, Fault) time.Duration { return 0 }
}

// ThrottlingWait waits 20s plus up to 20s of jitter for the first two
// consultations, then 30s plus full-jitter exponential backoff capped at
// 600s.
func ThrottlingWait() WaitFunc {
	id := nextID()
	return func(s *State, _ Fault) time.Duration {
		n := s.count(id)
		if n <= 2 {
			return 20*time.Second + jitterUpTo(20*time.Second)
		}
		return 30*time.Second + expJitter(n-2, 600*time.Second)
	}
}

// NetworkWait waits a random 3-7s plus full-jitter exponential backoff
// capped at 55s. Shared by network, download and undocumented faults.
func NetworkWait() WaitFunc {
	id := nextID()
	return func(s *State, _ Fault) time.Duration {
		n := s.count(id)
		return 3*time.Second + jitterUpTo(4*time.Second) + expJitter(n, 55*time.Second)
	}
}

// jitterUpTo returns a uniformly random duration in [0, max).
func jitterUpTo(max time.Duration) time.Duration {
	return time.Duration(rand.Float64() * float64(max))
}

// expJitter returns a uniformly random duration in [0, min(limit, 2^n s)).
func expJitter(n int, limit time.Duration) time.Duration {
	if n > 30 {
		n = 30
	}
	high := time.Duration(math.Exp2(float64(n)) * float64(time.Second))
	if high > limit || high <= 0 {
		high = limit
	}
	return jitterUpTo(high)
}
