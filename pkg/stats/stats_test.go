package stats

import (
	"math"
	"strings"
	"sync"
	"testing"
)

func TestDistribution(t *testing.T) {
	var d Distribution
	if d.Mean() != 0 || d.StdDev() != 0 {
		t.Error("empty distribution should report zeros")
	}

	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		d.Push(v)
	}
	if d.N() != 8 {
		t.Errorf("N() = %d, want 8", d.N())
	}
	if got := d.Mean(); math.Abs(got-5) > 1e-9 {
		t.Errorf("Mean() = %v, want 5", got)
	}
	// Sample standard deviation of this series is sqrt(32/7).
	if got, want := d.StdDev(), math.Sqrt(32.0/7.0); math.Abs(got-want) > 1e-9 {
		t.Errorf("StdDev() = %v, want %v", got, want)
	}
}

func TestAggStatsCounters(t *testing.T) {
	a := New()

	a.RecordAttempt()
	a.RecordAttempt()
	a.RecordConnect(429, 0.1)
	a.RecordRequestError(429, "/limits/over-user-limit")
	a.RecordConnect(200, 0.1)
	a.RecordRead(0.5)
	a.RecordSuccess()

	if a.NAttempts() != 2 {
		t.Errorf("NAttempts() = %d, want 2", a.NAttempts())
	}
	if a.N429() != 1 {
		t.Errorf("N429() = %d, want 1", a.N429())
	}
	if a.NErrors() != 0 {
		t.Errorf("NErrors() = %d, want 0; throttling is not an error", a.NErrors())
	}
	if a.NSuccess() != 1 || a.NFatalErrors() != 0 {
		t.Errorf("success=%d fatal=%d, want 1/0", a.NSuccess(), a.NFatalErrors())
	}
	if a.NProcessed() != 1 {
		t.Errorf("NProcessed() = %d, want 1", a.NProcessed())
	}

	codes := a.StatusCodes()
	if codes[429] != 1 || codes[200] != 1 {
		t.Errorf("StatusCodes() = %v", codes)
	}
	types := a.APIErrorTypes()
	if types["/limits/over-user-limit"] != 1 {
		t.Errorf("APIErrorTypes() = %v", types)
	}
}

func TestAggStatsExceptions(t *testing.T) {
	a := New()
	a.RecordAttempt()
	a.RecordException("network")

	if a.NErrors() != 1 {
		t.Errorf("NErrors() = %d, want 1", a.NErrors())
	}
	if a.StatusCodes()[0] != 1 {
		t.Error("exception was not recorded under status 0")
	}
	if a.FaultKinds()["network"] != 1 {
		t.Errorf("FaultKinds() = %v", a.FaultKinds())
	}
}

func TestAggStatsChallengesAreOutOfBand(t *testing.T) {
	a := New()
	a.RecordChallenge()

	if a.N402Req() != 1 {
		t.Errorf("N402Req() = %d, want 1", a.N402Req())
	}
	if a.NAttempts() != 0 {
		t.Error("a challenge must not count as an attempt")
	}
	if len(a.StatusCodes()) != 0 {
		t.Error("a challenge must not appear in the status histogram")
	}
}

func TestAggStatsRatios(t *testing.T) {
	a := New()
	if a.ThrottleRatio() != 0 || a.ErrorRatio() != 0 || a.SuccessRatio() != 0 {
		t.Error("empty stats should report zero ratios")
	}

	for i := 0; i < 4; i++ {
		a.RecordAttempt()
	}
	a.RecordRequestError(429, "")
	a.RecordRequestError(500, "/internal-error")
	a.RecordSuccess()
	a.RecordFatalError()

	if got := a.ThrottleRatio(); got != 0.25 {
		t.Errorf("ThrottleRatio() = %v, want 0.25", got)
	}
	if got := a.ErrorRatio(); got != 0.25 {
		t.Errorf("ErrorRatio() = %v, want 0.25", got)
	}
	if got := a.SuccessRatio(); got != 0.5 {
		t.Errorf("SuccessRatio() = %v, want 0.5", got)
	}
}

func TestAggStatsConcurrentAccess(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RecordAttempt()
			a.RecordConnect(200, 0.1)
			a.RecordRead(0.2)
			a.RecordSuccess()
		}()
	}
	wg.Wait()

	if a.NAttempts() != 50 || a.NSuccess() != 50 {
		t.Errorf("attempts=%d success=%d, want 50/50", a.NAttempts(), a.NSuccess())
	}
	if a.StatusCodes()[200] != 50 {
		t.Errorf("StatusCodes()[200] = %d, want 50", a.StatusCodes()[200])
	}
}

func TestStringAndSummary(t *testing.T) {
	a := New()
	a.RecordAttempt()
	a.RecordConnect(200, 0.5)
	a.RecordRead(1.5)
	a.RecordSuccess()

	s := a.String()
	if !strings.Contains(s, "success:1/1") {
		t.Errorf("String() = %q", s)
	}

	sum := a.Summary()
	for _, want := range []string{"Attempts:", "Success ratio:", "Successful URLs:"} {
		if !strings.Contains(sum, want) {
			t.Errorf("Summary() missing %q:\n%s", want, sum)
		}
	}
}

func TestHistogram(t *testing.T) {
	got := Histogram(map[int]int64{200: 5, 429: 10, 500: 1})
	want := "429: 10, 200: 5, 500: 1"
	if got != want {
		t.Errorf("Histogram() = %q, want %q", got, want)
	}
}
