package cache

import (
	"testing"
	"time"

	"quotekeeper/internal/model"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func TestShouldRefresh_FreshnessWindow(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())

	if !c.ShouldRefresh("AAPL", t0) {
		t.Fatal("uncached symbol must be due for refresh")
	}

	c.SetSuccessfulFetch("AAPL", t0)
	if c.ShouldRefresh("AAPL", t0.Add(14*time.Minute)) {
		t.Error("14m after success should not be due")
	}
	if !c.ShouldRefresh("AAPL", t0.Add(15*time.Minute)) {
		t.Error("exactly 15m after success should be due")
	}
	if !c.ShouldRefresh("AAPL", t0.Add(16*time.Minute)) {
		t.Error("16m after success should be due")
	}
}

func TestShouldRefresh_IgnoresFailureState(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	c.SetSuccessfulFetch("MSFT", t0)
	c.SetFailedFetch("MSFT", t0.Add(time.Minute))

	if c.ShouldRefresh("MSFT", t0.Add(2*time.Minute)) {
		t.Error("staleness answer must not change because a failure was recorded")
	}
	if !c.ShouldRefresh("MSFT", t0.Add(20*time.Minute)) {
		t.Error("stale symbol should be due regardless of failure state")
	}
}

func TestRetryLadder(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 300 * time.Second},
		{4, 600 * time.Second},
		{7, 600 * time.Second}, // clamped past the ladder
	}
	for _, tt := range tests {
		c := NewCoordinator(Policy{
			Interval:         15 * time.Minute,
			RetryLadder:      []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second, 600 * time.Second},
			BreakerThreshold: 100, // keep the breaker out of this test
			BreakerTimeout:   time.Hour,
		})
		now := t0
		for i := 0; i < tt.failures; i++ {
			c.SetFailedFetch("X", now)
		}
		if c.ShouldRetry("X", now.Add(tt.want-time.Second)) {
			t.Errorf("failures=%d: retry allowed %v before backoff elapsed", tt.failures, time.Second)
		}
		if !c.ShouldRetry("X", now.Add(tt.want)) {
			t.Errorf("failures=%d: retry not allowed at backoff %v", tt.failures, tt.want)
		}
	}
}

func TestShouldRetry_NoFailureNothingToRetry(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	if c.ShouldRetry("AAPL", t0) {
		t.Error("symbol without failures has nothing to retry")
	}
	c.SetSuccessfulFetch("AAPL", t0)
	if c.ShouldRetry("AAPL", t0.Add(time.Hour)) {
		t.Error("symbol with only successes has nothing to retry")
	}
}

func TestCircuitBreaker_SuspendsAfterThreshold(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())

	for i := 0; i < 5; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		c.SetFailedFetch("X", now)
	}
	suspendedAt := t0.Add(4 * time.Second)

	if !c.IsSuspended("X", suspendedAt) {
		t.Fatal("5 consecutive failures must suspend")
	}
	if c.ShouldRetry("X", suspendedAt.Add(30*time.Minute)) {
		t.Error("no retry while suspended")
	}
	if !c.IsSuspended("X", suspendedAt.Add(59*time.Minute)) {
		t.Error("suspension must hold for the full timeout")
	}
	if c.IsSuspended("X", suspendedAt.Add(time.Hour+time.Second)) {
		t.Error("suspension must lift after the timeout")
	}
	// Past the timeout the clamped ladder backoff has long elapsed.
	if !c.ShouldRetry("X", suspendedAt.Add(time.Hour+time.Second)) {
		t.Error("symbol should be retry-ready once unsuspended")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	for i := 0; i < 5; i++ {
		c.SetFailedFetch("X", t0)
	}
	afterTimeout := t0.Add(61 * time.Minute)
	if c.IsSuspended("X", afterTimeout) {
		t.Fatal("suspension should have lifted")
	}

	// A failed probe re-opens the breaker immediately.
	c.SetFailedFetch("X", afterTimeout)
	if !c.IsSuspended("X", afterTimeout.Add(time.Minute)) {
		t.Error("failure after an elapsed suspension must re-suspend")
	}

	// A successful probe clears everything.
	c.ClearSuspension("X")
	c.SetFailedFetch("X", afterTimeout)
	c.SetSuccessfulFetch("X", afterTimeout.Add(time.Minute))
	if c.IsSuspended("X", afterTimeout.Add(2*time.Minute)) {
		t.Error("success must clear the suspension")
	}
	if c.HasFailure("X") {
		t.Error("success must clear the failure record")
	}
}

func TestClearSuspension_ResetsBackoff(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	for i := 0; i < 5; i++ {
		c.SetFailedFetch("X", t0)
	}
	c.ClearSuspension("X")

	if c.IsSuspended("X", t0.Add(time.Second)) {
		t.Error("manual clear must lift the suspension")
	}
	// Backoff restarts from zero: one new failure waits ladder[0], not the cap.
	c.SetFailedFetch("X", t0.Add(time.Minute))
	if !c.ShouldRetry("X", t0.Add(time.Minute+60*time.Second)) {
		t.Error("after a manual clear the ladder must restart at its first rung")
	}
}

func TestStatus_Classification(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())

	if got := c.Status("NEW", t0).Status; got != model.StatusNeverFetched {
		t.Errorf("unknown symbol: got %s, want %s", got, model.StatusNeverFetched)
	}

	c.SetSuccessfulFetch("A", t0)
	tests := []struct {
		at   time.Time
		want model.CacheStatus
	}{
		{t0.Add(5 * time.Minute), model.StatusFresh},
		{t0.Add(20 * time.Minute), model.StatusStale},
		{t0.Add(40 * time.Minute), model.StatusExpired},
	}
	for _, tt := range tests {
		if got := c.Status("A", tt.at).Status; got != tt.want {
			t.Errorf("status at +%v: got %s, want %s", tt.at.Sub(t0), got, tt.want)
		}
	}

	c.SetFailedFetch("B", t0)
	if got := c.Status("B", t0.Add(10*time.Second)).Status; got != model.StatusFailedRecently {
		t.Errorf("inside backoff: got %s, want %s", got, model.StatusFailedRecently)
	}
	if got := c.Status("B", t0.Add(2*time.Minute)).Status; got != model.StatusReadyToRetry {
		t.Errorf("past backoff: got %s, want %s", got, model.StatusReadyToRetry)
	}
}

func TestStatus_SuspendedDetail(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	for i := 0; i < 5; i++ {
		c.SetFailedFetch("X", t0.Add(time.Duration(i)*time.Second))
	}
	detail := c.Status("X", t0.Add(4*time.Second))

	if detail.Status != model.StatusSuspended {
		t.Fatalf("got %s, want %s", detail.Status, model.StatusSuspended)
	}
	if detail.ConsecutiveFailures != 5 {
		t.Errorf("got %d failures, want 5", detail.ConsecutiveFailures)
	}
	if detail.ResumeIn != time.Hour {
		t.Errorf("got resume-in %v, want %v", detail.ResumeIn, time.Hour)
	}
}

func TestStatus_HasNoSideEffects(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	for i := 0; i < 5; i++ {
		c.SetFailedFetch("X", t0)
	}
	past := t0.Add(2 * time.Hour)

	// Status past the timeout must not consume the lazy clear.
	if got := c.Status("X", past).Status; got != model.StatusReadyToRetry {
		t.Errorf("got %s, want %s", got, model.StatusReadyToRetry)
	}
	c.mu.Lock()
	stillSet := !c.entries["X"].suspendedAt.IsZero()
	c.mu.Unlock()
	if !stillSet {
		t.Error("Status must not mutate the entry")
	}
}

func TestStatistics(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	c.SetSuccessfulFetch("A", t0)
	c.SetSuccessfulFetch("B", t0.Add(-20*time.Minute))
	for i := 0; i < 5; i++ {
		c.SetFailedFetch("C", t0)
	}

	stats := c.Statistics(t0.Add(time.Minute))
	if stats.Tracked != 3 {
		t.Fatalf("got %d tracked, want 3", stats.Tracked)
	}
	if stats.ByStatus[model.StatusFresh] != 1 {
		t.Errorf("fresh: got %d, want 1", stats.ByStatus[model.StatusFresh])
	}
	if stats.ByStatus[model.StatusStale] != 1 {
		t.Errorf("stale: got %d, want 1", stats.ByStatus[model.StatusStale])
	}
	if stats.ByStatus[model.StatusSuspended] != 1 {
		t.Errorf("suspended: got %d, want 1", stats.ByStatus[model.StatusSuspended])
	}
	if len(stats.Suspended) != 1 || stats.Suspended[0] != "C" {
		t.Errorf("suspended list: got %v, want [C]", stats.Suspended)
	}
}

func TestSymbolNormalization(t *testing.T) {
	c := NewCoordinator(DefaultPolicy())
	c.SetSuccessfulFetch(" aapl ", t0)

	if c.ShouldRefresh("AAPL", t0.Add(time.Minute)) {
		t.Error("lowercase and uppercase keys must hit the same entry")
	}
	if got := c.Status("aApL", t0.Add(time.Minute)).Status; got != model.StatusFresh {
		t.Errorf("got %s, want %s", got, model.StatusFresh)
	}
}
