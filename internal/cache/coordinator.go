package cache

import (
	"sort"
	"sync"
	"time"

	"quotekeeper/internal/model"
)

// Policy holds the freshness and circuit-breaker tunables.
type Policy struct {
	Interval         time.Duration   // fresh window after a success
	RetryLadder      []time.Duration // backoff by consecutive failure count
	BreakerThreshold int             // failures before suspension
	BreakerTimeout   time.Duration   // suspension duration
}

// DefaultPolicy mirrors the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		Interval:         15 * time.Minute,
		RetryLadder:      []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second, 600 * time.Second},
		BreakerThreshold: 5,
		BreakerTimeout:   time.Hour,
	}
}

type entry struct {
	lastSuccess         time.Time
	lastFailure         time.Time
	consecutiveFailures int
	suspendedAt         time.Time
}

// Coordinator tracks per-symbol freshness, retry backoff, and circuit-breaker
// state. Pure bookkeeping: no I/O and no internal clock, callers pass now explicitly.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry
	policy  Policy
}

// NewCoordinator creates an empty coordinator with the given policy.
func NewCoordinator(policy Policy) *Coordinator {
	if len(policy.RetryLadder) == 0 {
		policy.RetryLadder = DefaultPolicy().RetryLadder
	}
	return &Coordinator{
		entries: make(map[string]*entry),
		policy:  policy,
	}
}

func (c *Coordinator) get(symbol string) *entry {
	e, ok := c.entries[model.NormalizeSymbol(symbol)]
	if !ok {
		return nil
	}
	return e
}

func (c *Coordinator) getOrCreate(symbol string) *entry {
	key := model.NormalizeSymbol(symbol)
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// SetSuccessfulFetch records a successful fetch: failure count, last failure,
// and suspension all clear together.
func (c *Coordinator) SetSuccessfulFetch(symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrCreate(symbol)
	e.lastSuccess = now
	e.lastFailure = time.Time{}
	e.consecutiveFailures = 0
	e.suspendedAt = time.Time{}
}

// SetFailedFetch records a failed fetch and trips the breaker once the
// consecutive failure count reaches the threshold.
func (c *Coordinator) SetFailedFetch(symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrCreate(symbol)
	e.lastFailure = now
	e.consecutiveFailures++
	if e.consecutiveFailures >= c.policy.BreakerThreshold {
		e.suspendedAt = now
	}
}

// ShouldRefresh reports staleness only: true when the symbol never succeeded
// or the last success is at least one cache interval old. Failure state is
// not consulted.
func (c *Coordinator) ShouldRefresh(symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(symbol)
	if e == nil || e.lastSuccess.IsZero() {
		return true
	}
	return now.Sub(e.lastSuccess) >= c.policy.Interval
}

// ShouldRetry reports whether a previously failed symbol may be attempted
// again: never while suspended, and only after the ladder backoff for the
// current failure count has elapsed since the last failure.
func (c *Coordinator) ShouldRetry(symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(symbol)
	if e == nil || e.lastFailure.IsZero() {
		return false
	}
	if c.suspendedLazy(e, now) {
		return false
	}
	return now.Sub(e.lastFailure) >= c.backoff(e.consecutiveFailures)
}

// IsSuspended reports whether the breaker is open for the symbol. The first
// query past the timeout clears the suspension timestamp; the failure count
// survives, so the next failure re-opens the breaker immediately and the next
// success clears everything.
func (c *Coordinator) IsSuspended(symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(symbol)
	if e == nil {
		return false
	}
	return c.suspendedLazy(e, now)
}

// HasFailure reports whether a failure is currently recorded for the symbol.
func (c *Coordinator) HasFailure(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(symbol)
	return e != nil && !e.lastFailure.IsZero()
}

// ClearSuspension manually lifts a suspension and resets the failure count so
// backoff restarts from zero.
func (c *Coordinator) ClearSuspension(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(symbol)
	if e == nil {
		return
	}
	e.suspendedAt = time.Time{}
	e.lastFailure = time.Time{}
	e.consecutiveFailures = 0
}

// Clear drops every entry (manual cache reset).
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
}

// Status classifies the symbol for diagnostics. Side-effect free: an elapsed
// suspension is reported as readyToRetry without mutating the entry.
func (c *Coordinator) Status(symbol string, now time.Time) model.CacheStatusDetail {
	c.mu.Lock()
	defer c.mu.Unlock()

	detail := model.CacheStatusDetail{Symbol: model.NormalizeSymbol(symbol)}
	e := c.get(symbol)
	if e == nil {
		detail.Status = model.StatusNeverFetched
		return detail
	}

	detail.ConsecutiveFailures = e.consecutiveFailures
	if !e.lastSuccess.IsZero() {
		t := e.lastSuccess
		detail.LastSuccess = &t
		detail.Age = now.Sub(t)
	}
	if !e.lastFailure.IsZero() {
		t := e.lastFailure
		detail.LastFailure = &t
	}

	switch {
	case !e.suspendedAt.IsZero() && now.Sub(e.suspendedAt) < c.policy.BreakerTimeout:
		detail.Status = model.StatusSuspended
		detail.ResumeIn = c.policy.BreakerTimeout - now.Sub(e.suspendedAt)
	case !e.lastFailure.IsZero():
		wait := c.backoff(e.consecutiveFailures) - now.Sub(e.lastFailure)
		if wait > 0 {
			detail.Status = model.StatusFailedRecently
			detail.ResumeIn = wait
		} else {
			detail.Status = model.StatusReadyToRetry
		}
	case e.lastSuccess.IsZero():
		detail.Status = model.StatusNeverFetched
	default:
		age := now.Sub(e.lastSuccess)
		switch {
		case age < c.policy.Interval:
			detail.Status = model.StatusFresh
		case age < 2*c.policy.Interval:
			detail.Status = model.StatusStale
		default:
			detail.Status = model.StatusExpired
		}
	}
	return detail
}

// Statistics aggregates entry counts per status plus the suspended list.
func (c *Coordinator) Statistics(now time.Time) model.CacheStatistics {
	c.mu.Lock()
	symbols := make([]string, 0, len(c.entries))
	for sym := range c.entries {
		symbols = append(symbols, sym)
	}
	c.mu.Unlock()
	sort.Strings(symbols)

	stats := model.CacheStatistics{
		Tracked:  len(symbols),
		ByStatus: make(map[model.CacheStatus]int),
	}
	for _, sym := range symbols {
		detail := c.Status(sym, now)
		stats.ByStatus[detail.Status]++
		if detail.Status == model.StatusSuspended {
			stats.Suspended = append(stats.Suspended, sym)
		}
	}
	return stats
}

// suspendedLazy answers the suspension question and clears an elapsed
// suspension timestamp on the way. Caller holds the lock.
func (c *Coordinator) suspendedLazy(e *entry, now time.Time) bool {
	if e.suspendedAt.IsZero() {
		return false
	}
	if now.Sub(e.suspendedAt) < c.policy.BreakerTimeout {
		return true
	}
	e.suspendedAt = time.Time{}
	return false
}

// backoff looks up the retry interval for a failure count, clamped to the
// last ladder entry.
func (c *Coordinator) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > len(c.policy.RetryLadder) {
		failures = len(c.policy.RetryLadder)
	}
	return c.policy.RetryLadder[failures-1]
}
