package model

import "time"

// CacheStatus classifies a symbol's cache entry for diagnostics.
type CacheStatus string

const (
	StatusFresh          CacheStatus = "fresh"
	StatusStale          CacheStatus = "stale"
	StatusExpired        CacheStatus = "expired"
	StatusFailedRecently CacheStatus = "failedRecently"
	StatusReadyToRetry   CacheStatus = "readyToRetry"
	StatusSuspended      CacheStatus = "suspended"
	StatusNeverFetched   CacheStatus = "neverFetched"
)

// CacheStatusDetail is the full diagnostic view of one cache entry.
type CacheStatusDetail struct {
	Symbol              string        `json:"symbol"`
	Status              CacheStatus   `json:"status"`
	LastSuccess         *time.Time    `json:"last_success,omitempty"`
	LastFailure         *time.Time    `json:"last_failure,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Age                 time.Duration `json:"age"`
	ResumeIn            time.Duration `json:"resume_in,omitempty"`
}

// CacheStatistics aggregates entry counts per status.
type CacheStatistics struct {
	Tracked   int                 `json:"tracked"`
	ByStatus  map[CacheStatus]int `json:"by_status"`
	Suspended []string            `json:"suspended"`
}

// GapReport is the ephemeral result of one coverage check for one symbol.
type GapReport struct {
	Symbol               string  `json:"symbol"`
	WindowDays           int     `json:"window_days"`
	ExpectedBusinessDays float64 `json:"expected_business_days"`
	UniqueCoveredDays    int     `json:"unique_covered_days"`
	CoverageRatio        float64 `json:"coverage_ratio"`
	NeedsBackfill        bool    `json:"needs_backfill"`
}

// BackfillRun is the single persisted scheduling marker. Day equality against
// it decides whether the daily check already ran.
type BackfillRun struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"` // local calendar day, DayFormat
}

// SameDay reports whether the run was recorded on now's local calendar day.
func (r *BackfillRun) SameDay(now time.Time) bool {
	return r != nil && r.Date == now.Format(DayFormat)
}

// BackfillStats summarizes one backfill execution.
type BackfillStats struct {
	Symbols        int           `json:"symbols"`
	ChunksFetched  int           `json:"chunks_fetched"`
	ChunksSkipped  int           `json:"chunks_skipped"`
	ChunkErrors    int           `json:"chunk_errors"`
	SnapshotsAdded int           `json:"snapshots_added"`
	Elapsed        time.Duration `json:"elapsed"`
}

// HistoricalDataStatus is the read-only coverage diagnostic for one symbol.
type HistoricalDataStatus struct {
	Symbol        string  `json:"symbol"`
	FirstDay      string  `json:"first_day,omitempty"`
	LastDay       string  `json:"last_day,omitempty"`
	CoveredDays   int     `json:"covered_days"`
	ExpectedDays  float64 `json:"expected_days"`
	CoverageRatio float64 `json:"coverage_ratio"`
	NeedsBackfill bool    `json:"needs_backfill"`
}
