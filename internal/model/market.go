package model

import (
	"math"
	"strings"
	"time"
)

// DayFormat is the calendar-day key used for snapshot dedup and coverage math.
const DayFormat = "2006-01-02"

// NormalizeSymbol canonicalizes a ticker symbol. Every map access, store key,
// and provider call goes through this.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Bar represents a single daily candlestick from a quote provider.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// FetchResult is the outcome of one quote fetch for one symbol. Price fields
// may individually be NaN on a partial parse; Success=false marks the whole
// symbol as failed for this attempt.
type FetchResult struct {
	Symbol    string
	Price     float64
	PrevClose float64
	Currency  string
	FetchedAt time.Time
	Success   bool
}

// ValidPrice reports whether v is a usable price value.
func ValidPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Snapshot source markers.
const (
	SourceRefresh  = "refresh"
	SourceBackfill = "backfill"
)

// PriceSnapshot is one stored price observation. Immutable once written;
// backfill imports are deduplicated by (symbol, calendar day).
type PriceSnapshot struct {
	Symbol    string
	Time      time.Time
	Day       string // calendar-day key, DayFormat; fixed at creation
	Price     float64
	PrevClose float64
	Source    string
}

// DayKey returns the snapshot's calendar-day key, deriving it from Time when
// the snapshot was built without one. The key never changes once stored.
func (s PriceSnapshot) DayKey() string {
	if s.Day != "" {
		return s.Day
	}
	return s.Time.Format(DayFormat)
}

// SnapshotFromBar converts a provider bar into a backfill snapshot.
func SnapshotFromBar(symbol string, bar Bar) PriceSnapshot {
	return PriceSnapshot{
		Symbol: NormalizeSymbol(symbol),
		Time:   bar.Time,
		Day:    bar.Time.Format(DayFormat),
		Price:  bar.Close,
		Source: SourceBackfill,
	}
}

// PortfolioValue is one derived daily valuation row.
type PortfolioValue struct {
	Day        string
	Time       time.Time
	TotalValue float64
	TotalCost  float64
	Gain       float64
}
