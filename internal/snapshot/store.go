package snapshot

import (
	"time"

	"quotekeeper/internal/model"
)

// Store persists price snapshots and derived valuation rows. Snapshots are
// append-only; backfill imports go through DedupByDay so an already-covered
// (symbol, day) is never written twice.
type Store interface {
	Append(snaps []model.PriceSnapshot) error
	DedupByDay(symbol string, snaps []model.PriceSnapshot) ([]model.PriceSnapshot, error)
	Read(symbol string, from, to time.Time) ([]model.PriceSnapshot, error)
	CoveredDays(symbol string, from, to time.Time) (int, error)
	CoverageBounds(symbol string) (first, last string, err error)
	SavePortfolioValue(v model.PortfolioValue) error
	PortfolioValues(from, to time.Time) ([]model.PortfolioValue, error)
	Close() error
}
