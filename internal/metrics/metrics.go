package metrics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
	"quotekeeper/internal/portfolio"
	"quotekeeper/internal/snapshot"
)

// Range52Week scans the most recent 252 stored trading days and returns the
// high and low price.
func Range52Week(snaps []model.PriceSnapshot) (high, low float64, err error) {
	return trailingRange(snaps, 252)
}

// Range30Day scans the most recent 22 stored trading days and returns the
// high and low price.
func Range30Day(snaps []model.PriceSnapshot) (high, low float64, err error) {
	return trailingRange(snaps, 22)
}

func trailingRange(snaps []model.PriceSnapshot, days int) (high, low float64, err error) {
	if len(snaps) == 0 {
		return 0, 0, errors.New("no snapshots provided")
	}
	n := len(snaps)
	start := n - days
	if start < 0 {
		start = 0
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := start; i < n; i++ {
		p := snaps[i].Price
		if !model.ValidPrice(p) {
			continue
		}
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
	}
	if math.IsInf(high, -1) {
		return 0, 0, errors.New("no usable prices in window")
	}
	return high, low, nil
}

// RangePosition returns where the current price sits within the range
// (0.0~1.0).
func RangePosition(current, high, low float64) (float64, error) {
	if high == low {
		return 0.5, nil
	}
	if high < low {
		return 0, errors.New("high must be >= low")
	}
	pos := (current - low) / (high - low)
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos, nil
}

// Valuator derives the daily portfolio valuation series from stored
// snapshots and the configured positions.
type Valuator struct {
	snapshots snapshot.Store
	portfolio *portfolio.Store
	log       *logrus.Entry
}

func NewValuator(snaps snapshot.Store, port *portfolio.Store) *Valuator {
	return &Valuator{
		snapshots: snaps,
		portfolio: port,
		log:       logger.WithComponent("valuator"),
	}
}

// RecomputeToday refreshes the current day's valuation row from the live
// holdings. Cheap enough to run after every refresh batch.
func (v *Valuator) RecomputeToday(now time.Time) error {
	value, cost := v.portfolio.Totals()
	if value == 0 {
		return nil // no priced holdings yet
	}
	return v.snapshots.SavePortfolioValue(model.PortfolioValue{
		Day:        now.Format(model.DayFormat),
		Time:       now,
		TotalValue: value,
		TotalCost:  cost,
		Gain:       value - cost,
	})
}

// RecomputeYear rebuilds the derived valuation series for the past year.
func (v *Valuator) RecomputeYear(now time.Time) (int, error) {
	return v.RecomputeRange(now.AddDate(-1, 0, 0), now)
}

// RecomputeRange rebuilds valuation rows for every weekday in [from, to],
// pricing each position with its last known snapshot on or before the day.
// Days before any position has a price are skipped.
func (v *Valuator) RecomputeRange(from, to time.Time) (int, error) {
	positions := v.portfolio.Positions()
	if len(positions) == 0 {
		return 0, nil
	}

	// Read a little before the window so carry-forward has a seed price.
	seed := from.AddDate(0, 0, -35)
	series := make(map[string][]model.PriceSnapshot, len(positions))
	for _, pos := range positions {
		snaps, err := v.snapshots.Read(pos.Symbol, seed, to)
		if err != nil {
			return 0, fmt.Errorf("read snapshots %s: %w", pos.Symbol, err)
		}
		series[pos.Symbol] = snaps
	}

	cursor := make(map[string]int, len(positions))
	lastPrice := make(map[string]float64, len(positions))
	written := 0

	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for ; !day.After(to); day = day.AddDate(0, 0, 1) {
		dayKey := day.Format(model.DayFormat)

		priced := 0
		var totalValue, totalCost float64
		for _, pos := range positions {
			snaps := series[pos.Symbol]
			i := cursor[pos.Symbol]
			for i < len(snaps) && snaps[i].DayKey() <= dayKey {
				if model.ValidPrice(snaps[i].Price) {
					lastPrice[pos.Symbol] = snaps[i].Price
				}
				i++
			}
			cursor[pos.Symbol] = i

			totalCost += pos.Units * pos.AvgCost
			if p, ok := lastPrice[pos.Symbol]; ok {
				totalValue += pos.Units * p
				priced++
			}
		}

		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if priced == 0 {
			continue
		}

		err := v.snapshots.SavePortfolioValue(model.PortfolioValue{
			Day:        dayKey,
			Time:       day,
			TotalValue: totalValue,
			TotalCost:  totalCost,
			Gain:       totalValue - totalCost,
		})
		if err != nil {
			return written, fmt.Errorf("save valuation %s: %w", dayKey, err)
		}
		written++
	}

	v.log.WithField("rows", written).Info("valuation series recomputed")
	return written, nil
}
