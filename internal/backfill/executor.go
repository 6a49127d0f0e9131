package backfill

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
	"quotekeeper/internal/quote"
	"quotekeeper/internal/snapshot"
)

// Waiter paces provider calls. *rate.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

type noopWaiter struct{}

func (noopWaiter) Wait(context.Context) error { return nil }

// ExecutorOptions carries the execution tunables.
type ExecutorOptions struct {
	YearsToFetch  int
	SkipThreshold float64
	ChunkPacer    Waiter // applied before each chunk fetch
	SymbolPacer   Waiter // applied between symbols
}

// Executor fills historical gaps by walking backward from now in one-year
// chunks, skipping chunks that are already well covered.
type Executor struct {
	fetcher   quote.Fetcher
	snapshots snapshot.Store

	yearsToFetch  int
	skipThreshold float64
	chunkPacer    Waiter
	symbolPacer   Waiter

	log *logrus.Entry
}

func NewExecutor(fetcher quote.Fetcher, snaps snapshot.Store, opts ExecutorOptions) *Executor {
	if opts.YearsToFetch <= 0 {
		opts.YearsToFetch = 5
	}
	if opts.SkipThreshold <= 0 {
		opts.SkipThreshold = 0.90
	}
	if opts.ChunkPacer == nil {
		opts.ChunkPacer = noopWaiter{}
	}
	if opts.SymbolPacer == nil {
		opts.SymbolPacer = noopWaiter{}
	}
	return &Executor{
		fetcher:       fetcher,
		snapshots:     snaps,
		yearsToFetch:  opts.YearsToFetch,
		skipThreshold: opts.SkipThreshold,
		chunkPacer:    opts.ChunkPacer,
		symbolPacer:   opts.SymbolPacer,
		log:           logger.WithComponent("backfill"),
	}
}

// BackfillSymbols fills history for all symbols, newest chunk first per
// symbol. Chunk failures are logged and skipped; cancellation stops between
// chunks, never mid-append.
func (e *Executor) BackfillSymbols(ctx context.Context, symbols []string, now time.Time) model.BackfillStats {
	start := time.Now()
	stats := model.BackfillStats{Symbols: len(symbols)}

	for i, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := e.symbolPacer.Wait(ctx); err != nil {
				break
			}
		}
		e.backfillSymbol(ctx, model.NormalizeSymbol(symbol), now, &stats)
	}

	stats.Elapsed = time.Since(start)
	e.log.WithFields(logger.Fields{
		"symbols": stats.Symbols,
		"fetched": stats.ChunksFetched,
		"skipped": stats.ChunksSkipped,
		"errors":  stats.ChunkErrors,
		"added":   stats.SnapshotsAdded,
		"elapsed": stats.Elapsed.Round(time.Millisecond),
	}).Info("backfill finished")
	return stats
}

func (e *Executor) backfillSymbol(ctx context.Context, symbol string, now time.Time, stats *model.BackfillStats) {
	for year := 0; year < e.yearsToFetch; year++ {
		if ctx.Err() != nil {
			return
		}

		chunkEnd := now.AddDate(-year, 0, 0)
		chunkStart := now.AddDate(-(year + 1), 0, 0)

		ratio, err := e.chunkCoverage(symbol, chunkStart, chunkEnd)
		if err != nil {
			e.log.WithField("symbol", symbol).WithField("error", err).Warn("chunk coverage check failed")
			stats.ChunkErrors++
			continue
		}
		if ratio > e.skipThreshold {
			stats.ChunksSkipped++
			continue
		}

		if err := e.chunkPacer.Wait(ctx); err != nil {
			return
		}

		bars, err := e.fetcher.FetchHistoricalData(ctx, symbol, chunkStart, chunkEnd)
		if err != nil {
			e.log.WithFields(logger.Fields{
				"symbol": symbol,
				"from":   chunkStart.Format(model.DayFormat),
				"to":     chunkEnd.Format(model.DayFormat),
				"error":  err,
			}).Warn("chunk fetch failed, continuing")
			stats.ChunkErrors++
			continue
		}
		stats.ChunksFetched++

		snaps := make([]model.PriceSnapshot, 0, len(bars))
		for _, bar := range bars {
			if !model.ValidPrice(bar.Close) {
				continue
			}
			snaps = append(snaps, model.SnapshotFromBar(symbol, bar))
		}

		kept, err := e.snapshots.DedupByDay(symbol, snaps)
		if err != nil {
			e.log.WithField("symbol", symbol).WithField("error", err).Warn("dedup failed")
			stats.ChunkErrors++
			continue
		}
		if err := e.snapshots.Append(kept); err != nil {
			e.log.WithField("symbol", symbol).WithField("error", err).Warn("append failed")
			stats.ChunkErrors++
			continue
		}
		stats.SnapshotsAdded += len(kept)
	}
}

func (e *Executor) chunkCoverage(symbol string, from, to time.Time) (float64, error) {
	windowDays := int(to.Sub(from).Hours() / 24)
	expected := float64(windowDays) * businessDayFactor
	if expected <= 0 {
		return 1, nil
	}
	covered, err := e.snapshots.CoveredDays(symbol, from, to)
	if err != nil {
		return 0, err
	}
	return float64(covered) / expected, nil
}
