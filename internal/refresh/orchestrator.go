package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quotekeeper/internal/cache"
	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
	"quotekeeper/internal/portfolio"
	"quotekeeper/internal/quote"
	"quotekeeper/internal/snapshot"
)

// Outcome reports what one refresh pass did. Ran=false means another pass
// held the lock and this one was dropped, not queued.
type Outcome struct {
	Ran       bool
	Attempted []string
	Updated   []string
	Failed    []string
}

// Orchestrator drives quote refreshes: it selects eligible symbols, fetches
// them in one batch, applies results to the portfolio, records cache
// outcomes, and appends live snapshots.
type Orchestrator struct {
	running sync.Mutex

	fetcher   quote.Fetcher
	cache     *cache.Coordinator
	portfolio *portfolio.Store
	snapshots snapshot.Store
	log       *logrus.Entry

	// onBatchDone fires after a pass that updated at least one holding.
	onBatchDone func()

	staggerMu  sync.Mutex
	staggerIdx int

	wg sync.WaitGroup
}

func NewOrchestrator(fetcher quote.Fetcher, coord *cache.Coordinator, port *portfolio.Store, snaps snapshot.Store) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		cache:     coord,
		portfolio: port,
		snapshots: snaps,
		log:       logger.WithComponent("refresh"),
	}
}

// OnBatchDone installs the hook fired after each pass that updated holdings.
func (o *Orchestrator) OnBatchDone(fn func()) {
	o.onBatchDone = fn
}

// PerformRefreshAllTrades runs one refresh pass. limitedTo, when non-nil,
// restricts the pass to those symbols; eligibility rules still apply. If
// another pass is already in flight this one is dropped.
func (o *Orchestrator) PerformRefreshAllTrades(ctx context.Context, limitedTo []string) Outcome {
	if !o.running.TryLock() {
		o.log.Debug("refresh already in flight, dropping overlapping call")
		return Outcome{Ran: false}
	}
	defer o.running.Unlock()

	now := time.Now()
	candidates := o.eligible(now, limitedTo)
	if len(candidates) == 0 {
		o.log.Debug("no symbols due for refresh")
		return Outcome{Ran: true}
	}

	out := Outcome{Ran: true, Attempted: candidates}

	results, err := o.fetcher.FetchBatchQuotes(ctx, candidates)
	if err != nil {
		o.log.WithField("error", err).Warn("batch quote fetch failed")
		for _, symbol := range candidates {
			o.cache.SetFailedFetch(symbol, now)
		}
		out.Failed = candidates
		return out
	}

	var snaps []model.PriceSnapshot
	for _, symbol := range candidates {
		res, ok := results[symbol]
		if !ok || !res.Success {
			o.cache.SetFailedFetch(symbol, now)
			out.Failed = append(out.Failed, symbol)
			continue
		}

		o.portfolio.ApplyResult(res)
		o.cache.SetSuccessfulFetch(symbol, now)
		out.Updated = append(out.Updated, symbol)

		if model.ValidPrice(res.Price) {
			snaps = append(snaps, model.PriceSnapshot{
				Symbol:    symbol,
				Time:      res.FetchedAt,
				Day:       res.FetchedAt.Format(model.DayFormat),
				Price:     res.Price,
				PrevClose: res.PrevClose,
				Source:    model.SourceRefresh,
			})
		}
	}

	// One persist per pass, not per symbol.
	if err := o.portfolio.Persist(); err != nil {
		o.log.WithField("error", err).Error("persist portfolio state failed")
	}
	if err := o.snapshots.Append(snaps); err != nil {
		o.log.WithField("error", err).Error("append snapshots failed")
	}

	o.log.WithFields(logger.Fields{
		"attempted": len(out.Attempted),
		"updated":   len(out.Updated),
		"failed":    len(out.Failed),
	}).Info("refresh pass complete")

	if o.onBatchDone != nil && len(out.Updated) > 0 {
		o.onBatchDone()
	}
	return out
}

// eligible partitions tracked symbols by failure state: symbols with a
// recorded failure are gated by the retry ladder, everything else by the
// freshness window. A symbol never matches both gates.
func (o *Orchestrator) eligible(now time.Time, limitedTo []string) []string {
	allowed := map[string]bool{}
	for _, s := range limitedTo {
		allowed[model.NormalizeSymbol(s)] = true
	}

	var candidates []string
	for _, symbol := range o.portfolio.Symbols() {
		if limitedTo != nil && !allowed[symbol] {
			continue
		}
		if o.cache.HasFailure(symbol) {
			if o.cache.ShouldRetry(symbol, now) {
				candidates = append(candidates, symbol)
			}
			continue
		}
		if o.cache.ShouldRefresh(symbol, now) {
			candidates = append(candidates, symbol)
		}
	}
	return candidates
}

// StartStaggered launches the staggered loop: each tick considers exactly
// one symbol in round-robin order and refreshes it if eligible. The pointer
// advances every tick regardless of eligibility or outcome.
func (o *Orchestrator) StartStaggered(ctx context.Context, interval time.Duration) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		o.log.WithField("interval", interval).Info("staggered refresh loop started")
		for {
			select {
			case <-ctx.Done():
				o.log.Info("staggered refresh loop stopped")
				return
			case <-ticker.C:
				if symbol, ok := o.nextSymbol(); ok {
					o.PerformRefreshAllTrades(ctx, []string{symbol})
				}
			}
		}
	}()
}

func (o *Orchestrator) nextSymbol() (string, bool) {
	symbols := o.portfolio.Symbols()
	if len(symbols) == 0 {
		return "", false
	}

	o.staggerMu.Lock()
	defer o.staggerMu.Unlock()
	symbol := symbols[o.staggerIdx%len(symbols)]
	o.staggerIdx++
	return symbol, true
}

// Wait blocks until background loops exit. Cancel the context passed to
// StartStaggered first.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
