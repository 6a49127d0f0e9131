package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quotekeeper/internal/cache"
	"quotekeeper/internal/model"
	"quotekeeper/internal/portfolio"
	"quotekeeper/internal/quote"
	"quotekeeper/internal/snapshot"
)

type fixture struct {
	orch  *Orchestrator
	mock  *quote.MockFetcher
	coord *cache.Coordinator
	port  *portfolio.Store
	snaps *snapshot.SQLiteStore
}

func newFixture(t *testing.T, symbols ...string) *fixture {
	t.Helper()
	dir := t.TempDir()

	positions := make([]model.Position, len(symbols))
	quotes := make(map[string]model.FetchResult, len(symbols))
	for i, s := range symbols {
		positions[i] = model.Position{Symbol: s, Units: 1, AvgCost: 100}
		quotes[s] = model.FetchResult{Symbol: s, Price: 110, PrevClose: 109, Success: true}
	}

	port, err := portfolio.NewStore(filepath.Join(dir, "state.json"), positions)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snaps, err := snapshot.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { snaps.Close() })

	mock := &quote.MockFetcher{Quotes: quotes}
	coord := cache.NewCoordinator(cache.DefaultPolicy())
	return &fixture{
		orch:  NewOrchestrator(mock, coord, port, snaps),
		mock:  mock,
		coord: coord,
		port:  port,
		snaps: snaps,
	}
}

func TestRefreshFetchesOnlyDueSymbols(t *testing.T) {
	f := newFixture(t, "A", "B", "C", "D", "E", "F", "G", "H", "I", "J")

	// Mark six symbols as freshly fetched; four stay due.
	now := time.Now()
	for _, s := range []string{"A", "B", "C", "D", "E", "F"} {
		f.coord.SetSuccessfulFetch(s, now)
	}

	out := f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if !out.Ran {
		t.Fatalf("expected pass to run")
	}
	if len(out.Attempted) != 4 {
		t.Fatalf("attempted = %v, want the 4 due symbols", out.Attempted)
	}

	batch, _, _ := f.mock.Calls()
	if batch != 1 {
		t.Fatalf("expected exactly one batch fetch, got %d", batch)
	}
	if len(f.mock.BatchRequest[0]) != 4 {
		t.Errorf("batch contained %v, want exactly the 4 due symbols", f.mock.BatchRequest[0])
	}
}

func TestRefreshNoCandidatesNoNetworkCalls(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT")

	now := time.Now()
	f.coord.SetSuccessfulFetch("AAPL", now)
	f.coord.SetSuccessfulFetch("MSFT", now)

	out := f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if !out.Ran {
		t.Fatalf("expected pass to run")
	}
	if len(out.Attempted) != 0 {
		t.Fatalf("attempted = %v, want none", out.Attempted)
	}

	batch, single, history := f.mock.Calls()
	if batch+single+history != 0 {
		t.Errorf("expected zero network calls, got batch=%d single=%d history=%d", batch, single, history)
	}
}

func TestRefreshDropsConcurrentCall(t *testing.T) {
	f := newFixture(t, "AAPL")

	// Hold the single-flight lock to simulate a pass in progress.
	f.orch.running.Lock()

	var wg sync.WaitGroup
	var dropped Outcome
	wg.Add(1)
	go func() {
		defer wg.Done()
		dropped = f.orch.PerformRefreshAllTrades(context.Background(), nil)
	}()
	wg.Wait()
	f.orch.running.Unlock()

	if dropped.Ran {
		t.Fatalf("overlapping call must be dropped, not queued")
	}
	if batch, _, _ := f.mock.Calls(); batch != 0 {
		t.Errorf("dropped call made %d batch fetches", batch)
	}

	// The next call proceeds normally.
	out := f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if !out.Ran || len(out.Updated) != 1 {
		t.Errorf("follow-up call should run, got %+v", out)
	}
}

func TestRefreshAppliesResultsAndRecordsOutcomes(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT")
	delete(f.mock.Quotes, "MSFT") // MSFT fails this pass

	out := f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if len(out.Updated) != 1 || out.Updated[0] != "AAPL" {
		t.Fatalf("updated = %v", out.Updated)
	}
	if len(out.Failed) != 1 || out.Failed[0] != "MSFT" {
		t.Fatalf("failed = %v", out.Failed)
	}

	h, _ := f.port.Holding("AAPL")
	if h.Price != 110 {
		t.Errorf("AAPL price = %v, want 110", h.Price)
	}
	if !f.coord.HasFailure("MSFT") {
		t.Errorf("MSFT failure not recorded")
	}
	if f.coord.HasFailure("AAPL") {
		t.Errorf("AAPL wrongly marked failed")
	}

	now := time.Now()
	snaps, err := f.snaps.Read("AAPL", now.AddDate(0, 0, -1), now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Source != model.SourceRefresh {
		t.Errorf("expected one live snapshot for AAPL, got %v", snaps)
	}
}

func TestRefreshFailedSymbolKeepsOldPrice(t *testing.T) {
	f := newFixture(t, "AAPL")

	f.orch.PerformRefreshAllTrades(context.Background(), nil)
	h, _ := f.port.Holding("AAPL")
	if h.Price != 110 {
		t.Fatalf("setup fetch failed: %v", h.Price)
	}

	// Next pass fails; the retry gate opens after the first backoff rung.
	f.mock.BatchErr = errors.New("provider down")
	f.coord.SetFailedFetch("AAPL", time.Now().Add(-2*time.Minute)) // past first rung

	out := f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if len(out.Failed) != 1 {
		t.Fatalf("expected failure, got %+v", out)
	}

	h, _ = f.port.Holding("AAPL")
	if h.Price != 110 {
		t.Errorf("failed fetch clobbered retained price: %v", h.Price)
	}
}

func TestRefreshLimitedToIntersectsCandidates(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT", "TSLA")

	out := f.orch.PerformRefreshAllTrades(context.Background(), []string{"msft", "UNKNOWN"})
	if len(out.Attempted) != 1 || out.Attempted[0] != "MSFT" {
		t.Fatalf("attempted = %v, want [MSFT]", out.Attempted)
	}
}

func TestRefreshSkipsSymbolsInBackoff(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT")

	// AAPL failed seconds ago: inside the first backoff rung, not eligible.
	f.coord.SetFailedFetch("AAPL", time.Now())

	out := f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if len(out.Attempted) != 1 || out.Attempted[0] != "MSFT" {
		t.Fatalf("attempted = %v, want only MSFT", out.Attempted)
	}
}

func TestOnBatchDoneFiresOnlyOnUpdates(t *testing.T) {
	f := newFixture(t, "AAPL")

	fired := 0
	f.orch.OnBatchDone(func() { fired++ })

	f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if fired != 1 {
		t.Fatalf("hook fired %d times, want 1", fired)
	}

	// All-failed pass must not fire the hook.
	f.mock.BatchErr = errors.New("provider down")
	f.coord.SetFailedFetch("AAPL", time.Now().Add(-2*time.Minute))
	f.orch.PerformRefreshAllTrades(context.Background(), nil)
	if fired != 1 {
		t.Errorf("hook fired on a pass with no updates")
	}
}

func TestStaggeredPointerAlwaysAdvances(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT", "TSLA")

	var seen []string
	for i := 0; i < 6; i++ {
		symbol, ok := f.orch.nextSymbol()
		if !ok {
			t.Fatalf("nextSymbol returned no symbol")
		}
		seen = append(seen, symbol)
	}

	want := []string{"AAPL", "MSFT", "TSLA", "AAPL", "MSFT", "TSLA"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("round-robin order = %v, want %v", seen, want)
		}
	}
}

func TestStaggeredLoopStopsOnCancel(t *testing.T) {
	f := newFixture(t, "AAPL")

	ctx, cancel := context.WithCancel(context.Background())
	f.orch.StartStaggered(ctx, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	f.orch.Wait()

	batch, _, _ := f.mock.Calls()
	if batch == 0 {
		t.Errorf("expected at least one staggered refresh before cancel")
	}
}
