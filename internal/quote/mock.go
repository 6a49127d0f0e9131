package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quotekeeper/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu sync.Mutex

	// Quotes maps symbol to the result FetchBatchQuotes and FetchQuote
	// return. Symbols absent from the map come back as failed.
	Quotes map[string]model.FetchResult

	// History maps symbol to the bars FetchHistoricalData returns; the
	// window filter still applies.
	History map[string][]model.Bar

	// HistoryErr, when set for a symbol, fails that symbol's history fetch.
	HistoryErr map[string]error

	// BatchErr, when set, fails the whole batch call.
	BatchErr error

	BatchCalls   int
	QuoteCalls   int
	HistoryCalls int
	BatchRequest [][]string
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchQuote(_ context.Context, symbol string) (model.FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuoteCalls++

	symbol = model.NormalizeSymbol(symbol)
	if res, ok := m.Quotes[symbol]; ok {
		res.FetchedAt = time.Now()
		return res, nil
	}
	return failedResult(symbol, time.Now()), fmt.Errorf("mock: no quote for %s", symbol)
}

func (m *MockFetcher) FetchBatchQuotes(_ context.Context, symbols []string) (map[string]model.FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls++

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, model.NormalizeSymbol(s))
	}
	m.BatchRequest = append(m.BatchRequest, normalized)

	if m.BatchErr != nil {
		return nil, m.BatchErr
	}

	now := time.Now()
	results := make(map[string]model.FetchResult, len(normalized))
	for _, symbol := range normalized {
		if res, ok := m.Quotes[symbol]; ok {
			res.FetchedAt = now
			results[symbol] = res
		} else {
			results[symbol] = failedResult(symbol, now)
		}
	}
	return results, nil
}

func (m *MockFetcher) FetchHistoricalData(_ context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls++

	symbol = model.NormalizeSymbol(symbol)
	if err, ok := m.HistoryErr[symbol]; ok {
		return nil, err
	}

	var bars []model.Bar
	for _, b := range m.History[symbol] {
		if b.Time.Before(from) || b.Time.After(to) {
			continue
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// Calls returns the recorded call counters.
func (m *MockFetcher) Calls() (batch, quote, history int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BatchCalls, m.QuoteCalls, m.HistoryCalls
}

// GenerateDailyBars produces count consecutive weekday bars ending at end,
// for seeding mocks and coverage fixtures.
func GenerateDailyBars(end time.Time, count int, basePrice float64) []model.Bar {
	bars := make([]model.Bar, 0, count)
	day := end
	for len(bars) < count {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			p := basePrice * (1 + float64(len(bars))*0.001)
			bars = append(bars, model.Bar{
				Time:   day,
				Open:   p * 0.999,
				High:   p * 1.005,
				Low:    p * 0.995,
				Close:  p,
				Volume: 1000000,
			})
		}
		day = day.AddDate(0, 0, -1)
	}
	// reverse into chronological order
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars
}
