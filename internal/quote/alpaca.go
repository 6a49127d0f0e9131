package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quotekeeper/internal/model"
)

// AlpacaFetcher implements Fetcher using the Alpaca market data API.
type AlpacaFetcher struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

// NewAlpacaFetcher creates a fetcher backed by Alpaca. baseURL and feed may
// be empty to use the SDK defaults.
func NewAlpacaFetcher(apiKey, apiSecret, baseURL, feed string) *AlpacaFetcher {
	return &AlpacaFetcher{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		feed: marketdata.Feed(feed),
	}
}

func (f *AlpacaFetcher) Name() string { return "alpaca" }

// quoteFromSnapshot extracts price and previous close from a snapshot,
// tolerating missing fields outside market hours.
func quoteFromSnapshot(symbol string, snap *marketdata.Snapshot, now time.Time) model.FetchResult {
	if snap == nil {
		return failedResult(symbol, now)
	}

	var price, prevClose float64
	if snap.LatestTrade != nil {
		price = snap.LatestTrade.Price
	} else if snap.DailyBar != nil {
		price = snap.DailyBar.Close
	}
	if snap.PrevDailyBar != nil {
		prevClose = snap.PrevDailyBar.Close
	}
	return resolveQuote(symbol, price, prevClose, "USD", now)
}

// FetchQuote fetches the current price and previous close for one symbol.
func (f *AlpacaFetcher) FetchQuote(ctx context.Context, symbol string) (model.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return failedResult(symbol, time.Now()), err
	}

	snap, err := f.client.GetSnapshot(model.NormalizeSymbol(symbol), marketdata.GetSnapshotRequest{
		Feed: f.feed,
	})
	if err != nil {
		return failedResult(symbol, time.Now()), fmt.Errorf("alpaca snapshot %s: %w", symbol, err)
	}

	res := quoteFromSnapshot(symbol, snap, time.Now())
	if !res.Success {
		return res, fmt.Errorf("alpaca: no usable price for %s", symbol)
	}
	return res, nil
}

// FetchBatchQuotes fetches quotes for all symbols in one snapshot request.
func (f *AlpacaFetcher) FetchBatchQuotes(ctx context.Context, symbols []string) (map[string]model.FetchResult, error) {
	results := make(map[string]model.FetchResult, len(symbols))
	if len(symbols) == 0 {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, model.NormalizeSymbol(s))
	}

	snaps, err := f.client.GetSnapshots(normalized, marketdata.GetSnapshotRequest{
		Feed: f.feed,
	})
	if err != nil {
		return results, fmt.Errorf("alpaca snapshots: %w", err)
	}

	now := time.Now()
	for _, symbol := range normalized {
		results[symbol] = quoteFromSnapshot(symbol, snaps[symbol], now)
	}
	return results, nil
}

// FetchHistoricalData fetches daily bars for [from, to].
func (f *AlpacaFetcher) FetchHistoricalData(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := f.client.GetBars(model.NormalizeSymbol(symbol), marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     from,
		End:       to,
		Feed:      f.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}

	bars := make([]model.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, model.Bar{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return bars, nil
}
