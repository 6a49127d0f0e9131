package quote

import (
	"context"
	"time"

	"quotekeeper/internal/model"
)

// Fetcher defines the interface for fetching market data from a provider.
// Batch implementations must return an entry for every requested symbol,
// marking unfetchable ones with Success=false rather than omitting them.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) (model.FetchResult, error)
	FetchBatchQuotes(ctx context.Context, symbols []string) (map[string]model.FetchResult, error)
	FetchHistoricalData(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error)
	Name() string
}

// resolveQuote applies the cross-fallback between price and previous close:
// a missing side borrows the other, and a quote with neither is a failure.
func resolveQuote(symbol string, price, prevClose float64, currency string, now time.Time) model.FetchResult {
	res := model.FetchResult{
		Symbol:    model.NormalizeSymbol(symbol),
		Price:     price,
		PrevClose: prevClose,
		Currency:  currency,
		FetchedAt: now,
	}
	switch {
	case model.ValidPrice(price) && model.ValidPrice(prevClose):
		res.Success = true
	case model.ValidPrice(price):
		res.PrevClose = price
		res.Success = true
	case model.ValidPrice(prevClose):
		res.Price = prevClose
		res.Success = true
	}
	return res
}

// failedResult marks one symbol as unfetchable for this attempt.
func failedResult(symbol string, now time.Time) model.FetchResult {
	return model.FetchResult{
		Symbol:    model.NormalizeSymbol(symbol),
		FetchedAt: now,
		Success:   false,
	}
}
