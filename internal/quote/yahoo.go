package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
)

// YahooFetcher implements Fetcher using the Yahoo Finance public API.
type YahooFetcher struct {
	Client *http.Client
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string) *YahooFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &YahooFetcher{
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

// yahooChart is the response structure from the Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// yahooQuoteBatch is the response structure from the Yahoo Finance v7 quote
// API used for multi-symbol quotes.
type yahooQuoteBatch struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string  `json:"symbol"`
			Currency                   string  `json:"currency"`
			RegularMarketPrice         float64 `json:"regularMarketPrice"`
			RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

func toFloat(v interface{}) float64 {
	if v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func (f *YahooFetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (f *YahooFetcher) fetchChart(ctx context.Context, symbol string, params url.Values) (*yahooChart, error) {
	u := fmt.Sprintf("https://query1.finance.yahoo.com/v8/finance/chart/%s?%s",
		url.PathEscape(model.NormalizeSymbol(symbol)), params.Encode())

	body, err := f.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo: no data returned")
	}
	return &chart, nil
}

// FetchQuote fetches the current price and previous close for one symbol via
// the chart API metadata.
func (f *YahooFetcher) FetchQuote(ctx context.Context, symbol string) (model.FetchResult, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1d")

	chart, err := f.fetchChart(ctx, symbol, params)
	if err != nil {
		return failedResult(symbol, time.Now()), err
	}

	meta := chart.Chart.Result[0].Meta
	prevClose := meta.ChartPreviousClose
	if prevClose == 0 {
		prevClose = meta.PreviousClose
	}

	res := resolveQuote(symbol, meta.RegularMarketPrice, prevClose, meta.Currency, time.Now())
	if !res.Success {
		return res, fmt.Errorf("yahoo: no usable price for %s", symbol)
	}
	return res, nil
}

// FetchBatchQuotes fetches quotes for all symbols in one request via the v7
// quote API, falling back to per-symbol chart requests for anything the batch
// endpoint rejects or omits.
func (f *YahooFetcher) FetchBatchQuotes(ctx context.Context, symbols []string) (map[string]model.FetchResult, error) {
	results := make(map[string]model.FetchResult, len(symbols))
	if len(symbols) == 0 {
		return results, nil
	}

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, model.NormalizeSymbol(s))
	}

	if err := f.fetchQuoteBatch(ctx, normalized, results); err != nil {
		logger.WithComponent("yahoo").WithField("error", err).
			Warn("batch quote endpoint failed, falling back to per-symbol fetch")
	}

	for _, symbol := range normalized {
		if _, ok := results[symbol]; ok {
			continue
		}
		res, err := f.FetchQuote(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			logger.WithComponent("yahoo").WithField("symbol", symbol).
				WithField("error", err).Warn("quote fetch failed")
		}
		results[symbol] = res
	}
	return results, nil
}

func (f *YahooFetcher) fetchQuoteBatch(ctx context.Context, symbols []string, results map[string]model.FetchResult) error {
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	u := "https://query1.finance.yahoo.com/v7/finance/quote?" + params.Encode()

	body, err := f.get(ctx, u)
	if err != nil {
		return err
	}

	var batch yahooQuoteBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return fmt.Errorf("yahoo decode batch: %w", err)
	}
	if batch.QuoteResponse.Error != nil {
		return fmt.Errorf("yahoo api error: %s", batch.QuoteResponse.Error.Description)
	}

	now := time.Now()
	for _, q := range batch.QuoteResponse.Result {
		res := resolveQuote(q.Symbol, q.RegularMarketPrice, q.RegularMarketPreviousClose, q.Currency, now)
		if res.Success {
			results[res.Symbol] = res
		}
	}
	return nil
}

// FetchHistoricalData fetches daily bars for [from, to] via the chart API
// with an explicit period window.
func (f *YahooFetcher) FetchHistoricalData(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", fmt.Sprintf("%d", from.Unix()))
	params.Set("period2", fmt.Sprintf("%d", to.Unix()))

	chart, err := f.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, nil
	}

	quote := result.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		c := toFloat(quote.Close[i])
		if c == 0 {
			continue // null bars (holidays etc.)
		}
		bars = append(bars, model.Bar{
			Time:   time.Unix(ts, 0),
			Open:   toFloat(quote.Open[i]),
			High:   toFloat(quote.High[i]),
			Low:    toFloat(quote.Low[i]),
			Close:  c,
			Volume: toFloat(quote.Volume[i]),
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
