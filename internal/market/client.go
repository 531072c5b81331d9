package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crypto-signal-service/config"
)

// restClient is the process-wide REST adapter for the exchange's public
// market-data endpoints. All calls pass through a shared token-bucket
// limiter sized to stay 30% under the published public limit.
type restClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

func newRESTClient(cfg config.ExchangeConfig, log zerolog.Logger) *restClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 8 * time.Second
	rc.HTTPClient.Timeout = cfg.RESTTimeout.Duration()
	rc.Logger = nil
	// Retry only transient failures and rate-limit pushback. Client errors
	// such as unknown symbols must surface immediately.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot || resp.StatusCode >= 500 {
			return true, nil
		}
		return false, nil
	}
	// Hand the last response back once retries run out so classifyHTTPError
	// still sees the status (429 stays RateLimited).
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	perSecond := float64(cfg.RequestsPerMin) * 0.7 / 60.0
	if perSecond <= 0 {
		perSecond = 10
	}

	return &restClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: rc.StandardClient(),
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 10),
		log:        log,
	}
}

// get performs a limited GET against the given path and decodes nothing;
// the raw body is returned for the caller to parse.
func (c *restClient) get(ctx context.Context, path string, params url.Values, symbol string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: err}
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, body, symbol)
	}
	return body, nil
}

// classifyHTTPError maps upstream failures to the gateway's error kinds.
func classifyHTTPError(status int, body []byte, symbol string) *DataError {
	cause := fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))

	switch {
	case status == http.StatusUnavailableForLegalReasons:
		return &DataError{Kind: KindUnavailableRegion, Symbol: symbol, Cause: cause}
	case status == http.StatusForbidden && strings.Contains(string(body), "restricted location"):
		return &DataError{Kind: KindUnavailableRegion, Symbol: symbol, Cause: cause}
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return &DataError{Kind: KindRateLimited, Symbol: symbol, Cause: cause}
	case status == http.StatusBadRequest && strings.Contains(string(body), "-1121"):
		return &DataError{Kind: KindUnknownSymbol, Symbol: symbol, Cause: cause}
	default:
		return &DataError{Kind: KindTransient, Symbol: symbol, Cause: cause}
	}
}

// fetchKlines fetches candles from the klines endpoint. The currently
// forming candle is dropped so callers only see closed candles.
func (c *restClient) fetchKlines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	// One extra so the forming candle can be dropped without shorting the
	// caller's window.
	params.Set("limit", strconv.Itoa(limit+1))

	body, err := c.get(ctx, "/api/v3/klines", params, symbol)
	if err != nil {
		return nil, err
	}

	klines, err := parseKlineRows(body)
	if err != nil {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: err}
	}

	klines = dropFormingCandle(klines, time.Now().UnixMilli())
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// fetchKlinesRange fetches closed candles in [startMs, endMs] open-time.
func (c *restClient) fetchKlinesRange(ctx context.Context, symbol string, tf Timeframe, startMs, endMs int64) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	params.Set("endTime", strconv.FormatInt(endMs, 10))
	params.Set("limit", "1000")

	body, err := c.get(ctx, "/api/v3/klines", params, symbol)
	if err != nil {
		return nil, err
	}

	klines, err := parseKlineRows(body)
	if err != nil {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: err}
	}
	return dropFormingCandle(klines, time.Now().UnixMilli()), nil
}

func (c *restClient) fetchTicker(ctx context.Context, symbol string) (*Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, "/api/v3/ticker/24hr", params, symbol)
	if err != nil {
		return nil, err
	}

	var ticker Ticker24h
	if err := json.Unmarshal(body, &ticker); err != nil {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: err}
	}
	return &ticker, nil
}

// symbolInfo is the exchangeInfo subset the scanners need.
type symbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	QuoteAsset string `json:"quoteAsset"`
}

func (c *restClient) fetchUSDTSymbols(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/api/v3/exchangeInfo", nil, "")
	if err != nil {
		return nil, err
	}

	var info struct {
		Symbols []symbolInfo `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &DataError{Kind: KindTransient, Cause: err}
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" && s.QuoteAsset == "USDT" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// parseKlineRows decodes the exchange's positional kline arrays.
func parseKlineRows(body []byte) ([]Kline, error) {
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parsing klines: %w", err)
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline row has %d fields", len(row))
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("kline open time is not numeric")
		}
		closeTime, ok := row[6].(float64)
		if !ok {
			return nil, fmt.Errorf("kline close time is not numeric")
		}
		klines = append(klines, Kline{
			OpenTime:  int64(openTime),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			CloseTime: int64(closeTime),
		})
	}
	return klines, nil
}

// dropFormingCandle removes the trailing candle if its close time is still
// in the future.
func dropFormingCandle(klines []Kline, nowMs int64) []Kline {
	for len(klines) > 0 && klines[len(klines)-1].CloseTime > nowMs {
		klines = klines[:len(klines)-1]
	}
	return klines
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
