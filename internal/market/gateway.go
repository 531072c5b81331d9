package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-signal-service/config"
)

// Gateway is the single REST + WebSocket adapter over the exchange's public
// market-data endpoints. One Gateway serves the whole process.
type Gateway struct {
	rest  *restClient
	cache *klineCache
	hub   *streamHub
	log   zerolog.Logger
}

// NewGateway builds the process-wide gateway.
func NewGateway(cfg config.ExchangeConfig, log zerolog.Logger) *Gateway {
	rest := newRESTClient(cfg, log)
	return &Gateway{
		rest:  rest,
		cache: newKlineCache(),
		hub:   newStreamHub(cfg.WSBaseURL, rest, log),
		log:   log,
	}
}

// GetKlines returns the last `limit` closed candles for (symbol, timeframe),
// never including the currently forming candle. Windows are cached per
// (symbol, timeframe); cache hits skip rate-limit accounting.
func (g *Gateway) GetKlines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Kline, error) {
	if !tf.Valid() {
		return nil, &DataError{Kind: KindUnknownSymbol, Symbol: symbol, Cause: fmt.Errorf("unsupported timeframe %q", tf)}
	}
	if limit <= 0 {
		return nil, &DataError{Kind: KindTransient, Symbol: symbol, Cause: fmt.Errorf("limit must be positive")}
	}

	return g.cache.getOrFetch(symbol, tf, limit, func() ([]Kline, error) {
		return g.rest.fetchKlines(ctx, symbol, tf, limit)
	})
}

// GetKlinesRange returns closed candles whose open time falls in
// [startMs, endMs], bypassing the cache. The stream hub's reconnect gap
// recovery issues the same range query through the REST client.
func (g *Gateway) GetKlinesRange(ctx context.Context, symbol string, tf Timeframe, startMs, endMs int64) ([]Kline, error) {
	return g.rest.fetchKlinesRange(ctx, symbol, tf, startMs, endMs)
}

// Get24hTicker returns 24-hour rolling statistics for a symbol.
func (g *Gateway) Get24hTicker(ctx context.Context, symbol string) (*Ticker24h, error) {
	return g.rest.fetchTicker(ctx, symbol)
}

// GetUSDTSymbols returns every TRADING pair quoted in USDT.
func (g *Gateway) GetUSDTSymbols(ctx context.Context) ([]string, error) {
	return g.rest.fetchUSDTSymbols(ctx)
}

// SubscribeClosedCandles subscribes to closed candles for (symbol,
// timeframe). Events arrive in ascending open-time order; many subscribers
// for one symbol share a single upstream stream.
func (g *Gateway) SubscribeClosedCandles(symbol string, tf Timeframe) (*Subscription, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return g.hub.subscribe(symbol, tf)
}

// Close shuts the websocket hub down.
func (g *Gateway) Close() {
	g.hub.close()
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
