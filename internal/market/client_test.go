package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-signal-service/config"
)

func testConfig(baseURL string) config.ExchangeConfig {
	return config.ExchangeConfig{
		BaseURL:        baseURL,
		WSBaseURL:      "wss://example.invalid",
		RequestsPerMin: 1200,
		RESTTimeout:    10,
	}
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		expected ErrorKind
	}{
		{451, "unavailable", KindUnavailableRegion},
		{403, `{"msg":"Service unavailable from a restricted location"}`, KindUnavailableRegion},
		{429, "slow down", KindRateLimited},
		{418, "banned", KindRateLimited},
		{400, `{"code":-1121,"msg":"Invalid symbol."}`, KindUnknownSymbol},
		{400, `{"code":-1100,"msg":"Illegal characters"}`, KindTransient},
		{500, "boom", KindTransient},
	}

	for _, tt := range tests {
		err := classifyHTTPError(tt.status, []byte(tt.body), "XUSDT")
		if err.Kind != tt.expected {
			t.Errorf("status %d: kind = %s, expected %s", tt.status, err.Kind, tt.expected)
		}
	}
}

func TestParseKlineRows(t *testing.T) {
	body := []byte(`[
		[1700000000000,"100.5","101.0","99.5","100.8","1234.5",1700000059999,"124000",42,"600","60500","0"],
		[1700000060000,"100.8","102.0","100.1","101.7","2000.0",1700000119999,"203000",50,"900","91000","0"]
	]`)

	klines, err := parseKlineRows(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("expected 2 klines, got %d", len(klines))
	}
	if klines[0].Open != 100.5 || klines[0].Close != 100.8 || klines[0].Volume != 1234.5 {
		t.Errorf("first kline mis-parsed: %+v", klines[0])
	}
	if klines[1].OpenTime != 1700000060000 {
		t.Errorf("unexpected open time: %d", klines[1].OpenTime)
	}
}

func TestDropFormingCandle(t *testing.T) {
	now := int64(1_700_000_100_000)
	klines := []Kline{
		{OpenTime: 1, CloseTime: now - 120_000},
		{OpenTime: 2, CloseTime: now - 60_000},
		{OpenTime: 3, CloseTime: now + 30_000}, // still forming
	}

	out := dropFormingCandle(klines, now)
	if len(out) != 2 {
		t.Fatalf("expected forming candle dropped, got %d candles", len(out))
	}
	if out[len(out)-1].OpenTime != 2 {
		t.Error("wrong candle dropped")
	}
}

func TestGatewayGetKlinesNeverReturnsFormingCandle(t *testing.T) {
	nowMs := time.Now().UnixMilli()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		// Two closed candles plus the currently forming one.
		w.Header().Set("Content-Type", "application/json")
		body := `[` +
			row(nowMs-180_000, nowMs-120_001) + `,` +
			row(nowMs-120_000, nowMs-60_001) + `,` +
			row(nowMs-60_000, nowMs+59_999) + `]`
		w.Write([]byte(body))
	}))
	defer server.Close()

	g := NewGateway(testConfig(server.URL), zerolog.Nop())
	defer g.Close()

	klines, err := g.GetKlines(context.Background(), "BTCUSDT", Timeframe1m, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("expected 2 closed candles, got %d", len(klines))
	}
	for _, k := range klines {
		if k.CloseTime > nowMs {
			t.Error("forming candle leaked into the result")
		}
	}
}

func TestGatewayCacheHitSkipsUpstream(t *testing.T) {
	nowMs := time.Now().UnixMilli()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[` + row(nowMs-120_000, nowMs-60_001) + `,` + row(nowMs-60_000, nowMs-1) + `]`))
	}))
	defer server.Close()

	g := NewGateway(testConfig(server.URL), zerolog.Nop())
	defer g.Close()

	for i := 0; i < 3; i++ {
		if _, err := g.GetKlines(context.Background(), "BTCUSDT", Timeframe1m, 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call with a warm cache, got %d", calls)
	}
}

func TestGatewayUnknownSymbolSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	g := NewGateway(testConfig(server.URL), zerolog.Nop())
	defer g.Close()

	_, err := g.Get24hTicker(context.Background(), "NOPEUSDT")
	if !IsKind(err, KindUnknownSymbol) {
		t.Errorf("expected UNKNOWN_SYMBOL, got %v", err)
	}
}

func TestGatewayUSDTSymbolFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","quoteAsset":"USDT"},
			{"symbol":"ETHBTC","status":"TRADING","quoteAsset":"BTC"},
			{"symbol":"OLDUSDT","status":"BREAK","quoteAsset":"USDT"}
		]}`))
	}))
	defer server.Close()

	g := NewGateway(testConfig(server.URL), zerolog.Nop())
	defer g.Close()

	symbols, err := g.GetUSDTSymbols(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "BTCUSDT" {
		t.Errorf("expected only trading USDT pairs, got %v", symbols)
	}
}

func row(openMs, closeMs int64) string {
	return `[` + strconv.FormatInt(openMs, 10) +
		`,"100","101","99","100.5","1000",` +
		strconv.FormatInt(closeMs, 10) + `,"100000",10,"500","50000","0"]`
}
