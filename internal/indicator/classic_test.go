package indicator

import (
	"reflect"
	"testing"

	"crypto-signal-service/internal/market"
)

func flatKlines(n int, price, volume float64) []market.Kline {
	klines := make([]market.Kline, n)
	for i := range klines {
		klines[i] = market.Kline{
			OpenTime:  int64(i) * 60_000,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    volume,
			CloseTime: int64(i+1)*60_000 - 1,
		}
	}
	return klines
}

func trendingKlines(n int, start, step float64) []market.Kline {
	klines := make([]market.Kline, n)
	price := start
	for i := range klines {
		klines[i] = market.Kline{
			OpenTime:  int64(i) * 60_000,
			Open:      price,
			High:      price + step,
			Low:       price - step/2,
			Close:     price + step,
			Volume:    100,
			CloseTime: int64(i+1)*60_000 - 1,
		}
		price += step
	}
	return klines
}

func TestRSIAllGainsIsMax(t *testing.T) {
	klines := trendingKlines(40, 100, 1)

	cur, prev := rsiLastTwo(klines, 14)
	if cur == nil || prev == nil {
		t.Fatal("expected RSI values for a 40-candle series")
	}
	if *cur != 100 {
		t.Errorf("expected RSI 100 for monotonic gains, got %f", *cur)
	}
}

func TestRSIShortSeriesIsNil(t *testing.T) {
	klines := trendingKlines(14, 100, 1) // period+1 candles needed

	cur, prev := rsiLastTwo(klines, 14)
	if cur != nil || prev != nil {
		t.Error("expected nil RSI for a series shorter than period+1")
	}
}

func TestRSIRange(t *testing.T) {
	// Alternating moves keep RSI strictly inside (0, 100).
	klines := make([]market.Kline, 60)
	price := 100.0
	for i := range klines {
		step := 1.0
		if i%2 == 0 {
			step = -0.8
		}
		price += step
		klines[i] = market.Kline{Open: price - step, High: price + 0.1, Low: price - 0.1, Close: price, Volume: 50}
	}

	cur, _ := rsiLastTwo(klines, 6)
	if cur == nil {
		t.Fatal("expected an RSI value")
	}
	if *cur <= 0 || *cur >= 100 {
		t.Errorf("RSI out of expected open interval: %f", *cur)
	}
}

func TestMFIAllInflowIsMax(t *testing.T) {
	klines := trendingKlines(40, 100, 1)

	cur, prev := mfiLastTwo(klines, 14)
	if cur == nil || prev == nil {
		t.Fatal("expected MFI values")
	}
	if *cur != 100 {
		t.Errorf("expected MFI 100 for pure inflow, got %f", *cur)
	}
}

func TestMFIFlatSeriesIsBalanced(t *testing.T) {
	klines := flatKlines(40, 100, 1000)

	cur, _ := mfiLastTwo(klines, 14)
	if cur == nil {
		t.Fatal("expected an MFI value")
	}
	if *cur != 50 {
		t.Errorf("expected MFI 50 with no directional flow, got %f", *cur)
	}
}

func TestStochasticFlatSeries(t *testing.T) {
	klines := flatKlines(60, 100, 1000)

	k, d := stochastic(klines, 14, 3, 3)
	if k == nil || d == nil {
		t.Fatal("expected stochastic values for a 60-candle series")
	}
	if *k != 50 || *d != 50 {
		t.Errorf("expected %%K=%%D=50 on a flat series, got K=%f D=%f", *k, *d)
	}
}

func TestStochasticShortSeries(t *testing.T) {
	k, d := stochastic(flatKlines(10, 100, 1), 14, 3, 3)
	if k != nil || d != nil {
		t.Error("expected nil stochastic on short series")
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	klines := trendingKlines(250, 100, 0.5)
	engine := NewEngine(ConservativePeriod)

	a := engine.Snapshot(market.Timeframe4h, klines)
	b := engine.Snapshot(market.Timeframe4h, klines)

	if !reflect.DeepEqual(a, b) {
		t.Error("identical input must yield identical snapshot output")
	}
}

func TestATR(t *testing.T) {
	klines := flatKlines(30, 100, 1)
	for i := range klines {
		klines[i].High = 101
		klines[i].Low = 99
	}

	v, ok := atr(klines, 14, len(klines)-1)
	if !ok {
		t.Fatal("expected ATR value")
	}
	if v != 2 {
		t.Errorf("expected ATR 2 for constant 2-point ranges, got %f", v)
	}
}
