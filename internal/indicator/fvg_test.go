package indicator

import (
	"testing"

	"crypto-signal-service/internal/market"
)

func TestDetectBullishFVG(t *testing.T) {
	candles := []market.Kline{
		{Open: 95, High: 100, Low: 94, Close: 98},
		{Open: 98, High: 105, Low: 97, Close: 104},
		{Open: 104, High: 108, Low: 101, Close: 106},
	}

	fvgs := fairValueGaps(candles)
	if len(fvgs) != 1 {
		t.Fatalf("expected 1 FVG, got %d", len(fvgs))
	}

	fvg := fvgs[0]
	if fvg.Direction != DirectionBullish {
		t.Errorf("expected bullish FVG, got %s", fvg.Direction)
	}
	if fvg.Low != 100 {
		t.Errorf("expected zone low 100, got %f", fvg.Low)
	}
	if fvg.High != 101 {
		t.Errorf("expected zone high 101, got %f", fvg.High)
	}
	if fvg.FillProbability <= 0 || fvg.FillProbability > 0.9 {
		t.Errorf("fill probability out of range: %f", fvg.FillProbability)
	}
}

func TestDetectBearishFVG(t *testing.T) {
	candles := []market.Kline{
		{Open: 105, High: 106, Low: 100, Close: 102},
		{Open: 102, High: 103, Low: 95, Close: 96},
		{Open: 96, High: 99, Low: 92, Close: 94},
	}

	fvgs := fairValueGaps(candles)
	if len(fvgs) != 1 {
		t.Fatalf("expected 1 FVG, got %d", len(fvgs))
	}

	fvg := fvgs[0]
	if fvg.Direction != DirectionBearish {
		t.Errorf("expected bearish FVG, got %s", fvg.Direction)
	}
	if fvg.Low != 99 || fvg.High != 100 {
		t.Errorf("expected zone 99-100, got %f-%f", fvg.Low, fvg.High)
	}
}

func TestNoFVGOnOverlappingCandles(t *testing.T) {
	candles := []market.Kline{
		{Open: 95, High: 100, Low: 94, Close: 98},
		{Open: 98, High: 102, Low: 97, Close: 100},
		{Open: 100, High: 104, Low: 99, Close: 102},
	}

	if fvgs := fairValueGaps(candles); len(fvgs) != 0 {
		t.Errorf("expected 0 FVGs for overlapping candles, got %d", len(fvgs))
	}
}

func TestFVGFilledByLaterCandle(t *testing.T) {
	candles := []market.Kline{
		{Open: 95, High: 100, Low: 94, Close: 98},
		{Open: 98, High: 105, Low: 97, Close: 104},
		{Open: 104, High: 108, Low: 101, Close: 106},
		// Wick back down through the 100-101 gap fills it.
		{Open: 106, High: 107, Low: 100.5, Close: 105},
	}

	if fvgs := fairValueGaps(candles); len(fvgs) != 0 {
		t.Errorf("expected the gap to be filled, got %d unfilled zones", len(fvgs))
	}
}

func TestFVGSortedByProximity(t *testing.T) {
	// Two gaps at different distances from the final close.
	candles := []market.Kline{
		{Open: 95, High: 100, Low: 94, Close: 98},
		{Open: 98, High: 110, Low: 97, Close: 109},
		{Open: 109, High: 112, Low: 105, Close: 110}, // gap 100-105
		{Open: 110, High: 120, Low: 110, Close: 119},
		{Open: 119, High: 125, Low: 115, Close: 121}, // gap 112-115
	}

	fvgs := fairValueGaps(candles)
	if len(fvgs) != 2 {
		t.Fatalf("expected 2 unfilled FVGs, got %d", len(fvgs))
	}
	if zoneDistance(fvgs[0], 121) > zoneDistance(fvgs[1], 121) {
		t.Error("zones must be sorted nearest-first relative to the current close")
	}
}

func BenchmarkFairValueGaps(b *testing.B) {
	candles := make([]market.Kline, 1000)
	for i := range candles {
		candles[i] = market.Kline{
			Open:  float64(100 + i),
			High:  float64(105 + i),
			Low:   float64(95 + i),
			Close: float64(102 + i),
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fairValueGaps(candles)
	}
}
