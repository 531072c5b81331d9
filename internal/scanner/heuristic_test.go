package scanner

import (
	"testing"

	"crypto-signal-service/internal/market"
)

func TestBotActivityScoreShortSeries(t *testing.T) {
	if score := botActivityScore(make([]market.Kline, 10)); score != 0 {
		t.Errorf("expected 0 for short series, got %f", score)
	}
}

func TestBotActivityScoreBounded(t *testing.T) {
	klines := make([]market.Kline, 50)
	for i := range klines {
		up := float64(i%2) - 0.5
		klines[i] = market.Kline{
			Open:   100,
			Close:  100 + up*0.2,
			High:   100.3,
			Low:    99.7,
			Volume: 1000,
		}
	}
	klines[len(klines)-1].Volume = 100_000

	score := botActivityScore(klines)
	if score < 0 || score > 100 {
		t.Errorf("score out of bounds: %f", score)
	}
}

// TestBotActivityScoreHighForBotLikeTape: a strict up/down ping-pong with
// identical bodies and a volume surge should clear the default threshold.
func TestBotActivityScoreHighForBotLikeTape(t *testing.T) {
	klines := make([]market.Kline, 50)
	for i := range klines {
		open, close := 100.0, 100.2
		if i%2 == 1 {
			open, close = 100.2, 100.0
		}
		klines[i] = market.Kline{Open: open, Close: close, High: 100.3, Low: 99.9, Volume: 1000}
	}
	klines[len(klines)-1].Volume = 5000 // 5x surge

	score := botActivityScore(klines)
	if score <= 70 {
		t.Errorf("expected a bot-like tape to score above 70, got %f", score)
	}
}

func TestBotActivityScoreLowForOrganicTrend(t *testing.T) {
	klines := make([]market.Kline, 50)
	price := 100.0
	for i := range klines {
		// Steady rally: no alternation, uneven bodies.
		step := 0.1 + float64(i%7)*0.15
		klines[i] = market.Kline{Open: price, Close: price + step, High: price + step + 0.1, Low: price - 0.1, Volume: 1000}
		price += step
	}

	score := botActivityScore(klines)
	if score > 70 {
		t.Errorf("expected an organic trend below the threshold, got %f", score)
	}
}
