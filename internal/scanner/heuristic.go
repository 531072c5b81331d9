package scanner

import (
	"math"

	"crypto-signal-service/internal/market"
)

// botActivityScore grades a symbol's recent candle/volume profile for
// bot-like trading, 0-100. Three components:
//   - volume surge: current candle volume against the 20-candle average
//   - body uniformity: algorithmic flows print unusually even candle bodies
//   - alternation: high up/down flip rates point at ping-pong market making
func botActivityScore(klines []market.Kline) float64 {
	const window = 20
	if len(klines) < window+1 {
		return 0
	}

	recent := klines[len(klines)-window:]

	// Volume surge, up to 40 points at 3x the average.
	var volSum float64
	for _, k := range klines[len(klines)-window-1 : len(klines)-1] {
		volSum += k.Volume
	}
	avgVol := volSum / window
	score := 0.0
	if avgVol > 0 {
		ratio := klines[len(klines)-1].Volume / avgVol
		score += math.Min(ratio/3.0, 1.0) * 40
	}

	// Body uniformity, up to 30 points when the coefficient of variation of
	// absolute body sizes is low.
	bodies := make([]float64, 0, window)
	for _, k := range recent {
		if k.Open == 0 {
			continue
		}
		bodies = append(bodies, math.Abs(k.Close-k.Open)/k.Open*100)
	}
	if len(bodies) >= 2 {
		m := meanOf(bodies)
		if m > 0 {
			var variance float64
			for _, b := range bodies {
				variance += (b - m) * (b - m)
			}
			variance /= float64(len(bodies))
			cv := math.Sqrt(variance) / m
			score += math.Max(0, 1.0-cv) * 30
		}
	}

	// Alternation, up to 30 points when direction flips nearly every candle.
	flips, comparisons := 0, 0
	for i := 1; i < len(recent); i++ {
		prevUp := recent[i-1].Close > recent[i-1].Open
		curUp := recent[i].Close > recent[i].Open
		comparisons++
		if prevUp != curUp {
			flips++
		}
	}
	if comparisons > 0 {
		score += float64(flips) / float64(comparisons) * 30
	}

	return math.Min(score, 100)
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
