package indicator

import (
	"sort"

	"crypto-signal-service/internal/market"
)

// fairValueGaps detects three-candle imbalances and returns the zones no
// later candle has overlapped, sorted by proximity to the current close.
//
// Bullish: low[i] > high[i-2], zone [high[i-2], low[i]].
// Bearish: high[i] < low[i-2], zone [high[i], low[i-2]].
func fairValueGaps(klines []market.Kline) []FVGZone {
	if len(klines) < 3 {
		return nil
	}

	currentClose := klines[len(klines)-1].Close

	type openGap struct {
		zone      FVGZone
		createdAt int
	}
	var gaps []openGap

	for i := 2; i < len(klines); i++ {
		first, last := klines[i-2], klines[i]

		if last.Low > first.High {
			gaps = append(gaps, openGap{
				zone:      FVGZone{Low: first.High, High: last.Low, Direction: DirectionBullish},
				createdAt: i,
			})
		}
		if last.High < first.Low {
			gaps = append(gaps, openGap{
				zone:      FVGZone{Low: last.High, High: first.Low, Direction: DirectionBearish},
				createdAt: i,
			})
		}
	}

	var unfilled []FVGZone
	for _, g := range gaps {
		filled := false
		for j := g.createdAt + 1; j < len(klines); j++ {
			if klines[j].Low <= g.zone.High && klines[j].High >= g.zone.Low {
				filled = true
				break
			}
		}
		if filled {
			continue
		}
		z := g.zone
		z.FillProbability = fillProbability(z, currentClose)
		unfilled = append(unfilled, z)
	}

	sort.SliceStable(unfilled, func(i, j int) bool {
		return zoneDistance(unfilled[i], currentClose) < zoneDistance(unfilled[j], currentClose)
	})
	return unfilled
}

// fillProbability grades a zone by its distance from the current price:
// nearby gaps act as magnets, far gaps rarely get revisited soon.
func fillProbability(z FVGZone, price float64) float64 {
	if price == 0 {
		return 0.1
	}
	distPct := zoneDistance(z, price) / price * 100
	return clamp(0.9-distPct*0.08, 0.1, 0.9)
}

func zoneDistance(z FVGZone, price float64) float64 {
	switch {
	case price < z.Low:
		return z.Low - price
	case price > z.High:
		return price - z.High
	default:
		return 0
	}
}
