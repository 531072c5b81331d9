package indicator

import (
	"sort"

	"crypto-signal-service/internal/market"
)

// pivotWindow is the number of bars on each side a pivot must dominate.
const pivotWindow = 3

// clusterTolerance merges pivot levels within 0.25% of each other.
const clusterTolerance = 0.0025

// supportResistance finds pivot highs/lows over a ±3-bar window and
// clusters nearby levels into single support/resistance prices.
func supportResistance(klines []market.Kline) []Level {
	if len(klines) < 2*pivotWindow+1 {
		return nil
	}

	var pivots []float64
	for i := pivotWindow; i < len(klines)-pivotWindow; i++ {
		isHigh, isLow := true, true
		for j := i - pivotWindow; j <= i+pivotWindow; j++ {
			if j == i {
				continue
			}
			if klines[j].High >= klines[i].High {
				isHigh = false
			}
			if klines[j].Low <= klines[i].Low {
				isLow = false
			}
		}
		if isHigh {
			pivots = append(pivots, klines[i].High)
		}
		if isLow {
			pivots = append(pivots, klines[i].Low)
		}
	}
	if len(pivots) == 0 {
		return nil
	}

	sort.Float64s(pivots)

	currentClose := klines[len(klines)-1].Close
	var levels []Level

	clusterStart := 0
	for i := 1; i <= len(pivots); i++ {
		if i < len(pivots) && pivots[i]-pivots[clusterStart] <= pivots[clusterStart]*clusterTolerance {
			continue
		}

		cluster := pivots[clusterStart:i]
		var sum float64
		for _, p := range cluster {
			sum += p
		}
		price := sum / float64(len(cluster))

		kind := "resistance"
		if price < currentClose {
			kind = "support"
		}
		levels = append(levels, Level{Price: price, Kind: kind, Touches: len(cluster)})
		clusterStart = i
	}

	return levels
}
