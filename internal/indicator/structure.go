package indicator

import (
	"crypto-signal-service/internal/market"
)

// smcStructure maintains running swing highs/lows and logs structure
// events: a BOS when price closes beyond the last swing in the prevailing
// trend, a CHoCH on the first close beyond the last swing against it.
func smcStructure(klines []market.Kline) *Structure {
	if len(klines) < 2*pivotWindow+1 {
		return nil
	}

	type swing struct {
		price float64
		high  bool
	}

	// Swing points are the same ±3-bar pivots the level detector uses.
	var swings []swing
	swingIdx := make([]int, 0)
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
			swings = append(swings, swing{price: klines[i].High, high: true})
			swingIdx = append(swingIdx, i)
		}
		if isLow {
			swings = append(swings, swing{price: klines[i].Low, high: false})
			swingIdx = append(swingIdx, i)
		}
	}
	if len(swings) == 0 {
		return nil
	}

	st := &Structure{Trend: DirectionBullish}
	var lastHigh, lastLow *float64
	cursor := 0

	for i := range klines {
		// Activate swings once their confirmation window has passed.
		for cursor < len(swings) && swingIdx[cursor]+pivotWindow <= i {
			s := swings[cursor]
			if s.high {
				p := s.price
				lastHigh = &p
			} else {
				p := s.price
				lastLow = &p
			}
			cursor++
		}

		closePrice := klines[i].Close

		if lastHigh != nil && closePrice > *lastHigh {
			brk := &StructureBreak{Direction: DirectionBullish, Price: *lastHigh, OpenTime: klines[i].OpenTime}
			if st.Trend == DirectionBullish {
				st.LastBOS = brk
			} else {
				st.LastCHoCH = brk
				st.Trend = DirectionBullish
			}
			lastHigh = nil
		}

		if lastLow != nil && closePrice < *lastLow {
			brk := &StructureBreak{Direction: DirectionBearish, Price: *lastLow, OpenTime: klines[i].OpenTime}
			if st.Trend == DirectionBearish {
				st.LastBOS = brk
			} else {
				st.LastCHoCH = brk
				st.Trend = DirectionBearish
			}
			lastLow = nil
		}
	}

	return st
}
