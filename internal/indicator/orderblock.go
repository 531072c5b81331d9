package indicator

import (
	"crypto-signal-service/internal/market"
)

// displacementFactor is the multiple of ATR(14) a candle's range must reach
// to count as a displacement move.
const displacementFactor = 1.5

const orderBlockATRPeriod = 14

// orderBlocks finds the last opposite-direction candle before each
// displacement move and tracks how often later wicks tested the zone
// without closing through it. Blocks price has closed through are dropped.
func orderBlocks(klines []market.Kline) []OrderBlock {
	if len(klines) < orderBlockATRPeriod+2 {
		return nil
	}

	var blocks []OrderBlock

	for i := orderBlockATRPeriod + 1; i < len(klines); i++ {
		rangeATR, ok := atr(klines, orderBlockATRPeriod, i-1)
		if !ok || rangeATR == 0 {
			continue
		}

		candle := klines[i]
		if candle.High-candle.Low < displacementFactor*rangeATR {
			continue
		}

		bullish := candle.Close > candle.Open
		// Walk back for the last candle opposite to the displacement.
		for j := i - 1; j >= 0 && j >= i-10; j-- {
			prior := klines[j]
			priorBullish := prior.Close > prior.Open
			if prior.Close == prior.Open || priorBullish == bullish {
				continue
			}

			dir := DirectionBullish
			if !bullish {
				dir = DirectionBearish
			}
			block := OrderBlock{Low: prior.Low, High: prior.High, Direction: dir}

			if scoreBlock(&block, klines[i+1:]) {
				blocks = append(blocks, block)
			}
			break
		}
	}

	return blocks
}

// scoreBlock counts wick tests of the zone. Returns false once a candle
// closes through the block, invalidating it.
func scoreBlock(block *OrderBlock, later []market.Kline) bool {
	for _, k := range later {
		if block.Direction == DirectionBullish {
			if k.Close < block.Low {
				return false
			}
			if k.Low <= block.High && k.Close >= block.Low {
				block.TestCount++
			}
		} else {
			if k.Close > block.High {
				return false
			}
			if k.High >= block.Low && k.Close <= block.High {
				block.TestCount++
			}
		}
	}
	return true
}
