package indicator

import (
	"crypto-signal-service/internal/market"
)

// Price sources fixed by convention: HLCC/4 feeds RSI and MFI, OHLC/4
// feeds the stochastic.

func hlcc4(k market.Kline) float64 {
	return (k.High + k.Low + 2*k.Close) / 4
}

func ohlc4(k market.Kline) float64 {
	return (k.Open + k.High + k.Low + k.Close) / 4
}

func hlcc4Series(klines []market.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = hlcc4(k)
	}
	return out
}

func ohlc4Series(klines []market.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = ohlc4(k)
	}
	return out
}

// rsiSeries computes RSI with Wilder (RMA) smoothing over src. The result
// starts at src index `period`: element i is the RSI at src[i+period], so it
// holds len(src)-period values. Returns nil when the series is too short.
func rsiSeries(src []float64, period int) []float64 {
	if period <= 0 || len(src) < period+1 {
		return nil
	}

	gains := make([]float64, len(src))
	losses := make([]float64, len(src))
	for i := 1; i < len(src); i++ {
		change := src[i] - src[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	// Seed with the simple average of the first window, then apply Wilder
	// smoothing with factor 1/period.
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, len(src))
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(src); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out[period:]
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-100/(1+rs), 0, 100)
}

// rsiLastTwo returns the current and previous-candle RSI over klines.
func rsiLastTwo(klines []market.Kline, period int) (cur, prev *float64) {
	series := rsiSeries(hlcc4Series(klines), period)
	if len(series) == 0 {
		return nil, nil
	}
	c := series[len(series)-1]
	cur = &c
	if len(series) >= 2 {
		p := series[len(series)-2]
		prev = &p
	}
	return cur, prev
}

// mfiAt computes the Money Flow Index over the window ending at index end
// (inclusive). Money flow is the HLCC/4 source times volume.
func mfiAt(klines []market.Kline, period, end int) (float64, bool) {
	if period <= 0 || end-period < 0 || end >= len(klines) {
		return 0, false
	}

	var posFlow, negFlow float64
	for i := end - period + 1; i <= end; i++ {
		price := hlcc4(klines[i])
		prevPrice := hlcc4(klines[i-1])
		flow := price * klines[i].Volume
		switch {
		case price > prevPrice:
			posFlow += flow
		case price < prevPrice:
			negFlow += flow
		}
	}

	if negFlow == 0 {
		if posFlow == 0 {
			return 50, true
		}
		return 100, true
	}
	ratio := posFlow / negFlow
	return clamp(100-100/(1+ratio), 0, 100), true
}

// mfiLastTwo returns the current and previous-candle MFI.
func mfiLastTwo(klines []market.Kline, period int) (cur, prev *float64) {
	if len(klines) < period+1 {
		return nil, nil
	}
	if v, ok := mfiAt(klines, period, len(klines)-1); ok {
		cur = &v
	}
	if v, ok := mfiAt(klines, period, len(klines)-2); ok {
		prev = &v
	}
	return cur, prev
}

// stochastic computes smoothed %K and %D over the OHLC/4 source:
// raw %K = 100·(src − min(src, k))/(max(src, k) − min(src, k)),
// %K = SMA(raw, smooth), %D = SMA(%K, dPeriod).
func stochastic(klines []market.Kline, kPeriod, smooth, dPeriod int) (k, d *float64) {
	src := ohlc4Series(klines)
	need := kPeriod + smooth + dPeriod - 2
	if len(src) < need {
		return nil, nil
	}

	raw := make([]float64, 0, len(src)-kPeriod+1)
	for i := kPeriod - 1; i < len(src); i++ {
		lo, hi := src[i-kPeriod+1], src[i-kPeriod+1]
		for j := i - kPeriod + 2; j <= i; j++ {
			if src[j] < lo {
				lo = src[j]
			}
			if src[j] > hi {
				hi = src[j]
			}
		}
		if hi == lo {
			raw = append(raw, 50)
			continue
		}
		raw = append(raw, clamp(100*(src[i]-lo)/(hi-lo), 0, 100))
	}

	smoothed := sma(raw, smooth)
	if len(smoothed) == 0 {
		return nil, nil
	}
	kv := smoothed[len(smoothed)-1]
	k = &kv

	dSeries := sma(smoothed, dPeriod)
	if len(dSeries) > 0 {
		dv := dSeries[len(dSeries)-1]
		d = &dv
	}
	return k, d
}

// sma returns the simple moving average series of src with the given
// period; result length is len(src)-period+1.
func sma(src []float64, period int) []float64 {
	if period <= 0 || len(src) < period {
		return nil
	}
	out := make([]float64, 0, len(src)-period+1)
	var sum float64
	for i, v := range src {
		sum += v
		if i >= period {
			sum -= src[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// atr returns the average true range over the last `period` candles ending
// at index end (simple mean of true ranges).
func atr(klines []market.Kline, period, end int) (float64, bool) {
	if period <= 0 || end-period+1 < 1 || end >= len(klines) {
		return 0, false
	}
	var sum float64
	for i := end - period + 1; i <= end; i++ {
		tr := klines[i].High - klines[i].Low
		if hc := abs(klines[i].High - klines[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := abs(klines[i].Low - klines[i-1].Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
