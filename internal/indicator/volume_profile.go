package indicator

import (
	"crypto-signal-service/internal/market"
)

// volumeProfileBins is the number of equal price bins per window.
const volumeProfileBins = 24

// valueAreaShare is the fraction of total volume the value area contains.
const valueAreaShare = 0.70

// volumeProfile buckets the window into equal price bins, finds the point
// of control, and bounds the smallest contiguous range around it holding
// 70% of total volume.
func volumeProfile(klines []market.Kline) *VolumeProfile {
	if len(klines) == 0 {
		return nil
	}

	lo, hi := klines[0].Low, klines[0].High
	var totalVolume float64
	for _, k := range klines {
		if k.Low < lo {
			lo = k.Low
		}
		if k.High > hi {
			hi = k.High
		}
		totalVolume += k.Volume
	}

	currentClose := klines[len(klines)-1].Close

	if hi == lo || totalVolume == 0 {
		// Degenerate window: every candle at one price. The profile
		// collapses to that price and position is NEUTRAL.
		return &VolumeProfile{POC: lo, VAH: lo, VAL: lo, Position: VPNeutral}
	}

	binSize := (hi - lo) / volumeProfileBins
	bins := make([]float64, volumeProfileBins)
	for _, k := range klines {
		idx := int((hlcc4(k) - lo) / binSize)
		if idx < 0 {
			idx = 0
		}
		if idx >= volumeProfileBins {
			idx = volumeProfileBins - 1
		}
		bins[idx] += k.Volume
	}

	pocIdx := 0
	for i, v := range bins {
		if v > bins[pocIdx] {
			pocIdx = i
		}
	}

	// Grow the value area outwards from the POC, taking the larger
	// neighbour each step, until it holds the target share.
	loIdx, hiIdx := pocIdx, pocIdx
	area := bins[pocIdx]
	target := totalVolume * valueAreaShare
	for area < target && (loIdx > 0 || hiIdx < volumeProfileBins-1) {
		var below, above float64 = -1, -1
		if loIdx > 0 {
			below = bins[loIdx-1]
		}
		if hiIdx < volumeProfileBins-1 {
			above = bins[hiIdx+1]
		}
		if above > below {
			hiIdx++
			area += above
		} else {
			loIdx--
			area += below
		}
	}

	binMid := func(i int) float64 { return lo + (float64(i)+0.5)*binSize }

	vp := &VolumeProfile{
		POC: binMid(pocIdx),
		VAL: lo + float64(loIdx)*binSize,
		VAH: lo + float64(hiIdx+1)*binSize,
	}

	switch {
	case currentClose < vp.VAL:
		vp.Position = VPDiscount
	case currentClose > vp.VAH:
		vp.Position = VPPremium
	default:
		vp.Position = VPNeutral
	}
	return vp
}
