package indicator

import (
	"testing"

	"crypto-signal-service/internal/market"
)

func TestVolumeProfileFlatSeries(t *testing.T) {
	// 200 identical candles: the profile collapses to the single traded
	// price and the position is neutral.
	klines := flatKlines(200, 100, 1000)

	vp := volumeProfile(klines)
	if vp == nil {
		t.Fatal("expected a volume profile")
	}
	if vp.POC != 100 {
		t.Errorf("expected POC 100, got %f", vp.POC)
	}
	if vp.VAH != 100 || vp.VAL != 100 {
		t.Errorf("expected VAH=VAL=100, got VAH=%f VAL=%f", vp.VAH, vp.VAL)
	}
	if vp.Position != VPNeutral {
		t.Errorf("expected NEUTRAL position, got %s", vp.Position)
	}
}

func TestVolumeProfilePositionDiscount(t *testing.T) {
	// Heavy volume high in the range, last close near the bottom.
	klines := make([]market.Kline, 200)
	for i := range klines {
		price := 110.0
		volume := 10_000.0
		if i >= 190 {
			price = 100.0
			volume = 10.0
		}
		klines[i] = market.Kline{Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: volume}
	}

	vp := volumeProfile(klines)
	if vp == nil {
		t.Fatal("expected a volume profile")
	}
	if vp.Position != VPDiscount {
		t.Errorf("expected DISCOUNT with close below the value area, got %s", vp.Position)
	}
	if vp.POC < 105 {
		t.Errorf("expected POC in the heavy upper range, got %f", vp.POC)
	}
}

func TestVolumeProfilePositionPremium(t *testing.T) {
	klines := make([]market.Kline, 200)
	for i := range klines {
		price := 100.0
		volume := 10_000.0
		if i >= 190 {
			price = 110.0
			volume = 10.0
		}
		klines[i] = market.Kline{Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: volume}
	}

	vp := volumeProfile(klines)
	if vp.Position != VPPremium {
		t.Errorf("expected PREMIUM with close above the value area, got %s", vp.Position)
	}
}

func TestVolumeProfileEmptySeries(t *testing.T) {
	if vp := volumeProfile(nil); vp != nil {
		t.Error("expected nil profile for empty series")
	}
}
