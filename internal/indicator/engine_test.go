package indicator

import (
	"testing"

	"crypto-signal-service/internal/market"
)

func fptr(v float64) *float64 { return &v }

func TestVote(t *testing.T) {
	tests := []struct {
		name     string
		rsi, mfi *float64
		expected Vote
	}{
		{"both washed out", fptr(15), fptr(18), VoteBuy},
		{"both overheated", fptr(85), fptr(92), VoteSell},
		{"boundary buy", fptr(20), fptr(20), VoteBuy},
		{"boundary sell", fptr(80), fptr(80), VoteSell},
		{"mixed", fptr(15), fptr(50), VoteNeutral},
		{"missing rsi", nil, fptr(10), VoteNeutral},
		{"missing both", nil, nil, VoteNeutral},
	}

	for _, tt := range tests {
		snap := &Snapshot{RSI: tt.rsi, MFI: tt.mfi}
		if got := vote(snap); got != tt.expected {
			t.Errorf("%s: vote = %s, expected %s", tt.name, got, tt.expected)
		}
	}
}

func TestConsensusMajority(t *testing.T) {
	votes := map[market.Timeframe]Vote{
		market.Timeframe5m: VoteBuy,
		market.Timeframe1h: VoteBuy,
		market.Timeframe4h: VoteBuy,
		market.Timeframe1d: VoteNeutral,
	}

	consensusVote, strength := consensus(votes)
	if consensusVote != VoteBuy {
		t.Errorf("expected BUY consensus, got %s", consensusVote)
	}
	if strength != 3 {
		t.Errorf("expected strength 3, got %d", strength)
	}
}

func TestConsensusTieIsNeutral(t *testing.T) {
	votes := map[market.Timeframe]Vote{
		market.Timeframe5m: VoteBuy,
		market.Timeframe1h: VoteBuy,
		market.Timeframe4h: VoteSell,
		market.Timeframe1d: VoteSell,
	}

	consensusVote, _ := consensus(votes)
	if consensusVote != VoteNeutral {
		t.Errorf("expected NEUTRAL on a tie, got %s", consensusVote)
	}
}

func TestConsensusIgnoresFineTimeframes(t *testing.T) {
	// 1m never participates in consensus.
	votes := map[market.Timeframe]Vote{
		market.Timeframe1m: VoteBuy,
		market.Timeframe5m: VoteNeutral,
		market.Timeframe1h: VoteNeutral,
		market.Timeframe4h: VoteNeutral,
		market.Timeframe1d: VoteNeutral,
	}

	consensusVote, strength := consensus(votes)
	if consensusVote != VoteNeutral || strength != 4 {
		t.Errorf("expected NEUTRAL/4, got %s/%d", consensusVote, strength)
	}
}

func TestBundleFlatSeriesHasNoInstitutionalSignals(t *testing.T) {
	series := map[market.Timeframe][]market.Kline{
		market.Timeframe4h: flatKlines(200, 100, 1000),
		market.Timeframe1d: flatKlines(200, 100, 1000),
	}

	bundle := NewEngine(ConservativePeriod).Bundle("TESTUSDT", series)

	for _, tf := range []market.Timeframe{market.Timeframe4h, market.Timeframe1d} {
		snap := bundle.Snapshots[tf]
		if snap == nil {
			t.Fatalf("missing %s snapshot", tf)
		}
		if snap.VolumeProfile == nil {
			t.Fatalf("%s: expected a volume profile on a 200-candle window", tf)
		}
		if snap.VolumeProfile.POC != 100 || snap.VolumeProfile.Position != VPNeutral {
			t.Errorf("%s: expected POC 100 NEUTRAL, got %f %s", tf, snap.VolumeProfile.POC, snap.VolumeProfile.Position)
		}
		if len(snap.FVGs) != 0 {
			t.Errorf("%s: expected no FVGs on a flat series", tf)
		}
		if len(snap.OrderBlocks) != 0 {
			t.Errorf("%s: expected no order blocks on a flat series", tf)
		}
	}
}

func TestInstitutionalIndicatorsNeedFullWindow(t *testing.T) {
	series := map[market.Timeframe][]market.Kline{
		market.Timeframe4h: trendingKlines(150, 100, 0.5),
	}

	bundle := NewEngine(ConservativePeriod).Bundle("TESTUSDT", series)
	snap := bundle.Snapshots[market.Timeframe4h]
	if snap.VolumeProfile != nil || snap.Structure != nil {
		t.Error("institutional indicators must stay nil under 200 candles")
	}
}

func TestInstitutionalIndicatorsOnlyOnCoarseTimeframes(t *testing.T) {
	bundle := NewEngine(ConservativePeriod).Bundle("TESTUSDT", map[market.Timeframe][]market.Kline{
		market.Timeframe1h: trendingKlines(250, 100, 0.5),
	})
	if bundle.Snapshots[market.Timeframe1h].VolumeProfile != nil {
		t.Error("volume profile must not be computed for 1h")
	}
}

func TestStochSkippedOn1m(t *testing.T) {
	snap := NewEngine(ConservativePeriod).Snapshot(market.Timeframe1m, flatKlines(60, 100, 1))
	if snap.StochK != nil || snap.StochD != nil {
		t.Error("stochastic is not part of the 1m snapshot")
	}
}

func TestVolumeStats(t *testing.T) {
	klines := flatKlines(30, 100, 1000)
	klines[len(klines)-1].Volume = 3000

	vs := volumeStats(klines, fptr(60), fptr(50))
	if vs == nil {
		t.Fatal("expected volume stats")
	}
	if vs.VolumeRatio != 3 {
		t.Errorf("expected volume ratio 3, got %f", vs.VolumeRatio)
	}
	if vs.RSIRateOfChange != 10 {
		t.Errorf("expected RSI rate-of-change 10, got %f", vs.RSIRateOfChange)
	}
}
