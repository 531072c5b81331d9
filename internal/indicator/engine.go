package indicator

import (
	"crypto-signal-service/internal/market"
)

// Engine computes indicator snapshots. It is pure and parallel-safe: the
// same kline input always yields the same snapshot output.
type Engine struct {
	rsiPeriod   int
	mfiPeriod   int
	stochPeriod int
	stochSmooth int
	stochD      int
}

// Default oscillator periods: 6 reacts fast enough for scalp entries, 14 is
// the conservative setting used for swing analysis.
const (
	FastPeriod         = 6
	ConservativePeriod = 14
)

// institutionalMinCandles is the minimum window for volume profile, FVG,
// order-block and structure computation.
const institutionalMinCandles = 200

// NewEngine returns an engine with the given RSI/MFI period.
func NewEngine(oscPeriod int) *Engine {
	if oscPeriod <= 0 {
		oscPeriod = ConservativePeriod
	}
	return &Engine{
		rsiPeriod:   oscPeriod,
		mfiPeriod:   oscPeriod,
		stochPeriod: 14,
		stochSmooth: 3,
		stochD:      3,
	}
}

// EngineForStyle picks the oscillator period for a trading style.
func EngineForStyle(style string) *Engine {
	if style == "scalping" {
		return NewEngine(FastPeriod)
	}
	return NewEngine(ConservativePeriod)
}

// Snapshot computes every indicator the timeframe supports. Series shorter
// than an indicator's period leave that field nil.
func (e *Engine) Snapshot(tf market.Timeframe, klines []market.Kline) *Snapshot {
	if len(klines) == 0 {
		return &Snapshot{Timeframe: tf}
	}

	snap := &Snapshot{
		Timeframe: tf,
		Close:     klines[len(klines)-1].Close,
	}

	snap.RSI, snap.PrevRSI = rsiLastTwo(klines, e.rsiPeriod)
	snap.MFI, snap.PrevMFI = mfiLastTwo(klines, e.mfiPeriod)

	// The stochastic's canonical timeframe set excludes 1m; a 1m snapshot
	// never carries %K/%D.
	if tf != market.Timeframe1m {
		snap.StochK, snap.StochD = stochastic(klines, e.stochPeriod, e.stochSmooth, e.stochD)
	}

	snap.Volume = volumeStats(klines, snap.RSI, snap.PrevRSI)

	// Institutional indicators run on the coarse timeframes only, and only
	// with a full window behind them.
	if (tf == market.Timeframe4h || tf == market.Timeframe1d) && len(klines) >= institutionalMinCandles {
		snap.VolumeProfile = volumeProfile(klines)
		snap.FVGs = fairValueGaps(klines)
		snap.OrderBlocks = orderBlocks(klines)
		snap.Levels = supportResistance(klines)
		snap.Structure = smcStructure(klines)
	}

	return snap
}

// Bundle computes the multi-timeframe bundle and its consensus.
func (e *Engine) Bundle(symbol string, series map[market.Timeframe][]market.Kline) *Bundle {
	b := &Bundle{
		Symbol:    symbol,
		Snapshots: make(map[market.Timeframe]*Snapshot, len(series)),
		Votes:     make(map[market.Timeframe]Vote, len(series)),
	}

	for tf, klines := range series {
		snap := e.Snapshot(tf, klines)
		b.Snapshots[tf] = snap
		b.Votes[tf] = vote(snap)
	}

	b.Consensus, b.ConsensusStrength = consensus(b.Votes)
	return b
}

// vote derives the per-timeframe consensus vote: BUY when both oscillators
// are washed out, SELL when both are overheated.
func vote(snap *Snapshot) Vote {
	if snap == nil || snap.RSI == nil || snap.MFI == nil {
		return VoteNeutral
	}
	switch {
	case *snap.RSI <= 20 && *snap.MFI <= 20:
		return VoteBuy
	case *snap.RSI >= 80 && *snap.MFI >= 80:
		return VoteSell
	default:
		return VoteNeutral
	}
}

// consensusTimeframes are the 4 coarsest timeframes that decide the overall
// consensus.
var consensusTimeframes = []market.Timeframe{
	market.Timeframe5m, market.Timeframe1h, market.Timeframe4h, market.Timeframe1d,
}

// consensus takes the majority vote over the coarse timeframes; ties are
// NEUTRAL. Strength is the winning vote count.
func consensus(votes map[market.Timeframe]Vote) (Vote, int) {
	counts := make(map[Vote]int)
	for _, tf := range consensusTimeframes {
		v, ok := votes[tf]
		if !ok {
			v = VoteNeutral
		}
		counts[v]++
	}

	best, bestCount, tie := VoteNeutral, -1, false
	for _, v := range []Vote{VoteBuy, VoteSell, VoteNeutral} {
		switch {
		case counts[v] > bestCount:
			best, bestCount, tie = v, counts[v], false
		case counts[v] == bestCount:
			tie = true
		}
	}
	if tie {
		return VoteNeutral, counts[VoteNeutral]
	}
	return best, bestCount
}

// volumeStats computes the pump/bot heuristic inputs: current candle volume
// against the 20-candle average, and the oscillator's rate of change.
func volumeStats(klines []market.Kline, rsi, prevRSI *float64) *VolumeStats {
	const window = 20
	if len(klines) < window+1 {
		return nil
	}

	current := klines[len(klines)-1].Volume
	var sum float64
	for i := len(klines) - window - 1; i < len(klines)-1; i++ {
		sum += klines[i].Volume
	}
	avg := sum / window

	vs := &VolumeStats{
		CurrentVolume: current,
		AvgVolume20:   avg,
	}
	if avg > 0 {
		vs.VolumeRatio = current / avg
	}
	if rsi != nil && prevRSI != nil {
		vs.RSIRateOfChange = *rsi - *prevRSI
	}
	return vs
}
