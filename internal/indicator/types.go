package indicator

import (
	"crypto-signal-service/internal/market"
)

// VPPosition places the current price relative to the value area.
type VPPosition string

const (
	VPDiscount VPPosition = "DISCOUNT"
	VPNeutral  VPPosition = "NEUTRAL"
	VPPremium  VPPosition = "PREMIUM"
)

// Direction tags institutional zones and structure breaks.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// VolumeProfile holds the volume-profile levels for a window.
type VolumeProfile struct {
	POC      float64    `json:"poc"`
	VAH      float64    `json:"vah"`
	VAL      float64    `json:"val"`
	Position VPPosition `json:"position"`
}

// FVGZone is an unfilled fair value gap.
type FVGZone struct {
	Low             float64   `json:"low"`
	High            float64   `json:"high"`
	Direction       Direction `json:"direction"`
	FillProbability float64   `json:"fill_probability"`
}

// OrderBlock is the last opposite candle before a displacement move.
type OrderBlock struct {
	Low       float64   `json:"low"`
	High      float64   `json:"high"`
	Direction Direction `json:"direction"`
	TestCount int       `json:"test_count"`
}

// Level is a clustered pivot-based support or resistance price.
type Level struct {
	Price   float64 `json:"price"`
	Kind    string  `json:"kind"` // "support" or "resistance"
	Touches int     `json:"touches"`
}

// StructureBreak is one BOS or CHoCH event.
type StructureBreak struct {
	Direction Direction `json:"direction"`
	Price     float64   `json:"price"`
	OpenTime  int64     `json:"open_time"`
}

// Structure summarizes the running smart-money structure state.
type Structure struct {
	LastBOS   *StructureBreak `json:"last_bos,omitempty"`
	LastCHoCH *StructureBreak `json:"last_choch,omitempty"`
	Trend     Direction       `json:"trend"`
}

// VolumeStats carries the pump/bot heuristic inputs.
type VolumeStats struct {
	CurrentVolume   float64 `json:"current_volume"`
	AvgVolume20     float64 `json:"avg_volume_20"`
	VolumeRatio     float64 `json:"volume_ratio"`
	RSIRateOfChange float64 `json:"rsi_rate_of_change"`
}

// Snapshot holds every computed value for one (symbol, timeframe). Pointer
// fields are nil when the series was too short for the indicator; synthetic
// values are never published.
type Snapshot struct {
	Timeframe market.Timeframe `json:"timeframe"`
	Close     float64          `json:"close"`

	RSI     *float64 `json:"rsi,omitempty"`
	PrevRSI *float64 `json:"prev_rsi,omitempty"`
	MFI     *float64 `json:"mfi,omitempty"`
	PrevMFI *float64 `json:"prev_mfi,omitempty"`
	StochK  *float64 `json:"stoch_k,omitempty"`
	StochD  *float64 `json:"stoch_d,omitempty"`

	VolumeProfile *VolumeProfile `json:"volume_profile,omitempty"`
	FVGs          []FVGZone      `json:"fvgs,omitempty"`
	OrderBlocks   []OrderBlock   `json:"order_blocks,omitempty"`
	Levels        []Level        `json:"levels,omitempty"`
	Structure     *Structure     `json:"structure,omitempty"`

	Volume *VolumeStats `json:"volume,omitempty"`
}

// Vote is a per-timeframe consensus vote.
type Vote string

const (
	VoteBuy     Vote = "BUY"
	VoteSell    Vote = "SELL"
	VoteNeutral Vote = "NEUTRAL"
)

// Bundle is the multi-timeframe snapshot set for one symbol, frozen into
// the analysis record at creation time.
type Bundle struct {
	Symbol            string                                `json:"symbol"`
	Snapshots         map[market.Timeframe]*Snapshot        `json:"snapshots"`
	Votes             map[market.Timeframe]Vote             `json:"votes"`
	Consensus         Vote                                  `json:"consensus"`
	ConsensusStrength int                                   `json:"consensus_strength"`
}

// Snapshot1h returns the one-hour snapshot, the reference timeframe for
// learning-pattern aggregation. Nil when absent.
func (b *Bundle) Snapshot1h() *Snapshot {
	if b == nil || b.Snapshots == nil {
		return nil
	}
	return b.Snapshots[market.Timeframe1h]
}
