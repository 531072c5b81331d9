package signal

import (
	"time"

	"crypto-signal-service/internal/indicator"
)

// TradingStyle selects the analysis horizon.
type TradingStyle string

const (
	StyleScalping TradingStyle = "scalping"
	StyleSwing    TradingStyle = "swing"
)

// Status is the lifecycle state of an analysis record.
type Status string

const (
	StatusPendingTracking Status = "PENDING_TRACKING"
	StatusResolved        Status = "RESOLVED"
	StatusExpired         Status = "EXPIRED"
)

// Action is the LLM's recommended action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionWait Action = "WAIT"
)

// Valid reports whether the action is a known enum value.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionWait:
		return true
	}
	return false
}

// RiskLevel grades the recommendation's risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Outcome is the tracked result of a recommendation.
type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
	OutcomeExpired Outcome = "EXPIRED"
)

// ExitReason records which target closed the recommendation.
type ExitReason string

const (
	ExitTP1         ExitReason = "TP1_HIT"
	ExitTP2         ExitReason = "TP2_HIT"
	ExitTP3         ExitReason = "TP3_HIT"
	ExitTP4         ExitReason = "TP4_HIT"
	ExitTP5         ExitReason = "TP5_HIT"
	ExitSL          ExitReason = "SL_HIT"
	ExitTimeExpired ExitReason = "TIME_EXPIRED"
)

// TPExitReason returns the exit reason for a take-profit index (0-based).
func TPExitReason(index int) ExitReason {
	switch index {
	case 0:
		return ExitTP1
	case 1:
		return ExitTP2
	case 2:
		return ExitTP3
	case 3:
		return ExitTP4
	default:
		return ExitTP5
	}
}

// RetentionPeriod is how long every analysis record is kept.
const RetentionPeriod = 7 * 24 * time.Hour

// Recommendation is the structured LLM output. Every field is populated:
// absent optional sub-objects are filled with typed defaults by the parser,
// so downstream code never sees a missing key.
type Recommendation struct {
	Action                Action       `json:"action"`
	Confidence            int          `json:"confidence"`
	TradingStyle          TradingStyle `json:"trading_style"`
	EntryPoint            *float64     `json:"entry_point"`
	StopLoss              *float64     `json:"stop_loss"`
	TakeProfit            []float64    `json:"take_profit"`
	ExpectedHoldingPeriod string       `json:"expected_holding_period"`
	RiskLevel             RiskLevel    `json:"risk_level"`
	AssetType             string       `json:"asset_type"`
	ReasoningVietnamese   string       `json:"reasoning_vietnamese"`
	KeyPoints             []string     `json:"key_points"`
	ConflictingSignals    []string     `json:"conflicting_signals"`
	Warnings              []string     `json:"warnings"`
	MarketSentiment       string       `json:"market_sentiment"`
	TechnicalScore        int          `json:"technical_score"`
	FundamentalScore      int          `json:"fundamental_score"`

	SectorAnalysis      SectorAnalysis      `json:"sector_analysis"`
	CorrelationAnalysis CorrelationAnalysis `json:"correlation_analysis"`
	FundamentalAnalysis FundamentalAnalysis `json:"fundamental_analysis"`
	PositionSizing      PositionSizing      `json:"position_sizing_recommendation"`
	MacroContext        MacroContext        `json:"macro_context"`
	HistoricalAnalysis  HistoricalAnalysis  `json:"historical_analysis"`
}

// SectorAnalysis describes the asset's sector context.
type SectorAnalysis struct {
	Sector          string `json:"sector"`
	SectorTrend     string `json:"sector_trend"`
	RelativeStrength string `json:"relative_strength"`
}

// CorrelationAnalysis describes co-movement with the majors.
type CorrelationAnalysis struct {
	BTCCorrelation string `json:"btc_correlation"`
	ETHCorrelation string `json:"eth_correlation"`
	Notes          string `json:"notes"`
}

// FundamentalAnalysis summarizes non-technical drivers.
type FundamentalAnalysis struct {
	ProjectHealth string `json:"project_health"`
	TokenomicsRisk string `json:"tokenomics_risk"`
	Summary       string `json:"summary"`
}

// PositionSizing is the LLM's sizing guidance, cross-checked against the
// classifier's bands.
type PositionSizing struct {
	MaxPositionPercent float64 `json:"max_position_percent"`
	StopLossPercent    float64 `json:"stop_loss_percent"`
	Rationale          string  `json:"rationale"`
}

// MacroContext holds the macro template slots: BTC dominance, institutional
// flow and market regime. The correlation and sector slots live in
// CorrelationAnalysis and SectorAnalysis.
type MacroContext struct {
	BTCDominance      string `json:"btc_dominance"`
	InstitutionalFlow string `json:"institutional_flow"`
	MarketRegime      string `json:"market_regime"`
}

// HistoricalAnalysis echoes how past outcomes informed this call.
type HistoricalAnalysis struct {
	PriorWinRate string `json:"prior_win_rate"`
	PatternMatch string `json:"pattern_match"`
	Adjustment   string `json:"adjustment"`
}

// Resolution is the tracked outcome, written once by the price tracker and
// immutable afterwards.
type Resolution struct {
	Outcome            Outcome    `json:"outcome"`
	ExitReason         ExitReason `json:"exit_reason"`
	ExitPrice          float64    `json:"exit_price"`
	PnLPercent         float64    `json:"pnl_percent"`
	DurationMs         int64      `json:"duration_ms"`
	MaxDrawdownPercent float64    `json:"max_drawdown_percent"`
	TPHits             []bool     `json:"tp_hits"`
	SLHit              bool       `json:"sl_hit"`
	ResolvedAt         time.Time  `json:"resolved_at"`
}

// AnalysisRecord is the central entity: one user-requested analysis with its
// frozen market snapshot, the LLM recommendation, and (once tracked) the
// resolution. Records are exclusively owned by the store; everything else
// holds transient copies.
type AnalysisRecord struct {
	ID           string       `json:"id"`
	UserID       int64        `json:"user_id"`
	Symbol       string       `json:"symbol"`
	Timeframe    string       `json:"timeframe"`
	TradingStyle TradingStyle `json:"trading_style"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Status       Status       `json:"status"`

	MarketSnapshot *indicator.Bundle `json:"market_snapshot"`
	Recommendation Recommendation    `json:"recommendation"`
	Resolution     *Resolution       `json:"resolution,omitempty"`
}

// TrackingEligible reports whether the record enters PENDING_TRACKING: a
// BUY or SELL with a concrete entry point, a stop-loss and at least one
// take-profit.
func (r *AnalysisRecord) TrackingEligible() bool {
	rec := r.Recommendation
	if rec.Action != ActionBuy && rec.Action != ActionSell {
		return false
	}
	return rec.EntryPoint != nil && rec.StopLoss != nil && len(rec.TakeProfit) > 0
}

// Similarity recommendation strings produced by the learning store.
const (
	SimilarityStrongSignal = "STRONG SIGNAL, raise confidence ceiling to 90"
	SimilarityWarning      = "WARNING, cap confidence at 40 or recommend WAIT"
	SimilarityNeutral      = "NEUTRAL prior"
	SimilarityNoData       = "NO DATA"
)

// Pattern is an aggregate over the frozen 1h RSI/MFI of resolved records.
type Pattern struct {
	RSIMean            float64 `json:"rsi_mean"`
	RSIP10             float64 `json:"rsi_p10"`
	RSIP90             float64 `json:"rsi_p90"`
	MFIMean            float64 `json:"mfi_mean"`
	MFIP10             float64 `json:"mfi_p10"`
	MFIP90             float64 `json:"mfi_p90"`
	DominantVPPosition string  `json:"dominant_vp_position"`
}

// LearningSummary aggregates a user's resolved history for one symbol.
type LearningSummary struct {
	UserID         int64    `json:"user_id"`
	Symbol         string   `json:"symbol"`
	WindowDays     int      `json:"window_days"`
	TotalCount     int      `json:"total_count"`
	WinCount       int      `json:"win_count"`
	LossCount      int      `json:"loss_count"`
	WinRate        float64  `json:"win_rate"`
	AvgWinPnL      float64  `json:"avg_win_pnl"`
	AvgLossPnL     float64  `json:"avg_loss_pnl"`
	WinningPattern *Pattern `json:"winning_pattern,omitempty"`
	LosingPattern  *Pattern `json:"losing_pattern,omitempty"`
	Similarity     string   `json:"similarity"`
}
