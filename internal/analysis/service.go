package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crypto-signal-service/internal/asset"
	"crypto-signal-service/internal/indicator"
	"crypto-signal-service/internal/llm"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
)

// Step names the pipeline stage an analysis failed in.
type Step string

const (
	StepMarketData Step = "MARKET_DATA"
	StepIndicators Step = "INDICATORS"
	StepLearning   Step = "LEARNING"
	StepLLM        Step = "LLM"
	StepPersist    Step = "PERSIST"
)

// Error is the orchestrator's failure type. No partial record is persisted
// when an Error is returned.
type Error struct {
	Step  Step
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analysis failed at %s: %v", e.Step, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// MarketData is the gateway surface the orchestrator uses.
type MarketData interface {
	GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Kline, error)
	Get24hTicker(ctx context.Context, symbol string) (*market.Ticker24h, error)
}

// HistoryStore is the store surface the orchestrator uses.
type HistoryStore interface {
	Save(ctx context.Context, record *signal.AnalysisRecord) (string, error)
	History(ctx context.Context, userID int64, symbol string, window time.Duration) ([]*signal.AnalysisRecord, error)
	SummarizeFor(ctx context.Context, userID int64, symbol string, window time.Duration, current *indicator.Bundle) (*signal.LearningSummary, error)
}

// Recommender is the LLM surface the orchestrator uses.
type Recommender interface {
	Analyze(ctx context.Context, userID int64, prompt string, expectedType asset.Type, style signal.TradingStyle) (*signal.Recommendation, error)
}

// Enqueuer hands persisted records to the price tracker.
type Enqueuer interface {
	Enqueue(ctx context.Context, rec *signal.AnalysisRecord) error
}

// Kline window sizes per analysis. The coarse windows are large enough for
// the institutional indicators.
const (
	fineKlineLimit   = 120
	coarseKlineLimit = 240
)

// learningWindow is the history window folded into each prompt.
const learningWindow = 7 * 24 * time.Hour

// Service is the analysis orchestrator behind the command API consumed by
// collaborators: Analyze, History, Summary.
type Service struct {
	data    MarketData
	store   HistoryStore
	llm     Recommender
	tracker Enqueuer
	log     zerolog.Logger
}

// New wires the orchestrator. Components are constructed once at the
// composition root and passed in explicitly.
func New(data MarketData, store HistoryStore, recommender Recommender, tracker Enqueuer, log zerolog.Logger) *Service {
	return &Service{
		data:    data,
		store:   store,
		llm:     recommender,
		tracker: tracker,
		log:     log,
	}
}

// Analyze runs the full pipeline for one user request and returns the
// persisted record.
func (s *Service) Analyze(ctx context.Context, userID int64, symbol string, timeframe market.Timeframe, style signal.TradingStyle) (*signal.AnalysisRecord, error) {
	traceID := uuid.NewString()
	log := s.log.With().
		Str("trace_id", traceID).
		Int64("user_id", userID).
		Str("symbol", symbol).
		Logger()

	// Step 1: ticker first — it fails fast on unknown symbols before any
	// kline fetching spends rate budget.
	ticker, err := s.data.Get24hTicker(ctx, symbol)
	if err != nil {
		return nil, &Error{Step: StepMarketData, Cause: err}
	}

	series, err := s.fetchSeries(ctx, symbol, timeframe)
	if err != nil {
		return nil, &Error{Step: StepMarketData, Cause: err}
	}

	// Step 2: indicators. Short series leave null fields; they never fail
	// the analysis.
	engine := indicator.EngineForStyle(string(style))
	bundle := engine.Bundle(symbol, series)

	// Step 3: classification and risk bands.
	assetType := asset.Classify(symbol, ticker.QuoteVolume)
	bands := asset.Bands(assetType)

	// Step 4: the user's own history on this symbol.
	learning, err := s.store.SummarizeFor(ctx, userID, symbol, learningWindow, bundle)
	if err != nil {
		return nil, &Error{Step: StepLearning, Cause: err}
	}

	// Step 5: prompt assembly.
	input := llm.PromptInput{
		Symbol:         symbol,
		TradingStyle:   style,
		AssetType:      assetType,
		Bands:          bands,
		Bundle:         bundle,
		Learning:       learning,
		Ticker:         ticker,
		PumpHeuristics: true,
	}
	fillHistoricalComparison(&input, series, timeframe)
	prompt := llm.BuildAnalysisPrompt(input)

	// Step 6: the LLM call. A cancelled context aborts here and nothing is
	// persisted.
	rec, err := s.llm.Analyze(ctx, userID, prompt, assetType, style)
	if err != nil {
		return nil, &Error{Step: StepLLM, Cause: err}
	}

	appendDataWarnings(rec, bundle, timeframe)
	appendBandWarnings(rec, bands)

	// Step 7: compose the record.
	createdAt := time.Now().UTC()
	record := &signal.AnalysisRecord{
		ID:             recordID(symbol, createdAt, userID),
		UserID:         userID,
		Symbol:         symbol,
		Timeframe:      string(timeframe),
		TradingStyle:   style,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(signal.RetentionPeriod),
		MarketSnapshot: bundle,
		Recommendation: *rec,
	}
	if record.TrackingEligible() {
		record.Status = signal.StatusPendingTracking
	} else {
		record.Status = signal.StatusResolved
	}

	// Step 8: persist, then hand to the tracker. The enqueue is
	// best-effort: a failure leaves the record PENDING and the tracker's
	// next start-up rehydrates it.
	if _, err := s.store.Save(ctx, record); err != nil {
		return nil, &Error{Step: StepPersist, Cause: err}
	}
	if record.Status == signal.StatusPendingTracking {
		if err := s.tracker.Enqueue(ctx, record); err != nil {
			log.Warn().Err(err).Str("id", record.ID).Msg("tracker enqueue failed; rehydration will pick the record up")
		}
	}

	log.Info().
		Str("id", record.ID).
		Str("action", string(record.Recommendation.Action)).
		Int("confidence", record.Recommendation.Confidence).
		Str("status", string(record.Status)).
		Msg("analysis complete")
	return record, nil
}

// History lists a user's records. Symbol is optional.
func (s *Service) History(ctx context.Context, userID int64, symbol string, window time.Duration) ([]*signal.AnalysisRecord, error) {
	return s.store.History(ctx, userID, symbol, window)
}

// Summary derives the learning summary for (user, symbol, window).
func (s *Service) Summary(ctx context.Context, userID int64, symbol string, window time.Duration) (*signal.LearningSummary, error) {
	return s.store.SummarizeFor(ctx, userID, symbol, window, nil)
}

// fetchSeries pulls the timeframe set for one analysis. The requested
// timeframe is included even when outside the standard set.
func (s *Service) fetchSeries(ctx context.Context, symbol string, requested market.Timeframe) (map[market.Timeframe][]market.Kline, error) {
	timeframes := make([]market.Timeframe, 0, len(market.AnalysisTimeframes)+1)
	timeframes = append(timeframes, market.AnalysisTimeframes...)
	seen := map[market.Timeframe]bool{}
	for _, tf := range timeframes {
		seen[tf] = true
	}
	if !seen[requested] {
		timeframes = append(timeframes, requested)
	}

	series := make(map[market.Timeframe][]market.Kline, len(timeframes))
	for _, tf := range timeframes {
		limit := fineKlineLimit
		if tf == market.Timeframe4h || tf == market.Timeframe1d {
			limit = coarseKlineLimit
		}
		klines, err := s.data.GetKlines(ctx, symbol, tf, limit)
		if err != nil {
			return nil, err
		}
		series[tf] = klines
	}
	return series, nil
}

// fillHistoricalComparison computes week-over-week change and recent candle
// bodies from the fetched series.
func fillHistoricalComparison(input *llm.PromptInput, series map[market.Timeframe][]market.Kline, requested market.Timeframe) {
	daily := series[market.Timeframe1d]
	if len(daily) >= 8 {
		last := daily[len(daily)-1]
		weekAgo := daily[len(daily)-8]
		if weekAgo.Close != 0 {
			input.WeekPriceChangePercent = (last.Close - weekAgo.Close) / weekAgo.Close * 100
		}

		var thisWeek, lastWeek float64
		for _, k := range daily[len(daily)-7:] {
			thisWeek += k.Volume
		}
		if len(daily) >= 15 {
			for _, k := range daily[len(daily)-14 : len(daily)-7] {
				lastWeek += k.Volume
			}
		}
		if lastWeek != 0 {
			input.WeekVolumeChangePercent = (thisWeek - lastWeek) / lastWeek * 100
		}
	}

	requestedSeries := series[requested]
	if n := len(requestedSeries); n > 0 {
		start := n - 3
		if start < 0 {
			start = 0
		}
		input.RecentCandles = requestedSeries[start:]
	}
}

// appendDataWarnings flags indicator gaps so the user sees a visibly
// degraded record instead of silently thinner analysis.
func appendDataWarnings(rec *signal.Recommendation, bundle *indicator.Bundle, requested market.Timeframe) {
	snap := bundle.Snapshots[requested]
	if snap == nil {
		return
	}
	if snap.RSI == nil {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("insufficient history for RSI on %s", requested))
	}
	if snap.MFI == nil {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("insufficient history for MFI on %s", requested))
	}
}

// appendBandWarnings cross-checks the LLM's sizing against the classifier
// bands. Out-of-band values get a warning; they are never overwritten.
func appendBandWarnings(rec *signal.Recommendation, bands asset.RiskBands) {
	sizing := rec.PositionSizing
	if sizing.MaxPositionPercent > 0 &&
		(sizing.MaxPositionPercent < bands.MaxPositionPercentLow || sizing.MaxPositionPercent > bands.MaxPositionPercentHigh) {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf(
			"position size %.2f%% outside recommended band %.2f-%.2f%%",
			sizing.MaxPositionPercent, bands.MaxPositionPercentLow, bands.MaxPositionPercentHigh))
	}
	if sizing.StopLossPercent > 0 &&
		(sizing.StopLossPercent < bands.StopLossPercentLow || sizing.StopLossPercent > bands.StopLossPercentHigh) {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf(
			"stop width %.2f%% outside recommended band %.2f-%.2f%%",
			sizing.StopLossPercent, bands.StopLossPercentLow, bands.StopLossPercentHigh))
	}
}

// recordID builds the analysis id: symbol, creation millis, and a short
// user suffix.
func recordID(symbol string, createdAt time.Time, userID int64) string {
	suffix := userID % 1000
	if suffix < 0 {
		suffix = -suffix
	}
	return fmt.Sprintf("%s_%d_%03d", symbol, createdAt.UnixMilli(), suffix)
}

// IsUnknownSymbol reports whether an analysis failure was an unknown
// symbol, the one market error collaborators typically translate for users.
func IsUnknownSymbol(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return market.IsKind(ae.Cause, market.KindUnknownSymbol)
}
