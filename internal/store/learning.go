package store

import (
	"context"
	"math"
	"sort"
	"time"

	"crypto-signal-service/internal/indicator"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
)

// similarityRadius is the Euclidean distance in (RSI, MFI) space within
// which the current snapshot counts as matching a pattern centroid.
const similarityRadius = 8.0

// minResolvedForSummary is the minimum resolved count before the summary
// carries any signal.
const minResolvedForSummary = 3

// Summarize builds a LearningSummary without a current snapshot; the
// similarity field reflects only whether enough data exists.
func (s *Store) Summarize(ctx context.Context, userID int64, symbol string, window time.Duration) (*signal.LearningSummary, error) {
	return s.SummarizeFor(ctx, userID, symbol, window, nil)
}

// SummarizeFor builds a LearningSummary and, when a current bundle is
// given, grades its similarity to the user's winning and losing patterns.
func (s *Store) SummarizeFor(ctx context.Context, userID int64, symbol string, window time.Duration, current *indicator.Bundle) (*signal.LearningSummary, error) {
	records, err := s.SymbolHistory(ctx, userID, symbol, window)
	if err != nil {
		return nil, err
	}

	summary := BuildLearningSummary(records, current)
	summary.UserID = userID
	summary.Symbol = symbol
	summary.WindowDays = int(window.Hours() / 24)
	return summary, nil
}

// BuildLearningSummary derives the summary from resolved records. Pure so
// the derivation is testable without a database.
func BuildLearningSummary(records []*signal.AnalysisRecord, current *indicator.Bundle) *signal.LearningSummary {
	summary := &signal.LearningSummary{Similarity: signal.SimilarityNoData}

	var winners, losers []*signal.AnalysisRecord
	for _, r := range records {
		if r.Resolution == nil {
			continue
		}
		summary.TotalCount++
		switch r.Resolution.Outcome {
		case signal.OutcomeWin:
			winners = append(winners, r)
			summary.AvgWinPnL += r.Resolution.PnLPercent
		case signal.OutcomeLoss:
			losers = append(losers, r)
			summary.AvgLossPnL += r.Resolution.PnLPercent
		}
	}

	summary.WinCount = len(winners)
	summary.LossCount = len(losers)
	if summary.WinCount > 0 {
		summary.AvgWinPnL /= float64(summary.WinCount)
	}
	if summary.LossCount > 0 {
		summary.AvgLossPnL /= float64(summary.LossCount)
	}
	if decided := summary.WinCount + summary.LossCount; decided > 0 {
		summary.WinRate = float64(summary.WinCount) / float64(decided)
	}

	summary.WinningPattern = buildPattern(winners)
	summary.LosingPattern = buildPattern(losers)

	if summary.WinCount+summary.LossCount < minResolvedForSummary {
		summary.Similarity = signal.SimilarityNoData
		return summary
	}

	summary.Similarity = similarity(summary, current)
	return summary
}

// buildPattern aggregates the frozen 1h RSI/MFI of a cohort: mean and
// [p10, p90], plus the mode of volume-profile positions at entry.
func buildPattern(records []*signal.AnalysisRecord) *signal.Pattern {
	var rsis, mfis []float64
	positions := make(map[indicator.VPPosition]int)

	for _, r := range records {
		snap := r.MarketSnapshot.Snapshot1h()
		if snap == nil || snap.RSI == nil || snap.MFI == nil {
			continue
		}
		rsis = append(rsis, *snap.RSI)
		mfis = append(mfis, *snap.MFI)
		if pos, ok := entryVPPosition(r.MarketSnapshot); ok {
			positions[pos]++
		}
	}
	if len(rsis) == 0 {
		return nil
	}

	pattern := &signal.Pattern{
		RSIMean: mean(rsis),
		RSIP10:  percentile(rsis, 0.10),
		RSIP90:  percentile(rsis, 0.90),
		MFIMean: mean(mfis),
		MFIP10:  percentile(mfis, 0.10),
		MFIP90:  percentile(mfis, 0.90),
	}

	bestCount := 0
	for pos, count := range positions {
		if count > bestCount {
			pattern.DominantVPPosition = string(pos)
			bestCount = count
		}
	}
	return pattern
}

// similarity grades the current snapshot against both centroids.
func similarity(summary *signal.LearningSummary, current *indicator.Bundle) string {
	if current == nil {
		return signal.SimilarityNeutral
	}
	snap := current.Snapshot1h()
	if snap == nil || snap.RSI == nil || snap.MFI == nil {
		return signal.SimilarityNeutral
	}

	currentPos, hasPos := entryVPPosition(current)

	if p := summary.WinningPattern; p != nil {
		if distance(*snap.RSI, *snap.MFI, p.RSIMean, p.MFIMean) <= similarityRadius &&
			hasPos && string(currentPos) == p.DominantVPPosition {
			return signal.SimilarityStrongSignal
		}
	}
	if p := summary.LosingPattern; p != nil {
		if distance(*snap.RSI, *snap.MFI, p.RSIMean, p.MFIMean) <= similarityRadius &&
			hasPos && string(currentPos) == p.DominantVPPosition {
			return signal.SimilarityWarning
		}
	}
	return signal.SimilarityNeutral
}

// entryVPPosition reads the volume-profile position frozen at entry. The
// profile is computed on the coarse timeframes; 4h is preferred, 1d is the
// fallback.
func entryVPPosition(bundle *indicator.Bundle) (indicator.VPPosition, bool) {
	if bundle == nil || bundle.Snapshots == nil {
		return "", false
	}
	for _, tf := range []market.Timeframe{market.Timeframe4h, market.Timeframe1d} {
		if snap := bundle.Snapshots[tf]; snap != nil && snap.VolumeProfile != nil {
			return snap.VolumeProfile.Position, true
		}
	}
	return "", false
}

func distance(rsi, mfi, rsiC, mfiC float64) float64 {
	return math.Hypot(rsi-rsiC, mfi-mfiC)
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
