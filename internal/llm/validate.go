package llm

import (
	"fmt"

	"crypto-signal-service/internal/asset"
	"crypto-signal-service/internal/signal"
)

// downgradedConfidenceCap is the confidence ceiling after a validation
// downgrade to WAIT.
const downgradedConfidenceCap = 40

// ValidateRecommendation checks the parsed recommendation against the
// schema rules. Failures downgrade the action to WAIT and append a warning;
// they never raise.
func ValidateRecommendation(rec *signal.Recommendation, expectedType asset.Type, style signal.TradingStyle) {
	if rec.TradingStyle == "" {
		rec.TradingStyle = style
	}

	if !rec.Action.Valid() {
		downgrade(rec, fmt.Sprintf("invalid action %q", rec.Action))
		return
	}

	if rec.Confidence < 0 || rec.Confidence > 100 {
		rec.Confidence = clampInt(rec.Confidence, 0, 100)
		downgrade(rec, "confidence out of range")
	}

	if rec.AssetType != string(expectedType) {
		downgrade(rec, fmt.Sprintf("asset type mismatch: got %q, expected %q", rec.AssetType, expectedType))
		rec.AssetType = string(expectedType)
	}

	if rec.Action == signal.ActionBuy || rec.Action == signal.ActionSell {
		validateLevels(rec)
	}
}

// validateLevels checks entry/stop/take-profit geometry for actionable
// recommendations.
func validateLevels(rec *signal.Recommendation) {
	if rec.EntryPoint == nil || rec.StopLoss == nil || len(rec.TakeProfit) == 0 {
		downgrade(rec, "missing entry, stop-loss or take-profit")
		return
	}
	if len(rec.TakeProfit) > 5 {
		downgrade(rec, "more than 5 take-profit levels")
		return
	}

	entry, sl := *rec.EntryPoint, *rec.StopLoss

	if rec.Action == signal.ActionBuy {
		if sl >= entry {
			downgrade(rec, "stop-loss not below entry for BUY")
			return
		}
		prev := entry
		for _, tp := range rec.TakeProfit {
			if tp <= prev {
				downgrade(rec, "take-profit levels not strictly ascending above entry")
				return
			}
			prev = tp
		}
		return
	}

	// SELL: stop above entry, targets strictly descending below it.
	if sl <= entry {
		downgrade(rec, "stop-loss not above entry for SELL")
		return
	}
	prev := entry
	for _, tp := range rec.TakeProfit {
		if tp >= prev {
			downgrade(rec, "take-profit levels not strictly descending below entry")
			return
		}
		prev = tp
	}
}

func downgrade(rec *signal.Recommendation, reason string) {
	rec.Action = signal.ActionWait
	if rec.Confidence > downgradedConfidenceCap {
		rec.Confidence = downgradedConfidenceCap
	}
	rec.Warnings = append(rec.Warnings, reason)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
