package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"crypto-signal-service/internal/signal"
)

// WarningParsePartial is attached when a recommendation was rebuilt from
// field regexes instead of a full JSON parse.
const WarningParsePartial = "LLM_PARSE_PARTIAL"

// codeFenceRe strips markdown code fences some providers wrap JSON in.
var codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeFenceRe.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

// ParseRecommendation turns a free-form LLM response into a Recommendation.
// Stages are tried in order: strict JSON parse, brace-balanced substring,
// then per-field regex recovery. Every returned recommendation has its
// optional sub-objects populated with typed defaults.
func ParseRecommendation(response string) (*signal.Recommendation, error) {
	text := stripMarkdownCodeBlock(response)

	if rec, ok := parseStrict(text); ok {
		applyDefaults(rec)
		return rec, nil
	}

	if sub, ok := braceBalancedSubstring(text); ok {
		if rec, ok := parseStrict(sub); ok {
			applyDefaults(rec)
			return rec, nil
		}
	}

	if rec, ok := parseFieldRegex(text); ok {
		applyDefaults(rec)
		return rec, nil
	}

	return nil, &Error{Kind: KindUnrecoverable, Cause: fmt.Errorf("no parse stage recovered a recommendation")}
}

func parseStrict(text string) (*signal.Recommendation, bool) {
	var rec signal.Recommendation
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return nil, false
	}
	if rec.Action == "" {
		return nil, false
	}
	return &rec, true
}

// braceBalancedSubstring walks the text from the first '{', advancing a
// depth counter on every brace, and emits the substring ending where depth
// returns to zero.
func braceBalancedSubstring(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Field regexes for the last-resort recovery stage.
var (
	actionRe     = regexp.MustCompile(`"action"\s*:\s*"(BUY|SELL|HOLD|WAIT)"`)
	confidenceRe = regexp.MustCompile(`"confidence"\s*:\s*([0-9]+)`)
	entryRe      = regexp.MustCompile(`"entry_point"\s*:\s*([0-9]*\.?[0-9]+)`)
	stopLossRe   = regexp.MustCompile(`"stop_loss"\s*:\s*([0-9]*\.?[0-9]+)`)
	takeProfitRe = regexp.MustCompile(`"take_profit"\s*:\s*\[([^\]]*)\]`)
	reasoningRe  = regexp.MustCompile(`"reasoning_vietnamese"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// parseFieldRegex extracts whatever individual fields survive in the text
// and constructs a minimal recommendation around them.
func parseFieldRegex(text string) (*signal.Recommendation, bool) {
	actionMatch := actionRe.FindStringSubmatch(text)
	if actionMatch == nil {
		return nil, false
	}

	rec := &signal.Recommendation{
		Action:   signal.Action(actionMatch[1]),
		Warnings: []string{WarningParsePartial},
	}

	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			rec.Confidence = v
		}
	}
	if m := entryRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			rec.EntryPoint = &v
		}
	}
	if m := stopLossRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			rec.StopLoss = &v
		}
	}
	if m := takeProfitRe.FindStringSubmatch(text); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			if v, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
				rec.TakeProfit = append(rec.TakeProfit, v)
			}
		}
	}
	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		rec.ReasoningVietnamese = m[1]
	}

	return rec, true
}

// applyDefaults fills every absent optional sub-object and collection with
// typed defaults so downstream code never sees a missing key.
func applyDefaults(rec *signal.Recommendation) {
	if rec.ExpectedHoldingPeriod == "" {
		rec.ExpectedHoldingPeriod = "Unknown"
	}
	if rec.RiskLevel == "" {
		rec.RiskLevel = signal.RiskMedium
	}
	if rec.MarketSentiment == "" {
		rec.MarketSentiment = "NEUTRAL"
	}
	if rec.KeyPoints == nil {
		rec.KeyPoints = []string{}
	}
	if rec.ConflictingSignals == nil {
		rec.ConflictingSignals = []string{}
	}
	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}
	if rec.TakeProfit == nil {
		rec.TakeProfit = []float64{}
	}

	if rec.SectorAnalysis == (signal.SectorAnalysis{}) {
		rec.SectorAnalysis = signal.SectorAnalysis{
			Sector: "Unknown", SectorTrend: "Unknown", RelativeStrength: "Unknown",
		}
	}
	if rec.CorrelationAnalysis == (signal.CorrelationAnalysis{}) {
		rec.CorrelationAnalysis = signal.CorrelationAnalysis{
			BTCCorrelation: "Unknown", ETHCorrelation: "Unknown", Notes: "",
		}
	}
	if rec.FundamentalAnalysis == (signal.FundamentalAnalysis{}) {
		rec.FundamentalAnalysis = signal.FundamentalAnalysis{
			ProjectHealth: "Unknown", TokenomicsRisk: "Unknown", Summary: "",
		}
	}
	if rec.PositionSizing == (signal.PositionSizing{}) {
		rec.PositionSizing = signal.PositionSizing{Rationale: "Unknown"}
	}
	if rec.MacroContext == (signal.MacroContext{}) {
		rec.MacroContext = signal.MacroContext{
			BTCDominance: "Unknown", InstitutionalFlow: "Unknown", MarketRegime: "Unknown",
		}
	}
	if rec.HistoricalAnalysis == (signal.HistoricalAnalysis{}) {
		rec.HistoricalAnalysis = signal.HistoricalAnalysis{
			PriorWinRate: "Unknown", PatternMatch: "Unknown", Adjustment: "None",
		}
	}
}
