package llm

import (
	"fmt"
	"strings"

	"crypto-signal-service/internal/asset"
	"crypto-signal-service/internal/indicator"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
)

// SystemPromptAnalysis frames the LLM's role for every analysis request.
const SystemPromptAnalysis = `You are an expert cryptocurrency trading analyst.
You analyze multi-timeframe technical and institutional indicators and produce
a single structured trading recommendation. You respond with strict JSON only,
no prose outside the JSON object.`

// PromptInput carries everything the assembler folds into the prompt.
type PromptInput struct {
	Symbol       string
	TradingStyle signal.TradingStyle
	AssetType    asset.Type
	Bands        asset.RiskBands

	Bundle   *indicator.Bundle
	Learning *signal.LearningSummary
	Ticker   *market.Ticker24h

	PumpHeuristics bool

	WeekPriceChangePercent  float64
	WeekVolumeChangePercent float64
	RecentCandles           []market.Kline
}

// promptTimeframeOrder fixes the iteration order so the same input always
// produces byte-identical prompt text; the LLM's temperature is the sole
// source of variation.
var promptTimeframeOrder = []market.Timeframe{
	market.Timeframe1m, market.Timeframe5m, market.Timeframe15m,
	market.Timeframe1h, market.Timeframe4h, market.Timeframe1d,
}

// BuildAnalysisPrompt assembles the full analysis prompt.
func BuildAnalysisPrompt(in PromptInput) string {
	var b strings.Builder

	writeAssetBlock(&b, in)
	fmt.Fprintf(&b, "TRADING STYLE: %s\n\n", in.TradingStyle)
	writeLearningBlock(&b, in.Learning)
	writeIndicatorBlock(&b, in.Bundle)
	if in.PumpHeuristics {
		writePumpBlock(&b, in.Bundle)
	}
	writeTickerBlock(&b, in.Ticker)
	writeHistoricalBlock(&b, in)
	writeMacroBlock(&b, in.AssetType)
	writeRiskBlock(&b, in)
	writeSchemaBlock(&b)

	return b.String()
}

func writeAssetBlock(b *strings.Builder, in PromptInput) {
	fmt.Fprintf(b, "=== ASSET CLASSIFICATION ===\n")
	fmt.Fprintf(b, "Symbol: %s\n", in.Symbol)
	fmt.Fprintf(b, "Asset type: %s\n", in.AssetType)
	fmt.Fprintf(b, "Recommended position size: %s-%s%% of portfolio\n",
		trimFloat(in.Bands.MaxPositionPercentLow), trimFloat(in.Bands.MaxPositionPercentHigh))
	fmt.Fprintf(b, "Recommended stop width: %s-%s%%\n",
		trimFloat(in.Bands.StopLossPercentLow), trimFloat(in.Bands.StopLossPercentHigh))
	fmt.Fprintf(b, "Notes: %s\n\n", in.Bands.Notes)
}

func writeLearningBlock(b *strings.Builder, ls *signal.LearningSummary) {
	if ls == nil || ls.WinCount+ls.LossCount < 3 {
		return
	}

	fmt.Fprintf(b, "=== YOUR TRADING HISTORY (this symbol) ===\n")
	fmt.Fprintf(b, "Resolved: %d (wins %d, losses %d, win rate %.0f%%)\n",
		ls.TotalCount, ls.WinCount, ls.LossCount, ls.WinRate*100)
	fmt.Fprintf(b, "Avg win PnL: %.2f%% | Avg loss PnL: %.2f%%\n", ls.AvgWinPnL, ls.AvgLossPnL)
	if p := ls.WinningPattern; p != nil {
		fmt.Fprintf(b, "Winning pattern: RSI %.1f [%.1f-%.1f], MFI %.1f [%.1f-%.1f], VP %s\n",
			p.RSIMean, p.RSIP10, p.RSIP90, p.MFIMean, p.MFIP10, p.MFIP90, p.DominantVPPosition)
	}
	if p := ls.LosingPattern; p != nil {
		fmt.Fprintf(b, "Losing pattern: RSI %.1f [%.1f-%.1f], MFI %.1f [%.1f-%.1f], VP %s\n",
			p.RSIMean, p.RSIP10, p.RSIP90, p.MFIMean, p.MFIP10, p.MFIP90, p.DominantVPPosition)
	}
	fmt.Fprintf(b, "Similarity assessment: %s\n\n", ls.Similarity)
}

func writeIndicatorBlock(b *strings.Builder, bundle *indicator.Bundle) {
	fmt.Fprintf(b, "=== MULTI-TIMEFRAME INDICATORS ===\n")
	if bundle == nil {
		fmt.Fprintf(b, "No data\n\n")
		return
	}

	for _, tf := range promptTimeframeOrder {
		snap, ok := bundle.Snapshots[tf]
		if !ok || snap == nil {
			continue
		}
		fmt.Fprintf(b, "[%s] close=%s", tf, trimFloat(snap.Close))
		writeOsc(b, " RSI", snap.RSI, snap.PrevRSI)
		writeOsc(b, " MFI", snap.MFI, snap.PrevMFI)
		if snap.StochK != nil {
			fmt.Fprintf(b, " Stoch %%K=%.1f", *snap.StochK)
		}
		if snap.StochD != nil {
			fmt.Fprintf(b, " %%D=%.1f", *snap.StochD)
		}
		fmt.Fprintf(b, " vote=%s\n", bundle.Votes[tf])

		if vp := snap.VolumeProfile; vp != nil {
			fmt.Fprintf(b, "  VP: POC=%s VAH=%s VAL=%s position=%s\n",
				trimFloat(vp.POC), trimFloat(vp.VAH), trimFloat(vp.VAL), vp.Position)
		}
		for i, z := range snap.FVGs {
			if i >= 3 {
				break
			}
			fmt.Fprintf(b, "  FVG(%s): %s-%s fill-prob=%.2f\n",
				z.Direction, trimFloat(z.Low), trimFloat(z.High), z.FillProbability)
		}
		for i, ob := range snap.OrderBlocks {
			if i >= 3 {
				break
			}
			fmt.Fprintf(b, "  OB(%s): %s-%s tests=%d\n",
				ob.Direction, trimFloat(ob.Low), trimFloat(ob.High), ob.TestCount)
		}
		for i, lvl := range snap.Levels {
			if i >= 5 {
				break
			}
			fmt.Fprintf(b, "  %s: %s (touches=%d)\n", lvl.Kind, trimFloat(lvl.Price), lvl.Touches)
		}
		if st := snap.Structure; st != nil {
			fmt.Fprintf(b, "  Structure: trend=%s", st.Trend)
			if st.LastBOS != nil {
				fmt.Fprintf(b, " BOS(%s)@%s", st.LastBOS.Direction, trimFloat(st.LastBOS.Price))
			}
			if st.LastCHoCH != nil {
				fmt.Fprintf(b, " CHoCH(%s)@%s", st.LastCHoCH.Direction, trimFloat(st.LastCHoCH.Price))
			}
			fmt.Fprintf(b, "\n")
		}
	}
	fmt.Fprintf(b, "Consensus: %s (strength %d/4)\n\n", bundle.Consensus, bundle.ConsensusStrength)
}

func writeOsc(b *strings.Builder, name string, cur, prev *float64) {
	if cur == nil {
		fmt.Fprintf(b, "%s=n/a", name)
		return
	}
	fmt.Fprintf(b, "%s=%.1f", name, *cur)
	if prev != nil {
		fmt.Fprintf(b, "(prev %.1f)", *prev)
	}
}

func writePumpBlock(b *strings.Builder, bundle *indicator.Bundle) {
	fmt.Fprintf(b, "=== PUMP/BOT HEURISTICS ===\n")
	if bundle == nil {
		fmt.Fprintf(b, "No data\n\n")
		return
	}
	for _, tf := range promptTimeframeOrder {
		snap, ok := bundle.Snapshots[tf]
		if !ok || snap == nil || snap.Volume == nil {
			continue
		}
		fmt.Fprintf(b, "[%s] volume ratio vs 20-candle avg: %.2f, RSI rate-of-change: %.2f\n",
			tf, snap.Volume.VolumeRatio, snap.Volume.RSIRateOfChange)
	}
	fmt.Fprintf(b, "\n")
}

func writeTickerBlock(b *strings.Builder, t *market.Ticker24h) {
	fmt.Fprintf(b, "=== 24H MARKET ===\n")
	if t == nil {
		fmt.Fprintf(b, "No data\n\n")
		return
	}
	fmt.Fprintf(b, "Last: %s | High: %s | Low: %s | Change: %.2f%% | Quote volume: %.0f\n\n",
		trimFloat(t.LastPrice), trimFloat(t.HighPrice), trimFloat(t.LowPrice),
		t.PriceChangePercent, t.QuoteVolume)
}

func writeHistoricalBlock(b *strings.Builder, in PromptInput) {
	fmt.Fprintf(b, "=== HISTORICAL COMPARISON ===\n")
	fmt.Fprintf(b, "Week-over-week price change: %.2f%%\n", in.WeekPriceChangePercent)
	fmt.Fprintf(b, "Week-over-week volume change: %.2f%%\n", in.WeekVolumeChangePercent)
	if len(in.RecentCandles) > 0 {
		fmt.Fprintf(b, "Previous candle bodies: ")
		for i, k := range in.RecentCandles {
			if i > 0 {
				fmt.Fprintf(b, ", ")
			}
			bodyPct := 0.0
			if k.Open != 0 {
				bodyPct = (k.Close - k.Open) / k.Open * 100
			}
			fmt.Fprintf(b, "%+.2f%%", bodyPct)
		}
		fmt.Fprintf(b, "\n")
	}
	fmt.Fprintf(b, "\n")
}

// writeMacroBlock emits the template the LLM fills: dominance/institutional
// slots for BTC, correlation/sector slots for everything else.
func writeMacroBlock(b *strings.Builder, t asset.Type) {
	fmt.Fprintf(b, "=== MACRO CONTEXT (fill these fields) ===\n")
	if t == asset.TypeBTC {
		fmt.Fprintf(b, "btc_dominance: <your assessment>\n")
		fmt.Fprintf(b, "institutional_flow: <your assessment>\n")
		fmt.Fprintf(b, "market_regime: <your assessment>\n\n")
		return
	}
	fmt.Fprintf(b, "btc_correlation: <your assessment>\n")
	fmt.Fprintf(b, "eth_correlation: <your assessment>\n")
	fmt.Fprintf(b, "sector: <your assessment>\n")
	fmt.Fprintf(b, "sector_trend: <your assessment>\n\n")
}

func writeRiskBlock(b *strings.Builder, in PromptInput) {
	fmt.Fprintf(b, "=== DYNAMIC RISK LIMITS ===\n")
	fmt.Fprintf(b, "Position size must stay within %s-%s%% and stop-loss within %s-%s%% for a %s asset.\n\n",
		trimFloat(in.Bands.MaxPositionPercentLow), trimFloat(in.Bands.MaxPositionPercentHigh),
		trimFloat(in.Bands.StopLossPercentLow), trimFloat(in.Bands.StopLossPercentHigh),
		in.AssetType)
}

func writeSchemaBlock(b *strings.Builder) {
	fmt.Fprintf(b, `=== OUTPUT FORMAT ===
Respond with ONE strict JSON object and nothing else. Required keys:
action (BUY|SELL|HOLD|WAIT), confidence (0-100), trading_style, entry_point,
stop_loss, take_profit (array of 1-5 prices, strictly moving away from entry),
expected_holding_period, risk_level (LOW|MEDIUM|HIGH), asset_type,
reasoning_vietnamese, key_points, conflicting_signals, warnings,
market_sentiment, technical_score (0-100), fundamental_score (0-100),
sector_analysis, correlation_analysis, fundamental_analysis,
position_sizing_recommendation, macro_context, historical_analysis.
`)
}

// trimFloat renders a price without trailing zero noise but with stable
// output for identical input.
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
