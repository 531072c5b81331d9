package tracker

import (
	"time"

	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
)

// activeRecord is the tracker's working state for one open recommendation.
// It holds the fields needed to scan candles; the authoritative record
// stays in the store and is re-read before any write.
type activeRecord struct {
	id          string
	symbol      string
	action      signal.Action
	entry       float64
	stopLoss    float64
	takeProfits []float64
	createdAt   time.Time
	expiresAt   time.Time

	maxDrawdownPct float64
	lastClose      float64
}

// newActiveRecord extracts tracking state from an eligible record.
func newActiveRecord(rec *signal.AnalysisRecord) (*activeRecord, bool) {
	if !rec.TrackingEligible() {
		return nil, false
	}
	r := rec.Recommendation
	return &activeRecord{
		id:          rec.ID,
		symbol:      rec.Symbol,
		action:      r.Action,
		entry:       *r.EntryPoint,
		stopLoss:    *r.StopLoss,
		takeProfits: r.TakeProfit,
		createdAt:   rec.CreatedAt,
		expiresAt:   rec.ExpiresAt,
		lastClose:   *r.EntryPoint,
	}, true
}

// evaluate scans one closed candle. It updates the drawdown and last-close
// state and returns a resolution when a target triggered, nil otherwise.
//
// Scan order per candle: stop-loss first, then take-profits; the highest
// TP index reached on the candle wins. When both the stop and a target
// trigger inside one candle the intrabar order is unknown; with
// worstCaseTiebreak the stop wins.
func (a *activeRecord) evaluate(k market.Kline, worstCaseTiebreak bool) *signal.Resolution {
	a.lastClose = k.Close
	a.updateDrawdown(k)

	slHit := false
	if a.action == signal.ActionBuy {
		slHit = k.Low <= a.stopLoss
	} else {
		slHit = k.High >= a.stopLoss
	}

	tpIdx := -1
	for i, tp := range a.takeProfits {
		reached := false
		if a.action == signal.ActionBuy {
			reached = k.High >= tp
		} else {
			reached = k.Low <= tp
		}
		if reached {
			tpIdx = i
		}
	}

	switch {
	case slHit && (tpIdx < 0 || worstCaseTiebreak):
		return a.resolution(signal.OutcomeLoss, signal.ExitSL, a.stopLoss, -1, true, k.CloseTime)
	case tpIdx >= 0:
		return a.resolution(signal.OutcomeWin, signal.TPExitReason(tpIdx), a.takeProfits[tpIdx], tpIdx, false, k.CloseTime)
	default:
		return nil
	}
}

// expire resolves a record whose lifetime ran out without hitting a target.
func (a *activeRecord) expire(now time.Time) *signal.Resolution {
	res := a.resolution(signal.OutcomeExpired, signal.ExitTimeExpired, a.lastClose, -1, false, now.UnixMilli())
	return res
}

func (a *activeRecord) resolution(outcome signal.Outcome, reason signal.ExitReason, exitPrice float64, tpIdx int, slHit bool, closeTimeMs int64) *signal.Resolution {
	tpHits := make([]bool, len(a.takeProfits))
	for i := 0; i <= tpIdx && i < len(tpHits); i++ {
		tpHits[i] = true
	}

	resolvedAt := time.UnixMilli(closeTimeMs)

	return &signal.Resolution{
		Outcome:            outcome,
		ExitReason:         reason,
		ExitPrice:          exitPrice,
		PnLPercent:         a.pnlPercent(exitPrice),
		DurationMs:         resolvedAt.Sub(a.createdAt).Milliseconds(),
		MaxDrawdownPercent: a.maxDrawdownPct,
		TPHits:             tpHits,
		SLHit:              slHit,
		ResolvedAt:         resolvedAt,
	}
}

// pnlPercent is signed relative to entry in the direction of the position.
func (a *activeRecord) pnlPercent(exitPrice float64) float64 {
	if a.entry == 0 {
		return 0
	}
	if a.action == signal.ActionBuy {
		return (exitPrice - a.entry) / a.entry * 100
	}
	return (a.entry - exitPrice) / a.entry * 100
}

// updateDrawdown records the worst unrealized excursion against the
// position, as a signed percentage of entry.
func (a *activeRecord) updateDrawdown(k market.Kline) {
	if a.entry == 0 {
		return
	}
	var excursion float64
	if a.action == signal.ActionBuy {
		excursion = (k.Low - a.entry) / a.entry * 100
	} else {
		excursion = (a.entry - k.High) / a.entry * 100
	}
	if excursion < a.maxDrawdownPct {
		a.maxDrawdownPct = excursion
	}
}
