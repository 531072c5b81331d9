package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-signal-service/internal/asset"
	"crypto-signal-service/internal/indicator"
	"crypto-signal-service/internal/llm"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
)

type fakeMarket struct {
	tickerErr error
	klineErr  error
}

func (f *fakeMarket) GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Kline, error) {
	if f.klineErr != nil {
		return nil, f.klineErr
	}
	klines := make([]market.Kline, limit)
	price := 100.0
	for i := range klines {
		klines[i] = market.Kline{
			OpenTime:  int64(i) * 60_000,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    1000,
			CloseTime: int64(i+1)*60_000 - 1,
		}
		price += 0.5
	}
	return klines, nil
}

func (f *fakeMarket) Get24hTicker(ctx context.Context, symbol string) (*market.Ticker24h, error) {
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	return &market.Ticker24h{
		Symbol: symbol, LastPrice: 43450, HighPrice: 44000, LowPrice: 42800,
		PriceChangePercent: 1.5, QuoteVolume: 20_000_000_000,
	}, nil
}

type fakeStore struct {
	saved   []*signal.AnalysisRecord
	saveErr error
}

func (f *fakeStore) Save(ctx context.Context, record *signal.AnalysisRecord) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, record)
	return record.ID, nil
}

func (f *fakeStore) History(ctx context.Context, userID int64, symbol string, window time.Duration) ([]*signal.AnalysisRecord, error) {
	return f.saved, nil
}

func (f *fakeStore) SummarizeFor(ctx context.Context, userID int64, symbol string, window time.Duration, current *indicator.Bundle) (*signal.LearningSummary, error) {
	return &signal.LearningSummary{Similarity: signal.SimilarityNoData}, nil
}

type fakeLLM struct {
	rec *signal.Recommendation
	err error
}

func (f *fakeLLM) Analyze(ctx context.Context, userID int64, prompt string, expectedType asset.Type, style signal.TradingStyle) (*signal.Recommendation, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.rec
	return &out, nil
}

type fakeTracker struct {
	enqueued []*signal.AnalysisRecord
	err      error
}

func (f *fakeTracker) Enqueue(ctx context.Context, rec *signal.AnalysisRecord) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, rec)
	return nil
}

func fptr(v float64) *float64 { return &v }

func buyRecommendation() *signal.Recommendation {
	return &signal.Recommendation{
		Action:     signal.ActionBuy,
		Confidence: 78,
		EntryPoint: fptr(43450),
		StopLoss:   fptr(42950),
		TakeProfit: []float64{44100, 44600, 45200},
		AssetType:  string(asset.TypeBTC),
		RiskLevel:  signal.RiskMedium,
		PositionSizing: signal.PositionSizing{
			MaxPositionPercent: 4,
			StopLossPercent:    5,
		},
	}
}

func newTestService(m *fakeMarket, st *fakeStore, l *fakeLLM, tr *fakeTracker) *Service {
	return New(m, st, l, tr, zerolog.Nop())
}

func TestAnalyzeHappyPath(t *testing.T) {
	st := &fakeStore{}
	tr := &fakeTracker{}
	svc := newTestService(&fakeMarket{}, st, &fakeLLM{rec: buyRecommendation()}, tr)

	record, err := svc.Analyze(context.Background(), 111, "BTCUSDT", market.Timeframe1h, signal.StyleSwing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.Status != signal.StatusPendingTracking {
		t.Errorf("expected PENDING_TRACKING, got %s", record.Status)
	}
	if !strings.HasPrefix(record.ID, "BTCUSDT_") || !strings.HasSuffix(record.ID, "_111") {
		t.Errorf("unexpected id shape: %s", record.ID)
	}
	if record.ExpiresAt.Sub(record.CreatedAt) != 7*24*time.Hour {
		t.Error("expiry must be exactly 7 days after creation")
	}
	if record.MarketSnapshot == nil || record.MarketSnapshot.Snapshots[market.Timeframe1h] == nil {
		t.Error("market snapshot must be frozen into the record")
	}
	if len(st.saved) != 1 {
		t.Fatalf("expected 1 saved record, got %d", len(st.saved))
	}
	if len(tr.enqueued) != 1 {
		t.Fatalf("expected the record enqueued to the tracker, got %d", len(tr.enqueued))
	}
}

func TestAnalyzeLLMFailurePersistsNothing(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(&fakeMarket{}, st,
		&fakeLLM{err: &llm.Error{Kind: llm.KindTimeout, Cause: context.DeadlineExceeded}},
		&fakeTracker{})

	_, err := svc.Analyze(context.Background(), 111, "BTCUSDT", market.Timeframe1h, signal.StyleSwing)
	if err == nil {
		t.Fatal("expected an error")
	}

	var ae *Error
	if !errors.As(err, &ae) || ae.Step != StepLLM {
		t.Errorf("expected StepLLM error, got %v", err)
	}
	if len(st.saved) != 0 {
		t.Error("no partial record may be persisted on LLM failure")
	}
}

func TestAnalyzeWaitRecommendationNotTracked(t *testing.T) {
	rec := buyRecommendation()
	rec.Action = signal.ActionWait
	rec.EntryPoint = nil
	rec.StopLoss = nil
	rec.TakeProfit = nil

	st := &fakeStore{}
	tr := &fakeTracker{}
	svc := newTestService(&fakeMarket{}, st, &fakeLLM{rec: rec}, tr)

	record, err := svc.Analyze(context.Background(), 111, "BTCUSDT", market.Timeframe1h, signal.StyleSwing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.Status != signal.StatusResolved {
		t.Errorf("WAIT records are created RESOLVED, got %s", record.Status)
	}
	if len(tr.enqueued) != 0 {
		t.Error("ineligible records must not reach the tracker")
	}
	if len(st.saved) != 1 {
		t.Error("the record must still be persisted")
	}
}

func TestAnalyzeUnknownSymbolFailsFast(t *testing.T) {
	m := &fakeMarket{tickerErr: &market.DataError{Kind: market.KindUnknownSymbol, Symbol: "NOPEUSDT"}}
	svc := newTestService(m, &fakeStore{}, &fakeLLM{rec: buyRecommendation()}, &fakeTracker{})

	_, err := svc.Analyze(context.Background(), 111, "NOPEUSDT", market.Timeframe1h, signal.StyleSwing)
	if !IsUnknownSymbol(err) {
		t.Errorf("expected unknown-symbol analysis error, got %v", err)
	}
}

func TestAnalyzeEnqueueFailureStillReturnsRecord(t *testing.T) {
	st := &fakeStore{}
	svc := newTestService(&fakeMarket{}, st, &fakeLLM{rec: buyRecommendation()},
		&fakeTracker{err: errors.New("queue full")})

	record, err := svc.Analyze(context.Background(), 111, "BTCUSDT", market.Timeframe1h, signal.StyleSwing)
	if err != nil {
		t.Fatalf("enqueue failure must stay best-effort, got %v", err)
	}
	if record.Status != signal.StatusPendingTracking {
		t.Error("record stays PENDING for rehydration")
	}
	if len(st.saved) != 1 {
		t.Error("record must be persisted before the enqueue attempt")
	}
}

func TestAnalyzeBandCrossCheckWarns(t *testing.T) {
	rec := buyRecommendation()
	rec.PositionSizing.MaxPositionPercent = 25 // far above the BTC band

	svc := newTestService(&fakeMarket{}, &fakeStore{}, &fakeLLM{rec: rec}, &fakeTracker{})
	record, err := svc.Analyze(context.Background(), 111, "BTCUSDT", market.Timeframe1h, signal.StyleSwing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, w := range record.Recommendation.Warnings {
		if strings.Contains(w, "outside recommended band") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a band warning, got %v", record.Recommendation.Warnings)
	}
	if record.Recommendation.PositionSizing.MaxPositionPercent != 25 {
		t.Error("the cross-check must never overwrite the LLM value")
	}
}
