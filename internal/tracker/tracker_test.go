package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-signal-service/config"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
	"crypto-signal-service/internal/store"
)

type fakeStream struct {
	mu         sync.Mutex
	channels   map[string]chan market.Kline
	subscribes int
	cancels    int
}

func newFakeStream() *fakeStream {
	return &fakeStream{channels: make(map[string]chan market.Kline)}
}

func (f *fakeStream) Subscribe(symbol string) (<-chan market.Kline, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan market.Kline, 16)
	f.channels[symbol] = ch
	f.subscribes++
	return ch, func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}, nil
}

func (f *fakeStream) push(symbol string, k market.Kline) {
	f.mu.Lock()
	ch := f.channels[symbol]
	f.mu.Unlock()
	ch <- k
}

type fakeRecordStore struct {
	mu       sync.Mutex
	records  map[string]*signal.AnalysisRecord
	resolved map[string]*signal.Resolution
}

func newFakeRecordStore(records ...*signal.AnalysisRecord) *fakeRecordStore {
	f := &fakeRecordStore{
		records:  make(map[string]*signal.AnalysisRecord),
		resolved: make(map[string]*signal.Resolution),
	}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeRecordStore) GetOpen(ctx context.Context) ([]*signal.AnalysisRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []*signal.AnalysisRecord
	for _, r := range f.records {
		if r.Status == signal.StatusPendingTracking {
			open = append(open, r)
		}
	}
	return open, nil
}

func (f *fakeRecordStore) GetByID(ctx context.Context, id string) (*signal.AnalysisRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (f *fakeRecordStore) UpdateResolution(ctx context.Context, id string, res *signal.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Resolution != nil {
		return store.ErrAlreadyResolved
	}
	r.Resolution = res
	r.Status = signal.StatusResolved
	f.resolved[id] = res
	return nil
}

func (f *fakeRecordStore) resolution(id string) *signal.Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved[id]
}

func testTrackerConfig() config.TrackerConfig {
	return config.TrackerConfig{
		QueueSize:           16,
		ExpirySweepInterval: 3600,
		WorstCaseTiebreak:   true,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestTrackerResolvesOnCandle(t *testing.T) {
	rec := openBuyRecord(43450, 42950, []float64{44100, 44600, 45200})
	st := newFakeRecordStore(rec)
	stream := newFakeStream()

	tr := New(stream, st, testTrackerConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Rehydration subscribes the symbol.
	waitFor(t, time.Second, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.subscribes == 1
	})

	stream.push("BTCUSDT", candle(43800, 44650, 44500))

	waitFor(t, time.Second, func() bool { return st.resolution(rec.ID) != nil })

	res := st.resolution(rec.ID)
	if res.ExitReason != signal.ExitTP2 {
		t.Errorf("expected TP2_HIT, got %s", res.ExitReason)
	}

	// The last record for the symbol resolved, so the stream is released.
	waitFor(t, time.Second, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.cancels == 1
	})

	cancel()
	tr.Wait()
}

func TestTrackerSharesSymbolSubscription(t *testing.T) {
	a := openBuyRecord(43450, 42950, []float64{44100})
	b := openBuyRecord(43450, 42000, []float64{50000})
	b.ID = "BTCUSDT_other_112"
	st := newFakeRecordStore(a, b)
	stream := newFakeStream()

	tr := New(stream, st, testTrackerConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.subscribes > 0
	})

	stream.mu.Lock()
	subs := stream.subscribes
	stream.mu.Unlock()
	if subs != 1 {
		t.Errorf("two records on one symbol must share a stream, got %d subscriptions", subs)
	}

	// Candle resolves record a only; record b keeps the stream alive.
	stream.push("BTCUSDT", candle(43800, 44200, 44100))
	waitFor(t, time.Second, func() bool { return st.resolution(a.ID) != nil })

	stream.mu.Lock()
	cancels := stream.cancels
	stream.mu.Unlock()
	if cancels != 0 {
		t.Error("stream must stay subscribed while another record needs it")
	}

	cancel()
	tr.Wait()
}

func TestTrackerResolutionIsSingleShot(t *testing.T) {
	rec := openBuyRecord(43450, 42950, []float64{44100})
	st := newFakeRecordStore(rec)

	// Pre-resolve behind the tracker's back; the re-read must notice and
	// leave the stored resolution untouched.
	first := &signal.Resolution{Outcome: signal.OutcomeLoss, ExitReason: signal.ExitSL}
	if err := st.UpdateResolution(context.Background(), rec.ID, first); err != nil {
		t.Fatalf("seed resolution failed: %v", err)
	}

	stream := newFakeStream()
	tr := New(stream, st, testTrackerConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// GetOpen no longer returns the record, so seed the queue directly.
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := tr.Enqueue(ctx, rec); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.subscribes == 1
	})
	stream.push("BTCUSDT", candle(43800, 44200, 44100))

	// The tracker drops the record after the re-read; the stored resolution
	// is still the original.
	waitFor(t, time.Second, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.cancels == 1
	})

	if res := st.resolution(rec.ID); res.ExitReason != signal.ExitSL {
		t.Errorf("stored resolution changed: %s", res.ExitReason)
	}

	cancel()
	tr.Wait()
}

func TestTrackerExpirySweep(t *testing.T) {
	rec := openBuyRecord(100, 90, []float64{200})
	rec.CreatedAt = time.Now().Add(-8 * 24 * time.Hour)
	rec.ExpiresAt = rec.CreatedAt.Add(signal.RetentionPeriod)

	st := newFakeRecordStore(rec)
	stream := newFakeStream()

	cfg := testTrackerConfig()
	cfg.ExpirySweepInterval = 1 // second
	tr := New(stream, st, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return st.resolution(rec.ID) != nil })

	res := st.resolution(rec.ID)
	if res.Outcome != signal.OutcomeExpired || res.ExitReason != signal.ExitTimeExpired {
		t.Errorf("expected EXPIRED/TIME_EXPIRED, got %s/%s", res.Outcome, res.ExitReason)
	}

	cancel()
	tr.Wait()
}
