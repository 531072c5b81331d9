package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-signal-service/config"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
	"crypto-signal-service/internal/store"
)

// RecordStore is the store surface the tracker needs. The tracker holds
// records by id only and re-reads before writing a resolution.
type RecordStore interface {
	GetOpen(ctx context.Context) ([]*signal.AnalysisRecord, error)
	GetByID(ctx context.Context, id string) (*signal.AnalysisRecord, error)
	UpdateResolution(ctx context.Context, id string, res *signal.Resolution) error
}

// CandleStream supplies closed 1-minute candles for a symbol. Gap recovery
// after reconnects happens below this interface, so subscribers never see
// a missing candle.
type CandleStream interface {
	Subscribe(symbol string) (<-chan market.Kline, func(), error)
}

// GatewayStream adapts the market gateway to the tracker's stream surface.
type GatewayStream struct {
	Gateway *market.Gateway
}

func (s GatewayStream) Subscribe(symbol string) (<-chan market.Kline, func(), error) {
	sub, err := s.Gateway.SubscribeClosedCandles(symbol, market.Timeframe1m)
	if err != nil {
		return nil, nil, err
	}
	return sub.C, sub.Cancel, nil
}

// symbolCandle pairs a closed candle with its symbol on the merged event
// channel.
type symbolCandle struct {
	symbol string
	kline  market.Kline
}

// Tracker resolves every PENDING record deterministically from closed
// 1-minute candles. It never produces user-visible output; only the store
// is mutated.
type Tracker struct {
	stream            CandleStream
	records           RecordStore
	log               zerolog.Logger
	worstCaseTiebreak bool
	sweepInterval     time.Duration

	enqueueCh chan *signal.AnalysisRecord
	events    chan symbolCandle

	// Owned by the run loop; never touched from outside it.
	active map[string]map[string]*activeRecord // symbol -> id -> state
	subs   map[string]func()                   // symbol -> cancel

	wg      sync.WaitGroup
	stopped chan struct{}
}

// New builds a tracker. Start must be called before Enqueue.
func New(stream CandleStream, records RecordStore, cfg config.TrackerConfig, log zerolog.Logger) *Tracker {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	sweep := cfg.ExpirySweepInterval.Duration()
	if sweep <= 0 {
		sweep = 5 * time.Minute
	}

	return &Tracker{
		stream:            stream,
		records:           records,
		log:               log,
		worstCaseTiebreak: cfg.WorstCaseTiebreak,
		sweepInterval:     sweep,
		enqueueCh:         make(chan *signal.AnalysisRecord, queueSize),
		events:            make(chan symbolCandle, 256),
		active:            make(map[string]map[string]*activeRecord),
		subs:              make(map[string]func()),
		stopped:           make(chan struct{}),
	}
}

// Start rehydrates the active set from the store and runs the loop until
// ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) error {
	open, err := t.records.GetOpen(ctx)
	if err != nil {
		return err
	}

	t.wg.Add(1)
	go t.run(ctx, open)
	return nil
}

// Wait blocks until the run loop has exited.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Enqueue hands a newly persisted record to the tracker. The channel is
// bounded; when it is full the caller blocks — back-pressure is preferred
// over dropping a record.
func (t *Tracker) Enqueue(ctx context.Context, rec *signal.AnalysisRecord) error {
	select {
	case t.enqueueCh <- rec:
		return nil
	case <-t.stopped:
		return errors.New("tracker stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run(ctx context.Context, seed []*signal.AnalysisRecord) {
	defer t.wg.Done()
	defer close(t.stopped)
	defer t.cancelAllSubs()

	for _, rec := range seed {
		t.track(rec)
	}
	t.log.Info().Int("rehydrated", len(seed)).Msg("price tracker started")

	sweep := time.NewTicker(t.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-t.enqueueCh:
			t.track(rec)
		case ev := <-t.events:
			t.onCandle(ctx, ev.symbol, ev.kline)
		case <-sweep.C:
			t.sweepExpired(ctx, time.Now())
		}
	}
}

// track adds a record to the active set, subscribing its symbol if no other
// record already holds a stream for it.
func (t *Tracker) track(rec *signal.AnalysisRecord) {
	state, ok := newActiveRecord(rec)
	if !ok {
		return
	}

	bySymbol := t.active[state.symbol]
	if bySymbol == nil {
		bySymbol = make(map[string]*activeRecord)
		t.active[state.symbol] = bySymbol
	}
	if _, exists := bySymbol[state.id]; exists {
		return
	}
	bySymbol[state.id] = state

	if _, subscribed := t.subs[state.symbol]; !subscribed {
		t.subscribe(state.symbol)
	}
}

func (t *Tracker) subscribe(symbol string) {
	ch, cancel, err := t.stream.Subscribe(symbol)
	if err != nil {
		t.log.Error().Err(err).Str("symbol", symbol).Msg("candle subscription failed")
		return
	}

	done := make(chan struct{})
	var once sync.Once
	t.subs[symbol] = func() {
		cancel()
		once.Do(func() { close(done) })
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case k, ok := <-ch:
				if !ok {
					return
				}
				select {
				case t.events <- symbolCandle{symbol: symbol, kline: k}:
				case <-done:
					return
				case <-t.stopped:
					return
				}
			case <-done:
				return
			case <-t.stopped:
				return
			}
		}
	}()
}

func (t *Tracker) unsubscribe(symbol string) {
	if cancel, ok := t.subs[symbol]; ok {
		cancel()
		delete(t.subs, symbol)
	}
}

func (t *Tracker) cancelAllSubs() {
	for symbol, cancel := range t.subs {
		cancel()
		delete(t.subs, symbol)
	}
}

// onCandle scans every active record of the symbol against a closed candle.
func (t *Tracker) onCandle(ctx context.Context, symbol string, k market.Kline) {
	bySymbol := t.active[symbol]
	for id, state := range bySymbol {
		res := state.evaluate(k, t.worstCaseTiebreak)
		if res == nil {
			continue
		}
		t.resolve(ctx, symbol, id, res)
	}
}

// sweepExpired resolves records whose lifetime ran out.
func (t *Tracker) sweepExpired(ctx context.Context, now time.Time) {
	for symbol, bySymbol := range t.active {
		for id, state := range bySymbol {
			if now.Before(state.expiresAt) {
				continue
			}
			t.resolve(ctx, symbol, id, state.expire(now))
		}
	}
}

// resolve re-reads the record, writes the resolution once, and drops the
// record from the active set. Transient store failures leave the record
// active so a later candle retries.
func (t *Tracker) resolve(ctx context.Context, symbol, id string, res *signal.Resolution) {
	current, err := t.records.GetByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		t.drop(symbol, id)
		return
	case err != nil:
		t.log.Error().Err(err).Str("id", id).Msg("re-read before resolution failed")
		return
	case current.Resolution != nil:
		t.drop(symbol, id)
		return
	}

	err = t.records.UpdateResolution(ctx, id, res)
	switch {
	case err == nil:
		t.log.Debug().
			Str("id", id).
			Str("outcome", string(res.Outcome)).
			Str("exit_reason", string(res.ExitReason)).
			Float64("pnl_percent", res.PnLPercent).
			Msg("record resolved")
		t.drop(symbol, id)
	case errors.Is(err, store.ErrAlreadyResolved), errors.Is(err, store.ErrNotFound):
		t.drop(symbol, id)
	default:
		t.log.Error().Err(err).Str("id", id).Msg("resolution write failed")
	}
}

// drop removes a record and releases the symbol stream when it was the
// last one.
func (t *Tracker) drop(symbol, id string) {
	bySymbol := t.active[symbol]
	delete(bySymbol, id)
	if len(bySymbol) == 0 {
		delete(t.active, symbol)
		t.unsubscribe(symbol)
	}
}
