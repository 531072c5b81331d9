package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Subscription delivers exactly one event per closed candle, in ascending
// open-time order, for a single (symbol, timeframe). Cancel releases the
// upstream stream once no other subscriber needs the symbol.
type Subscription struct {
	C <-chan Kline

	once   sync.Once
	cancel func()
}

// Cancel detaches the subscription. After Cancel returns no further candles
// are delivered on C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type subscriber struct {
	ch   chan Kline
	done chan struct{}
}

// streamHub multiplexes closed-candle subscriptions onto one websocket
// connection per timeframe. Dropped connections reconnect with exponential
// backoff and re-subscribe to the union of live symbols; candles missed
// during the outage are recovered over REST so subscribers never see a gap.
type streamHub struct {
	wsBase string
	rest   *restClient
	log    zerolog.Logger

	mu     sync.Mutex
	conns  map[Timeframe]*tfConn
	closed bool
}

func newStreamHub(wsBase string, rest *restClient, log zerolog.Logger) *streamHub {
	return &streamHub{
		wsBase: strings.TrimRight(wsBase, "/"),
		rest:   rest,
		log:    log,
		conns:  make(map[Timeframe]*tfConn),
	}
}

func (h *streamHub) subscribe(symbol string, tf Timeframe) (*Subscription, error) {
	symbol = strings.ToUpper(symbol)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("stream hub is closed")
	}
	tc, ok := h.conns[tf]
	if !ok {
		tc = newTFConn(h, tf)
		h.conns[tf] = tc
		go tc.run()
	}
	h.mu.Unlock()

	sub := &subscriber{
		ch:   make(chan Kline, 128),
		done: make(chan struct{}),
	}
	tc.addSubscriber(symbol, sub)

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			close(sub.done)
			tc.removeSubscriber(symbol, sub)
		},
	}, nil
}

func (h *streamHub) close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*tfConn, 0, len(h.conns))
	for _, tc := range h.conns {
		conns = append(conns, tc)
	}
	h.conns = make(map[Timeframe]*tfConn)
	h.mu.Unlock()

	for _, tc := range conns {
		tc.stop()
	}
}

// tfConn owns the websocket connection for one timeframe.
type tfConn struct {
	hub *streamHub
	tf  Timeframe
	log zerolog.Logger

	mu       sync.Mutex
	subs     map[string][]*subscriber
	lastOpen map[string]int64 // last delivered open-time per symbol
	conn     *websocket.Conn
	nextID   int
	stopped  bool

	done chan struct{}
}

func newTFConn(hub *streamHub, tf Timeframe) *tfConn {
	return &tfConn{
		hub:      hub,
		tf:       tf,
		log:      hub.log.With().Str("timeframe", string(tf)).Logger(),
		subs:     make(map[string][]*subscriber),
		lastOpen: make(map[string]int64),
		done:     make(chan struct{}),
	}
}

func (tc *tfConn) addSubscriber(symbol string, sub *subscriber) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	existing := len(tc.subs[symbol]) > 0
	tc.subs[symbol] = append(tc.subs[symbol], sub)

	if !existing && tc.conn != nil {
		tc.writeCommand("SUBSCRIBE", symbol)
	}
}

func (tc *tfConn) removeSubscriber(symbol string, sub *subscriber) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	subs := tc.subs[symbol]
	for i, s := range subs {
		if s == sub {
			tc.subs[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(tc.subs[symbol]) == 0 {
		delete(tc.subs, symbol)
		delete(tc.lastOpen, symbol)
		if tc.conn != nil {
			tc.writeCommand("UNSUBSCRIBE", symbol)
			if len(tc.subs) == 0 {
				// Last subscriber gone; drop the upstream connection.
				tc.conn.Close()
			}
		}
	}
}

// writeCommand sends a live SUBSCRIBE/UNSUBSCRIBE frame. Caller holds tc.mu.
func (tc *tfConn) writeCommand(method, symbol string) {
	tc.nextID++
	msg := map[string]interface{}{
		"method": method,
		"params": []string{streamName(symbol, tc.tf)},
		"id":     tc.nextID,
	}
	if err := tc.conn.WriteJSON(msg); err != nil {
		tc.log.Warn().Err(err).Str("symbol", symbol).Msgf("%s frame failed", method)
	}
}

func (tc *tfConn) stop() {
	tc.mu.Lock()
	tc.stopped = true
	if tc.conn != nil {
		tc.conn.Close()
	}
	tc.mu.Unlock()
	close(tc.done)
}

func (tc *tfConn) liveSymbols() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	symbols := make([]string, 0, len(tc.subs))
	for s := range tc.subs {
		symbols = append(symbols, s)
	}
	return symbols
}

// run is the connection loop: dial, re-subscribe, recover missed candles,
// then read until the connection drops.
func (tc *tfConn) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 16 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-tc.done:
			return
		default:
		}

		symbols := tc.liveSymbols()
		if len(symbols) == 0 {
			// Nothing to stream; wait for a subscriber or shutdown.
			select {
			case <-tc.done:
				return
			case <-time.After(time.Second):
				continue
			}
		}

		conn, err := tc.dial(symbols)
		if err != nil {
			wait := bo.NextBackOff()
			tc.log.Warn().Err(err).Dur("retry_in", wait).Msg("websocket dial failed")
			select {
			case <-tc.done:
				return
			case <-time.After(wait):
				continue
			}
		}
		bo.Reset()

		tc.mu.Lock()
		if tc.stopped {
			tc.mu.Unlock()
			conn.Close()
			return
		}
		tc.conn = conn
		tc.mu.Unlock()

		tc.log.Info().Int("symbols", len(symbols)).Msg("websocket connected")
		tc.backfillGaps(symbols)
		tc.readLoop(conn)

		tc.mu.Lock()
		tc.conn = nil
		tc.mu.Unlock()
		conn.Close()
	}
}

func (tc *tfConn) dial(symbols []string) (*websocket.Conn, error) {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, streamName(s, tc.tf))
	}
	url := fmt.Sprintf("%s/stream?streams=%s", tc.hub.wsBase, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	return conn, err
}

// backfillGaps recovers candles that closed while the connection was down.
func (tc *tfConn) backfillGaps(symbols []string) {
	for _, symbol := range symbols {
		tc.mu.Lock()
		last, ok := tc.lastOpen[symbol]
		tc.mu.Unlock()
		if !ok {
			continue
		}

		from := last + tc.tf.Duration().Milliseconds()
		ctx, cancel := contextWithTimeout(10 * time.Second)
		klines, err := tc.hub.rest.fetchKlinesRange(ctx, symbol, tc.tf, from, time.Now().UnixMilli())
		cancel()
		if err != nil {
			tc.log.Warn().Err(err).Str("symbol", symbol).Msg("gap backfill failed")
			continue
		}

		for _, k := range klines {
			if k.OpenTime <= last {
				continue
			}
			tc.dispatch(symbol, k)
		}
	}
}

func (tc *tfConn) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			tc.mu.Lock()
			stopped := tc.stopped
			remaining := len(tc.subs)
			tc.mu.Unlock()
			if !stopped && remaining > 0 {
				tc.log.Warn().Err(err).Msg("websocket read error, reconnecting")
			}
			return
		}

		var event combinedKlineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			tc.log.Debug().Err(err).Msg("unparseable stream message")
			continue
		}
		if event.Data.EventType != "kline" || !event.Data.K.IsClosed {
			continue
		}

		k := Kline{
			OpenTime:  event.Data.K.StartTime,
			Open:      jsonNumber(event.Data.K.Open),
			High:      jsonNumber(event.Data.K.High),
			Low:       jsonNumber(event.Data.K.Low),
			Close:     jsonNumber(event.Data.K.Close),
			Volume:    jsonNumber(event.Data.K.Volume),
			CloseTime: event.Data.K.EndTime,
		}
		tc.dispatch(strings.ToUpper(event.Data.Symbol), k)
	}
}

// dispatch delivers one closed candle to every live subscriber of a symbol.
// Delivery blocks on a full subscriber channel; cancelled subscribers are
// skipped via their done channel so they cannot stall the loop.
func (tc *tfConn) dispatch(symbol string, k Kline) {
	tc.mu.Lock()
	if last, ok := tc.lastOpen[symbol]; ok && k.OpenTime <= last {
		tc.mu.Unlock()
		return
	}
	tc.lastOpen[symbol] = k.OpenTime
	subs := make([]*subscriber, len(tc.subs[symbol]))
	copy(subs, tc.subs[symbol])
	tc.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- k:
		case <-sub.done:
		case <-tc.done:
			return
		}
	}
}

type combinedKlineEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		K         struct {
			StartTime int64       `json:"t"`
			EndTime   int64       `json:"T"`
			Interval  string      `json:"i"`
			Open      json.Number `json:"o"`
			Close     json.Number `json:"c"`
			High      json.Number `json:"h"`
			Low       json.Number `json:"l"`
			Volume    json.Number `json:"v"`
			IsClosed  bool        `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func streamName(symbol string, tf Timeframe) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), tf)
}

func jsonNumber(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}
