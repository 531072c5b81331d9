package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crypto-signal-service/config"
	"crypto-signal-service/internal/indicator"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/signal"
)

// Analyzer is the orchestrator surface the scanners fire into.
type Analyzer interface {
	Analyze(ctx context.Context, userID int64, symbol string, timeframe market.Timeframe, style signal.TradingStyle) (*signal.AnalysisRecord, error)
}

// MarketData is the gateway surface the scanners read from. Scan traffic
// shares the gateway's rate limiter with everything else.
type MarketData interface {
	GetUSDTSymbols(ctx context.Context) ([]string, error)
	Get24hTicker(ctx context.Context, symbol string) (*market.Ticker24h, error)
	GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Kline, error)
}

// rsiExtremeLow/High are the daily-RSI trigger levels for the market-wide
// sweep.
const (
	rsiExtremeLow  = 20.0
	rsiExtremeHigh = 80.0
)

// Scanner runs the two scheduled sweeps: a market-wide RSI-extreme sweep
// and a bot-activity sweep.
type Scanner struct {
	data      MarketData
	analyzer  Analyzer
	cooldowns *CooldownStore
	cfg       config.ScannerConfig
	log       zerolog.Logger

	wg sync.WaitGroup
}

// New builds the scanner pair.
func New(data MarketData, analyzer Analyzer, cooldowns *CooldownStore, cfg config.ScannerConfig, log zerolog.Logger) *Scanner {
	return &Scanner{
		data:      data,
		analyzer:  analyzer,
		cooldowns: cooldowns,
		cfg:       cfg,
		log:       log,
	}
}

// Start launches both sweep loops; they stop when ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info().Msg("scanners disabled")
		return
	}

	s.wg.Add(2)
	go s.loop(ctx, s.cfg.MarketScanInterval.Duration(), 15*time.Minute, s.marketSweep)
	go s.loop(ctx, s.cfg.BotScanInterval.Duration(), 30*time.Minute, s.botSweep)
}

// Wait blocks until both loops have exited.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

func (s *Scanner) loop(ctx context.Context, interval, fallback time.Duration, sweep func(context.Context)) {
	defer s.wg.Done()

	if interval <= 0 {
		interval = fallback
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// marketSweep fetches all quote-USDT pairs above the volume floor and fires
// an analysis for every symbol whose daily RSI is at an extreme. Each
// (user, symbol) has a cooldown to prevent duplicates.
func (s *Scanner) marketSweep(ctx context.Context) {
	sweepID := uuid.NewString()[:8]
	start := time.Now()

	symbols, err := s.data.GetUSDTSymbols(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("sweep", sweepID).Msg("market sweep: symbol list failed")
		return
	}

	fired := s.runPool(ctx, symbols, func(ctx context.Context, symbol string) bool {
		ticker, err := s.data.Get24hTicker(ctx, symbol)
		if err != nil || ticker.QuoteVolume < s.cfg.MinQuoteVolume {
			return false
		}

		klines, err := s.data.GetKlines(ctx, symbol, market.Timeframe1d, 60)
		if err != nil {
			return false
		}

		// Only the daily snapshot is computed here; the full bundle is
		// built by the orchestrator if the symbol qualifies.
		snap := indicator.NewEngine(indicator.ConservativePeriod).Snapshot(market.Timeframe1d, klines)
		if snap.RSI == nil {
			return false
		}
		if *snap.RSI > rsiExtremeLow && *snap.RSI < rsiExtremeHigh {
			return false
		}

		if !s.cooldowns.Acquire(ctx, s.cfg.ScannerUserID, symbol, s.cfg.CooldownPerUser.Duration()) {
			return false
		}

		_, err = s.analyzer.Analyze(ctx, s.cfg.ScannerUserID, symbol, market.Timeframe1d, signal.StyleSwing)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("market sweep: analysis failed")
			return false
		}
		return true
	})

	s.log.Info().
		Str("sweep", sweepID).
		Int("symbols", len(symbols)).
		Int("analyses", fired).
		Dur("took", time.Since(start)).
		Msg("market sweep complete")
}

// botSweep scores every liquid symbol's recent candle/volume profile and
// analyzes the ones above the threshold.
func (s *Scanner) botSweep(ctx context.Context) {
	sweepID := uuid.NewString()[:8]
	start := time.Now()

	symbols, err := s.data.GetUSDTSymbols(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("sweep", sweepID).Msg("bot sweep: symbol list failed")
		return
	}

	fired := s.runPool(ctx, symbols, func(ctx context.Context, symbol string) bool {
		ticker, err := s.data.Get24hTicker(ctx, symbol)
		if err != nil || ticker.QuoteVolume < s.cfg.MinQuoteVolume {
			return false
		}

		klines, err := s.data.GetKlines(ctx, symbol, market.Timeframe5m, 50)
		if err != nil {
			return false
		}

		if botActivityScore(klines) <= s.cfg.BotScoreThreshold {
			return false
		}

		if !s.cooldowns.Acquire(ctx, s.cfg.ScannerUserID, symbol, s.cfg.CooldownPerUser.Duration()) {
			return false
		}

		_, err = s.analyzer.Analyze(ctx, s.cfg.ScannerUserID, symbol, market.Timeframe5m, signal.StyleScalping)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("bot sweep: analysis failed")
			return false
		}
		return true
	})

	s.log.Info().
		Str("sweep", sweepID).
		Int("symbols", len(symbols)).
		Int("analyses", fired).
		Dur("took", time.Since(start)).
		Msg("bot sweep complete")
}

// runPool feeds symbols through a bounded worker pool and counts how many
// produced an analysis.
func (s *Scanner) runPool(ctx context.Context, symbols []string, work func(context.Context, string) bool) int {
	workerCount := s.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 10
	}

	symbolCh := make(chan string)
	var fired int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range symbolCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if work(ctx, symbol) {
					mu.Lock()
					fired++
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for _, symbol := range symbols {
		select {
		case symbolCh <- symbol:
		case <-ctx.Done():
			break feed
		}
	}
	close(symbolCh)
	wg.Wait()

	return int(fired)
}
