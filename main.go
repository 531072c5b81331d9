package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"crypto-signal-service/config"
	"crypto-signal-service/internal/analysis"
	"crypto-signal-service/internal/llm"
	"crypto-signal-service/internal/logging"
	"crypto-signal-service/internal/market"
	"crypto-signal-service/internal/scanner"
	"crypto-signal-service/internal/store"
	"crypto-signal-service/internal/tracker"
)

// shutdownGrace is how long in-flight work gets to drain on termination.
const shutdownGrace = 30 * time.Second

func main() {
	// Secrets come from the environment; a local .env is honored when
	// present.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	rootLog := logging.New(cfg.LoggingConfig)
	rootLog.Info().Msg("starting trading-signal service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway := market.NewGateway(cfg.ExchangeConfig, logging.Component(rootLog, "market"))

	historyStore, err := store.New(ctx, cfg.DatabaseConfig, logging.Component(rootLog, "store"))
	if err != nil {
		rootLog.Fatal().Err(err).Msg("store initialization failed")
	}
	historyStore.StartPurgeLoop(ctx)

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			rootLog.Warn().Err(err).Msg("redis unreachable, scanner cooldowns fall back to memory")
			redisClient = nil
		}
		cancel()
	}

	llmClient := llm.NewClient(cfg.LLMConfig)
	if !llmClient.IsConfigured() {
		rootLog.Warn().Msg("no LLM API key configured; analyses will fail at the LLM step")
	}
	llmService := llm.NewService(llmClient, cfg.LLMConfig, logging.Component(rootLog, "llm"))

	priceTracker := tracker.New(
		tracker.GatewayStream{Gateway: gateway},
		historyStore,
		cfg.TrackerConfig,
		logging.Component(rootLog, "tracker"),
	)
	if err := priceTracker.Start(ctx); err != nil {
		rootLog.Fatal().Err(err).Msg("tracker start failed")
	}

	orchestrator := analysis.New(
		gateway,
		historyStore,
		llmService,
		priceTracker,
		logging.Component(rootLog, "analysis"),
	)

	cooldowns := scanner.NewCooldownStore(redisClient, logging.Component(rootLog, "scanner"))
	sweeps := scanner.New(gateway, orchestrator, cooldowns, cfg.ScannerConfig, logging.Component(rootLog, "scanner"))
	sweeps.Start(ctx)

	rootLog.Info().Msg("service ready")
	<-ctx.Done()
	rootLog.Info().Msg("termination signal received, draining")

	// Shutdown order: context cancellation has already stopped intake; give
	// the loops a bounded drain, then close streams and flush the pool.
	done := make(chan struct{})
	go func() {
		sweeps.Wait()
		priceTracker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		rootLog.Warn().Msg("drain grace elapsed, forcing shutdown")
	}

	gateway.Close()
	historyStore.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	rootLog.Info().Msg("shutdown complete")
}
