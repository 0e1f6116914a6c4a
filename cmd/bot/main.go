package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"confluence-trade-bot-go/internal/bot"
	"confluence-trade-bot-go/internal/config"
	"confluence-trade-bot-go/internal/exchange"
	"confluence-trade-bot-go/internal/executor"
	"confluence-trade-bot-go/internal/indicator"
	"confluence-trade-bot-go/internal/ledger"
	"confluence-trade-bot-go/internal/logger"
	"confluence-trade-bot-go/internal/marketdata"
	"confluence-trade-bot-go/internal/models"
	"confluence-trade-bot-go/internal/persistence"
	"confluence-trade-bot-go/internal/reasoning"
	"confluence-trade-bot-go/internal/reporter"
	"confluence-trade-bot-go/internal/risk"
	signalsrc "confluence-trade-bot-go/internal/signal"
	"confluence-trade-bot-go/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "paper", "running mode: live or paper")
	flag.Parse()

	// A default console logger until the real config is loaded.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading secrets from the environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	apiURL, wsURL := cfg.LiveAPIURL, cfg.LiveWSURL
	if cfg.IsTestnet {
		apiURL, wsURL = cfg.TestnetAPIURL, cfg.TestnetWSURL
		logger.S().Info("using the exchange testnet")
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")

	var ex exchange.Exchange
	switch *mode {
	case "live":
		if apiKey == "" || secretKey == "" {
			logger.S().Fatal("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set for live mode")
		}
		ex = exchange.NewBinanceExchange(apiKey, secretKey, apiURL, wsURL, cfg.Symbols, logger.S())
	case "paper":
		// Real market data, simulated fills.
		data := exchange.NewBinanceExchange(apiKey, secretKey, apiURL, wsURL, cfg.Symbols, logger.S())
		ex = exchange.NewPaperExchange(data, cfg.TakerFeeRate, cfg.SlippageRate)
	default:
		logger.S().Fatalf("unknown mode %q: choose 'live' or 'paper'", *mode)
	}
	defer ex.Close()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.EnsureBot(cfg.BotID, decimal.NewFromFloat(cfg.InitialCash)); err != nil {
		logger.S().Fatalf("failed to initialize bot row: %v", err)
	}
	cash, err := store.GetCash(cfg.BotID)
	if err != nil {
		logger.S().Fatalf("failed to read cash: %v", err)
	}
	openPositions, err := store.LoadOpenPositions(cfg.BotID)
	if err != nil {
		logger.S().Fatalf("failed to load open positions: %v", err)
	}

	ldg := ledger.New(cfg.BotID, cash, logger.S())
	ldg.Restore(cash, openPositions)

	sessions, err := persistence.NewBadgerRepository(cfg.StateDBPath)
	if err != nil {
		logger.S().Fatalf("failed to open session repository: %v", err)
	}
	defer sessions.Close()

	cacheTTL := time.Duration(cfg.CycleIntervalSec) * time.Second
	gateway := marketdata.NewGateway(ex, cfg.Indicators.TrendPeriod, cacheTTL, logger.S())
	engine := indicator.NewEngine(cfg.Indicators)

	var source signalsrc.Source
	switch cfg.SignalSource {
	case "oracle":
		source = reasoning.NewAdapter(cfg.Oracle, os.Getenv("ORACLE_API_KEY"), logger.S())
	default:
		source = signalsrc.NewEngine(cfg.Signal, cfg.Indicators, logger.S())
	}

	exec := executor.New(cfg.BotID, ex, store, ldg, logger.S())
	rep := reporter.New(cfg.BotID, logger.S())
	b := bot.New(*cfg, gateway, engine, source, risk.NewGate(cfg.Risk), exec, ldg, store, sessions, rep, logger.S())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// SIGUSR1 toggles pause/resume without ending the session.
	pause := make(chan os.Signal, 1)
	signal.Notify(pause, syscall.SIGUSR1)

	for {
		select {
		case <-pause:
			if b.Status() == models.StatusPaused {
				b.Resume()
			} else {
				b.Pause()
			}
		case s := <-quit:
			logger.S().Infow("shutdown signal received", "signal", s)
			b.Stop()
			if err := <-errCh; err != nil {
				logger.S().Errorf("bot exited with error: %v", err)
			}
			logger.S().Info("shutdown complete")
			return
		case err := <-errCh:
			if err != nil {
				logger.S().Errorf("bot halted: %v", err)
				os.Exit(1)
			}
			logger.S().Info("shutdown complete")
			return
		}
	}
}
