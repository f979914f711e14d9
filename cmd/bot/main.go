package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eddiefleurent/zerodte_strangler/internal/broker"
	"github.com/eddiefleurent/zerodte_strangler/internal/config"
	"github.com/eddiefleurent/zerodte_strangler/internal/dashboard"
	"github.com/eddiefleurent/zerodte_strangler/internal/events"
	"github.com/eddiefleurent/zerodte_strangler/internal/monitor"
	"github.com/eddiefleurent/zerodte_strangler/internal/retry"
	"github.com/eddiefleurent/zerodte_strangler/internal/storage"
	"github.com/eddiefleurent/zerodte_strangler/internal/strategy"
)

func main() {
	var configPath, logFile string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&logFile, "log-file", "", "Optional log file with rotation (stdout if empty)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var out io.Writer = os.Stdout
	if logFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	logger := log.New(out, "[BOT] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting 0DTE strangler in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - no real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	store, err := storage.NewStorage(storagePath(cfg))
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}

	var gw broker.Broker
	if cfg.IsPaperTrading() {
		gw = broker.NewPaperBroker(cfg.Strategy.Symbol, 500, 0.20, 100_000)
	} else {
		gw = broker.NewCircuitBreakerBroker(
			broker.NewClient(cfg.Broker.APIKey, cfg.Broker.AccountID, cfg.Broker.APIEndpoint))
	}

	selector := strategy.NewStrikeSelector(cfg.Strategy.RiskFreeRate)
	evaluator := strategy.NewEvaluator(cfg, selector, logger)
	closer := retry.NewClient(gw, logger)

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.TypeAlert {
			logger.Printf("ALERT: %s", e.Message)
		}
	})

	mon, err := monitor.New(cfg, gw, store, evaluator, closer, bus, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize monitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		dashLogger.SetOutput(out)
		dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		srv := dashboard.NewServer(cfg.Dashboard.Port, store, dashLogger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatalf("Engine error: %v", err)
	}
	logger.Println("Stopped cleanly")
}

func storagePath(cfg *config.Config) string {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return "positions.json"
}
