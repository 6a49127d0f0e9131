package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"quotekeeper/internal/backfill"
	"quotekeeper/internal/cache"
	"quotekeeper/internal/config"
	"quotekeeper/internal/logger"
	"quotekeeper/internal/metrics"
	"quotekeeper/internal/notifier"
	"quotekeeper/internal/portfolio"
	"quotekeeper/internal/quote"
	"quotekeeper/internal/refresh"
	"quotekeeper/internal/scheduler"
	"quotekeeper/internal/snapshot"
	"quotekeeper/internal/status"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatalf("config validation: %v", err)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.MaxAgeDays); err != nil {
		logger.Log.Fatalf("configure logging: %v", err)
	}
	log := logger.WithComponent("main")
	log.Info("quotekeeper starting")

	for _, path := range []string{cfg.Database.SQLitePath, cfg.Portfolio.StateFile, cfg.Backfill.MarkerFile} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Fatalf("create data dir %s: %v", dir, err)
			}
		}
	}

	// Stores
	snaps, err := snapshot.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}
	defer snaps.Close()

	port, err := portfolio.NewStore(cfg.Portfolio.StateFile, cfg.Portfolio.Positions)
	if err != nil {
		log.Fatalf("open portfolio store: %v", err)
	}

	// Quote provider
	var fetcher quote.Fetcher
	useAlpaca := cfg.Provider.Name == "alpaca" ||
		(cfg.Provider.Name == "" && cfg.Provider.AlpacaKey != "" && cfg.Provider.AlpacaSecret != "")
	if useAlpaca {
		fetcher = quote.NewAlpacaFetcher(cfg.Provider.AlpacaKey, cfg.Provider.AlpacaSecret, cfg.Provider.AlpacaBaseURL, cfg.Provider.AlpacaFeed)
	} else {
		fetcher = quote.NewYahooFetcher(cfg.Proxy)
	}
	log.WithField("source", fetcher.Name()).Info("quote provider selected")

	// Freshness tracking and refresh pipeline
	coord := cache.NewCoordinator(cache.Policy{
		Interval:         time.Duration(cfg.Cache.IntervalSeconds) * time.Second,
		RetryLadder:      secondsToDurations(cfg.Cache.RetryLadderSeconds),
		BreakerThreshold: cfg.Cache.BreakerThreshold,
		BreakerTimeout:   time.Duration(cfg.Cache.BreakerTimeoutSeconds) * time.Second,
	})
	orch := refresh.NewOrchestrator(fetcher, coord, port, snaps)

	valuator := metrics.NewValuator(snaps, port)
	orch.OnBatchDone(func() {
		if err := valuator.RecomputeToday(time.Now()); err != nil {
			log.WithField("error", err).Warn("update today's valuation failed")
		}
	})

	// Backfill pipeline
	detector := backfill.NewDetector(snaps, port.Symbols, backfill.DetectorOptions{
		StandardWindowDays: cfg.Backfill.StandardWindowDays,
		ComprehensiveYears: cfg.Backfill.ComprehensiveYears,
		TriggerThreshold:   cfg.Backfill.TriggerThreshold,
		Cooldown:           time.Duration(cfg.Backfill.CooldownHours) * time.Hour,
	})
	executor := backfill.NewExecutor(fetcher, snaps, backfill.ExecutorOptions{
		YearsToFetch:  cfg.Backfill.YearsToFetch,
		SkipThreshold: cfg.Backfill.SkipThreshold,
		ChunkPacer:    rate.NewLimiter(rate.Every(time.Duration(cfg.Backfill.ChunkDelaySeconds)*time.Second), 1),
		SymbolPacer:   rate.NewLimiter(rate.Every(time.Duration(cfg.Backfill.SymbolDelaySeconds)*time.Second), 1),
	})

	// Notifier
	var notif notifier.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notif = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	} else {
		log.Warn("telegram not configured, notifications disabled")
		notif = notifier.NewNoopNotifier()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	marker := scheduler.NewRunMarker(cfg.Backfill.MarkerFile)
	sched := scheduler.NewScheduler(ctx, cfg, orch, detector, executor, valuator, marker, notif)
	if err := sched.RegisterAll(); err != nil {
		log.Fatalf("register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Status API
	var srv *status.Server
	if cfg.Status.Enabled {
		srv = status.NewServer(cfg.Status.Addr, status.Deps{
			Cache:     coord,
			Portfolio: port,
			Snapshots: snaps,
			Detector:  detector,
			Scheduler: sched,
		})
		go func() {
			if err := srv.Start(); err != nil {
				log.WithField("error", err).Error("status server failed")
			}
		}()
	}

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, refreshing now")
		go sched.RunBatchNow()
	}

	log.Info("quotekeeper is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping")
	cancel()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithField("error", err).Warn("status server shutdown")
		}
	}
	orch.Wait()
	log.Info("quotekeeper stopped")
}

func secondsToDurations(seconds []int) []time.Duration {
	out := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}
