package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"quotekeeper/internal/backfill"
	"quotekeeper/internal/config"
	"quotekeeper/internal/logger"
	"quotekeeper/internal/metrics"
	"quotekeeper/internal/model"
	"quotekeeper/internal/notifier"
	"quotekeeper/internal/refresh"
)

// Scheduler owns every wall-clock trigger: the refresh cadence, the nightly
// valuation recompute, and the startup/daily backfill checks.
type Scheduler struct {
	Cron     *cron.Cron
	Orch     *refresh.Orchestrator
	Detector *backfill.Detector
	Executor *backfill.Executor
	Valuator *metrics.Valuator
	Marker   *RunMarker
	Notifier notifier.Notifier
	Cfg      *config.Config
	Ctx      context.Context

	backfillMu   sync.Mutex
	startupTimer *time.Timer
	log          *logrus.Entry
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, cfg *config.Config, orch *refresh.Orchestrator, det *backfill.Detector, exec *backfill.Executor, val *metrics.Valuator, marker *RunMarker, n notifier.Notifier) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Orch:     orch,
		Detector: det,
		Executor: exec,
		Valuator: val,
		Marker:   marker,
		Notifier: n,
		Cfg:      cfg,
		Ctx:      ctx,
		log:      logger.WithComponent("scheduler"),
	}
}

// RegisterAll registers the refresh, recompute, and daily backfill tasks.
func (s *Scheduler) RegisterAll() error {
	if s.Cfg.Refresh.Strategy == "batch" {
		if _, err := s.Cron.AddFunc(s.Cfg.Refresh.BatchCron, s.refreshTask); err != nil {
			return fmt.Errorf("register refresh task: %w", err)
		}
	}
	if _, err := s.Cron.AddFunc(s.Cfg.Refresh.RecomputeCron, s.recomputeTask); err != nil {
		return fmt.Errorf("register recompute task: %w", err)
	}

	mode := s.Cfg.Backfill.Mode
	if mode == config.ModeBoth || mode == config.ModeDaily {
		if _, err := s.Cron.AddFunc(s.Cfg.Backfill.DailyCron, s.CheckAndRunBackfillIfNeeded); err != nil {
			return fmt.Errorf("register daily backfill task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler, the staggered refresh loop when
// configured, and the delayed startup backfill check.
func (s *Scheduler) Start() {
	if s.Cfg.Refresh.Strategy == "staggered" {
		s.Orch.StartStaggered(s.Ctx, time.Duration(s.Cfg.Refresh.StaggerSeconds)*time.Second)
	}

	mode := s.Cfg.Backfill.Mode
	if mode == config.ModeBoth || mode == config.ModeStartup {
		delay := time.Duration(s.Cfg.Backfill.StartupDelayMinutes) * time.Minute
		s.startupTimer = time.AfterFunc(delay, s.CheckAndRunBackfillIfNeeded)
		s.log.WithField("delay", delay).Info("startup backfill check scheduled")
	}

	s.Cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the cron scheduler and pending timers gracefully.
func (s *Scheduler) Stop() {
	if s.startupTimer != nil {
		s.startupTimer.Stop()
	}
	s.Cron.Stop()
	s.log.Info("scheduler stopped")
}

// RunBatchNow triggers one refresh pass immediately (manual trigger and
// RUN_ON_START).
func (s *Scheduler) RunBatchNow() refresh.Outcome {
	return s.Orch.PerformRefreshAllTrades(s.Ctx, nil)
}

func (s *Scheduler) refreshTask() {
	s.Orch.PerformRefreshAllTrades(s.Ctx, nil)
}

func (s *Scheduler) recomputeTask() {
	s.log.Info("running valuation recompute")
	if _, err := s.Valuator.RecomputeYear(time.Now()); err != nil {
		s.log.WithField("error", err).Error("valuation recompute failed")
	}
}

// CheckAndRunBackfillIfNeeded runs the standard gap check and fills flagged
// symbols, at most once per calendar day. The startup timer and the daily
// cron both funnel here; the marker is only advanced after a completed
// check, so a blocked attempt can retry later the same day.
func (s *Scheduler) CheckAndRunBackfillIfNeeded() {
	if !s.backfillMu.TryLock() {
		s.log.Debug("backfill already running, skipping")
		return
	}
	defer s.backfillMu.Unlock()

	now := time.Now()
	if s.Marker.IsRunForDay(now) {
		s.log.Debug("backfill check already ran today")
		return
	}

	reports, ran := s.Detector.StandardCheck(now)
	if !ran {
		return
	}

	var flagged []string
	for _, r := range reports {
		if r.NeedsBackfill {
			flagged = append(flagged, r.Symbol)
		}
	}

	if len(flagged) > 0 {
		s.log.WithField("symbols", flagged).Info("running backfill for flagged symbols")
		stats := s.Executor.BackfillSymbols(s.Ctx, flagged, now)
		if s.Cfg.Backfill.Notify {
			s.trySend(notifier.FormatBackfillReport(flagged, stats))
		}
	} else {
		s.log.Info("gap check clean, no backfill needed")
	}

	if _, err := s.Marker.Record(now); err != nil {
		s.log.WithField("error", err).Error("record run marker failed")
	}
}

// TriggerFullHistoricalBackfill runs the deep fill on demand. With explicit
// symbols it fills exactly those; otherwise it fills whatever the forced
// comprehensive check flags. The daily marker is left alone. Returns
// ran=false when another backfill holds the lock.
func (s *Scheduler) TriggerFullHistoricalBackfill(limitedTo []string) (model.BackfillStats, bool) {
	if !s.backfillMu.TryLock() {
		s.log.Debug("backfill already running, dropping manual trigger")
		return model.BackfillStats{}, false
	}
	defer s.backfillMu.Unlock()

	now := time.Now()
	var targets []string
	if len(limitedTo) > 0 {
		for _, symbol := range limitedTo {
			targets = append(targets, model.NormalizeSymbol(symbol))
		}
	} else {
		reports, ran := s.Detector.ComprehensiveCheck(now, true)
		if !ran {
			return model.BackfillStats{}, false
		}
		for _, r := range reports {
			if r.NeedsBackfill {
				targets = append(targets, r.Symbol)
			}
		}
	}

	if len(targets) == 0 {
		s.log.Info("full backfill requested, nothing to fill")
		return model.BackfillStats{}, true
	}

	s.log.WithField("symbols", targets).Info("running full historical backfill")
	stats := s.Executor.BackfillSymbols(s.Ctx, targets, now)
	if s.Cfg.Backfill.Notify {
		s.trySend(notifier.FormatBackfillReport(targets, stats))
	}
	return stats, true
}

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.log.WithField("error", err).Error("send notification failed")
	}
}
