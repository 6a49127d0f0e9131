package backfill

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
	"quotekeeper/internal/snapshot"
)

// businessDayFactor approximates the share of calendar days that are trading
// days. Holidays are deliberately not modeled; the trigger and skip
// thresholds absorb the error.
const businessDayFactor = 5.0 / 7.0

// Detector measures historical coverage per symbol and flags gaps worth
// backfilling.
type Detector struct {
	mu sync.Mutex

	snapshots snapshot.Store
	symbols   func() []string

	standardWindowDays int
	comprehensiveYears int
	triggerThreshold   float64
	cooldown           time.Duration

	runningStandard      bool
	runningComprehensive bool
	lastComprehensive    time.Time

	log *logrus.Entry
}

// DetectorOptions carries the detection tunables.
type DetectorOptions struct {
	StandardWindowDays int
	ComprehensiveYears int
	TriggerThreshold   float64
	Cooldown           time.Duration
}

// NewDetector creates a Detector. symbols supplies the tracked set fresh on
// every check.
func NewDetector(snaps snapshot.Store, symbols func() []string, opts DetectorOptions) *Detector {
	if opts.StandardWindowDays <= 0 {
		opts.StandardWindowDays = 30
	}
	if opts.ComprehensiveYears <= 0 {
		opts.ComprehensiveYears = 5
	}
	if opts.TriggerThreshold <= 0 {
		opts.TriggerThreshold = 0.10
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Hour
	}
	return &Detector{
		snapshots:          snaps,
		symbols:            symbols,
		standardWindowDays: opts.StandardWindowDays,
		comprehensiveYears: opts.ComprehensiveYears,
		triggerThreshold:   opts.TriggerThreshold,
		cooldown:           opts.Cooldown,
		log:                logger.WithComponent("gapdetect"),
	}
}

// CoverageFor computes the coverage ratio for one symbol over the window of
// windowDays ending at now.
func (d *Detector) CoverageFor(symbol string, windowDays int, now time.Time) (model.GapReport, error) {
	symbol = model.NormalizeSymbol(symbol)
	report := model.GapReport{
		Symbol:               symbol,
		WindowDays:           windowDays,
		ExpectedBusinessDays: float64(windowDays) * businessDayFactor,
	}
	if report.ExpectedBusinessDays <= 0 {
		report.CoverageRatio = 1
		return report, nil
	}

	covered, err := d.snapshots.CoveredDays(symbol, now.AddDate(0, 0, -windowDays), now)
	if err != nil {
		return report, fmt.Errorf("coverage %s: %w", symbol, err)
	}
	report.UniqueCoveredDays = covered
	report.CoverageRatio = float64(covered) / report.ExpectedBusinessDays
	report.NeedsBackfill = report.CoverageRatio < d.triggerThreshold
	return report, nil
}

// StandardCheck scans all tracked symbols over the standard window. Returns
// ran=false without touching the store when another check is in progress.
func (d *Detector) StandardCheck(now time.Time) ([]model.GapReport, bool) {
	return d.check(now, d.standardWindowDays, false, false)
}

// ComprehensiveCheck scans over the full historical window. A cooldown
// spaces unforced comprehensive scans; force bypasses it for manual
// triggers. The mutual exclusion with a running check always holds.
func (d *Detector) ComprehensiveCheck(now time.Time, force bool) ([]model.GapReport, bool) {
	return d.check(now, d.comprehensiveYears*365, true, force)
}

func (d *Detector) check(now time.Time, windowDays int, comprehensive, force bool) ([]model.GapReport, bool) {
	if !d.begin(now, comprehensive, force) {
		return nil, false
	}
	defer d.end(comprehensive)

	var reports []model.GapReport
	for _, symbol := range d.symbols() {
		report, err := d.CoverageFor(symbol, windowDays, now)
		if err != nil {
			d.log.WithField("symbol", symbol).WithField("error", err).Warn("coverage check failed")
			continue
		}
		if report.NeedsBackfill {
			d.log.WithFields(logger.Fields{
				"symbol":   symbol,
				"coverage": fmt.Sprintf("%.3f", report.CoverageRatio),
				"window":   windowDays,
			}).Info("coverage gap detected")
		}
		reports = append(reports, report)
	}
	return reports, true
}

func (d *Detector) begin(now time.Time, comprehensive, force bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.runningStandard || d.runningComprehensive {
		d.log.Debug("gap check already running, skipping")
		return false
	}

	if comprehensive {
		if !force && !d.lastComprehensive.IsZero() && now.Sub(d.lastComprehensive) < d.cooldown {
			d.log.Debug("comprehensive check on cooldown, skipping")
			return false
		}
		d.runningComprehensive = true
		d.lastComprehensive = now
	} else {
		d.runningStandard = true
	}
	return true
}

func (d *Detector) end(comprehensive bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if comprehensive {
		d.runningComprehensive = false
	} else {
		d.runningStandard = false
	}
}

// Running reports whether any check is in progress.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningStandard || d.runningComprehensive
}

// HistoryStatus returns the read-only coverage diagnostic per tracked
// symbol, measured over the comprehensive window.
func (d *Detector) HistoryStatus(now time.Time) ([]model.HistoricalDataStatus, error) {
	windowDays := d.comprehensiveYears * 365

	var out []model.HistoricalDataStatus
	for _, symbol := range d.symbols() {
		report, err := d.CoverageFor(symbol, windowDays, now)
		if err != nil {
			return nil, err
		}
		first, last, err := d.snapshots.CoverageBounds(symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, model.HistoricalDataStatus{
			Symbol:        symbol,
			FirstDay:      first,
			LastDay:       last,
			CoveredDays:   report.UniqueCoveredDays,
			ExpectedDays:  report.ExpectedBusinessDays,
			CoverageRatio: report.CoverageRatio,
			NeedsBackfill: report.NeedsBackfill,
		})
	}
	return out, nil
}
