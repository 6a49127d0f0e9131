package scheduler

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
)

// RunMarker persists the single backfill-run scheduling marker. Calendar-day
// equality against it decides whether the daily check already happened.
type RunMarker struct {
	mu       sync.Mutex
	filePath string
}

func NewRunMarker(filePath string) *RunMarker {
	return &RunMarker{filePath: filePath}
}

// Last returns the recorded run, or nil when none exists. A corrupt marker
// reads as no run so a check can proceed.
func (m *RunMarker) Last() *model.BackfillRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithComponent("marker").WithField("error", err).Warn("read run marker failed")
		}
		return nil
	}
	var run model.BackfillRun
	if err := json.Unmarshal(data, &run); err != nil {
		logger.WithComponent("marker").WithField("error", err).Warn("corrupt run marker, treating as absent")
		return nil
	}
	return &run
}

// IsRunForDay reports whether a run was already recorded on now's local
// calendar day.
func (m *RunMarker) IsRunForDay(now time.Time) bool {
	return m.Last().SameDay(now)
}

// Record overwrites the marker with a run stamped at now.
func (m *RunMarker) Record(now time.Time) (*model.BackfillRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := &model.BackfillRun{
		ID:        uuid.New().String(),
		Timestamp: now,
		Date:      now.Format(model.DayFormat),
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.filePath, data, 0644); err != nil {
		return nil, err
	}
	return run, nil
}
