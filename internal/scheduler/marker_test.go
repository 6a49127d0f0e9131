package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMarkerAbsentMeansNoRun(t *testing.T) {
	m := NewRunMarker(filepath.Join(t.TempDir(), "run.json"))

	if m.Last() != nil {
		t.Fatalf("expected no recorded run")
	}
	if m.IsRunForDay(time.Now()) {
		t.Fatalf("absent marker must read as not run")
	}
}

func TestMarkerRecordAndDayRollover(t *testing.T) {
	m := NewRunMarker(filepath.Join(t.TempDir(), "run.json"))

	now := time.Date(2026, 3, 6, 15, 0, 0, 0, time.Local)
	run, err := m.Record(now)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if run.ID == "" || run.Date != "2026-03-06" {
		t.Errorf("unexpected run: %+v", run)
	}

	if !m.IsRunForDay(now) {
		t.Errorf("same-day check must report run")
	}
	if !m.IsRunForDay(now.Add(8 * time.Hour)) {
		t.Errorf("later same-day check must report run")
	}
	if m.IsRunForDay(now.AddDate(0, 0, 1)) {
		t.Errorf("next-day check must report no run")
	}
}

func TestMarkerSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	now := time.Date(2026, 3, 6, 15, 0, 0, 0, time.Local)

	if _, err := NewRunMarker(path).Record(now); err != nil {
		t.Fatalf("Record: %v", err)
	}

	reloaded := NewRunMarker(path)
	if !reloaded.IsRunForDay(now) {
		t.Errorf("marker lost across reload")
	}
}

func TestMarkerOverwrite(t *testing.T) {
	m := NewRunMarker(filepath.Join(t.TempDir(), "run.json"))

	day1 := time.Date(2026, 3, 6, 15, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)
	if _, err := m.Record(day1); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := m.Record(day2); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if m.IsRunForDay(day1) {
		t.Errorf("old day must no longer match after overwrite")
	}
	if !m.IsRunForDay(day2) {
		t.Errorf("new day must match")
	}
}

func TestCorruptMarkerReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewRunMarker(path)
	if m.Last() != nil {
		t.Fatalf("corrupt marker must read as absent")
	}
	if m.IsRunForDay(time.Now()) {
		t.Fatalf("corrupt marker must not block the daily check")
	}

	// A fresh record repairs the file.
	if _, err := m.Record(time.Now()); err != nil {
		t.Fatalf("Record over corrupt file: %v", err)
	}
	if !m.IsRunForDay(time.Now()) {
		t.Errorf("repaired marker must report run")
	}
}
