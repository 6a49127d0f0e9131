package snapshot

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
)

// SQLiteStore persists snapshots to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logrus.Entry
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so status reads don't block refresh/backfill writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: logger.WithComponent("snapshot")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.WithField("path", dbPath).Info("snapshot store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT NOT NULL,
			day        TEXT NOT NULL,
			timestamp  INTEGER NOT NULL,
			price      REAL NOT NULL,
			prev_close REAL,
			source     TEXT NOT NULL DEFAULT 'refresh'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_day ON price_snapshots(symbol, day)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON price_snapshots(timestamp)`,

		`CREATE TABLE IF NOT EXISTS portfolio_values (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			day         TEXT NOT NULL UNIQUE,
			timestamp   INTEGER NOT NULL,
			total_value REAL NOT NULL,
			total_cost  REAL NOT NULL,
			gain        REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_values_day ON portfolio_values(day)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Append stores the snapshots as given. Callers that must not duplicate a
// calendar day filter through DedupByDay first.
func (s *SQLiteStore) Append(snaps []model.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO price_snapshots
		(symbol, day, timestamp, price, prev_close, source)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snaps {
		source := snap.Source
		if source == "" {
			source = model.SourceRefresh
		}
		if _, err := stmt.Exec(
			model.NormalizeSymbol(snap.Symbol), snap.DayKey(), snap.Time.Unix(),
			snap.Price, nullableFloat(snap.PrevClose), source,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert snapshot %s/%s: %w", snap.Symbol, snap.DayKey(), err)
		}
	}
	return tx.Commit()
}

// DedupByDay returns the subset of snaps whose calendar day has no stored
// snapshot yet, dropping intra-batch day duplicates as well.
func (s *SQLiteStore) DedupByDay(symbol string, snaps []model.PriceSnapshot) ([]model.PriceSnapshot, error) {
	if len(snaps) == 0 {
		return nil, nil
	}
	symbol = model.NormalizeSymbol(symbol)

	minDay, maxDay := snaps[0].DayKey(), snaps[0].DayKey()
	for _, snap := range snaps[1:] {
		if d := snap.DayKey(); d < minDay {
			minDay = d
		} else if d > maxDay {
			maxDay = d
		}
	}

	covered, err := s.coveredDaySet(symbol, minDay, maxDay)
	if err != nil {
		return nil, err
	}

	out := make([]model.PriceSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		day := snap.DayKey()
		if covered[day] {
			continue
		}
		covered[day] = true
		out = append(out, snap)
	}
	return out, nil
}

func (s *SQLiteStore) coveredDaySet(symbol, minDay, maxDay string) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT day FROM price_snapshots WHERE symbol = ? AND day BETWEEN ? AND ?`,
		symbol, minDay, maxDay)
	if err != nil {
		return nil, fmt.Errorf("query covered days: %w", err)
	}
	defer rows.Close()

	covered := make(map[string]bool)
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan covered day: %w", err)
		}
		covered[day] = true
	}
	return covered, rows.Err()
}

// Read returns the symbol's snapshots inside [from, to], ordered by day.
func (s *SQLiteStore) Read(symbol string, from, to time.Time) ([]model.PriceSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT symbol, day, timestamp, price, prev_close, source
		 FROM price_snapshots
		 WHERE symbol = ? AND day BETWEEN ? AND ?
		 ORDER BY day, timestamp`,
		model.NormalizeSymbol(symbol), from.Format(model.DayFormat), to.Format(model.DayFormat))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.PriceSnapshot
	for rows.Next() {
		var (
			snap      model.PriceSnapshot
			ts        int64
			prevClose sql.NullFloat64
		)
		if err := rows.Scan(&snap.Symbol, &snap.Day, &ts, &snap.Price, &prevClose, &snap.Source); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Time = time.Unix(ts, 0)
		if prevClose.Valid {
			snap.PrevClose = prevClose.Float64
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// CoveredDays counts distinct calendar days with at least one snapshot inside
// [from, to].
func (s *SQLiteStore) CoveredDays(symbol string, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(DISTINCT day) FROM price_snapshots WHERE symbol = ? AND day BETWEEN ? AND ?`,
		model.NormalizeSymbol(symbol), from.Format(model.DayFormat), to.Format(model.DayFormat),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count covered days: %w", err)
	}
	return count, nil
}

// CoverageBounds returns the first and last covered day for the symbol, empty
// strings when no snapshots exist.
func (s *SQLiteStore) CoverageBounds(symbol string) (string, string, error) {
	var first, last sql.NullString
	err := s.db.QueryRow(
		`SELECT MIN(day), MAX(day) FROM price_snapshots WHERE symbol = ?`,
		model.NormalizeSymbol(symbol),
	).Scan(&first, &last)
	if err != nil {
		return "", "", fmt.Errorf("query coverage bounds: %w", err)
	}
	return first.String, last.String, nil
}

// SavePortfolioValue upserts one derived valuation row. Derived rows are
// recomputable, so overwriting is allowed here, unlike snapshots.
func (s *SQLiteStore) SavePortfolioValue(v model.PortfolioValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO portfolio_values (day, timestamp, total_value, total_cost, gain)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(day) DO UPDATE SET
			timestamp = excluded.timestamp,
			total_value = excluded.total_value,
			total_cost = excluded.total_cost,
			gain = excluded.gain`,
		v.Day, v.Time.Unix(), v.TotalValue, v.TotalCost, v.Gain)
	if err != nil {
		return fmt.Errorf("save portfolio value %s: %w", v.Day, err)
	}
	return nil
}

// PortfolioValues returns derived valuation rows inside [from, to], ordered
// by day.
func (s *SQLiteStore) PortfolioValues(from, to time.Time) ([]model.PortfolioValue, error) {
	rows, err := s.db.Query(
		`SELECT day, timestamp, total_value, total_cost, gain
		 FROM portfolio_values
		 WHERE day BETWEEN ? AND ?
		 ORDER BY day`,
		from.Format(model.DayFormat), to.Format(model.DayFormat))
	if err != nil {
		return nil, fmt.Errorf("query portfolio values: %w", err)
	}
	defer rows.Close()

	var values []model.PortfolioValue
	for rows.Next() {
		var (
			v  model.PortfolioValue
			ts int64
		)
		if err := rows.Scan(&v.Day, &ts, &v.TotalValue, &v.TotalCost, &v.Gain); err != nil {
			return nil, fmt.Errorf("scan portfolio value: %w", err)
		}
		v.Time = time.Unix(ts, 0)
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.log.Info("closing snapshot store")
	return s.db.Close()
}

func nullableFloat(v float64) interface{} {
	if !model.ValidPrice(v) {
		return nil
	}
	return v
}
