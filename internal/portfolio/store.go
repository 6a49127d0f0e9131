package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"quotekeeper/internal/logger"
	"quotekeeper/internal/model"
)

// Store holds the live portfolio state with concurrency safety. Quote
// applications mutate in memory only; callers persist once per batch via
// Persist.
type Store struct {
	mu       sync.Mutex
	state    *model.PortfolioState
	filePath string
}

// NewStore creates a Store, loading state from disk and reconciling it with
// the configured positions: new positions gain empty holdings, removed ones
// are dropped, price fields of surviving holdings are kept.
func NewStore(filePath string, positions []model.Position) (*Store, error) {
	state, err := loadState(filePath)
	if err != nil {
		return nil, err
	}

	s := &Store{state: state, filePath: filePath}
	s.syncPositions(positions)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadState(filePath string) (*model.PortfolioState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.PortfolioState{Holdings: map[string]*model.Holding{}}, nil
		}
		return nil, fmt.Errorf("read portfolio state: %w", err)
	}
	var state model.PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode portfolio state: %w", err)
	}
	if state.Holdings == nil {
		state.Holdings = map[string]*model.Holding{}
	}
	return &state, nil
}

func (s *Store) syncPositions(positions []model.Position) {
	configured := make(map[string]model.Position, len(positions))
	for _, p := range positions {
		p.Symbol = model.NormalizeSymbol(p.Symbol)
		configured[p.Symbol] = p
	}

	for symbol, pos := range configured {
		if h, ok := s.state.Holdings[symbol]; ok {
			h.Position = pos
			continue
		}
		s.state.Holdings[symbol] = &model.Holding{Position: pos}
	}
	for symbol := range s.state.Holdings {
		if _, ok := configured[symbol]; !ok {
			delete(s.state.Holdings, symbol)
			logger.WithComponent("portfolio").WithField("symbol", symbol).
				Info("dropped holding no longer in config")
		}
	}
}

// Symbols returns the tracked symbols, normalized and sorted.
func (s *Store) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.state.Holdings))
	for symbol := range s.state.Holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// ApplyResult merges one fetch result into the holding. Only fields the
// result carries a usable value for are overwritten; a failed result leaves
// the holding untouched. Reports whether anything changed.
func (s *Store) ApplyResult(res model.FetchResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.state.Holdings[model.NormalizeSymbol(res.Symbol)]
	if !ok || !res.Success {
		return false
	}

	changed := false
	if model.ValidPrice(res.Price) {
		h.Price = res.Price
		changed = true
	}
	if model.ValidPrice(res.PrevClose) {
		h.PrevClose = res.PrevClose
		changed = true
	}
	if res.Currency != "" {
		h.Currency = res.Currency
	}
	if changed {
		h.LastUpdate = res.FetchedAt
	}
	return changed
}

// Holding returns a copy of one holding.
func (s *Store) Holding(symbol string) (model.Holding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.state.Holdings[model.NormalizeSymbol(symbol)]
	if !ok {
		return model.Holding{}, false
	}
	return *h, true
}

// Holdings returns a copy of all holdings keyed by symbol.
func (s *Store) Holdings() map[string]model.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]model.Holding, len(s.state.Holdings))
	for symbol, h := range s.state.Holdings {
		out[symbol] = *h
	}
	return out
}

// Positions returns the configured positions of all holdings.
func (s *Store) Positions() []model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]model.Position, 0, len(s.state.Holdings))
	for _, h := range s.state.Holdings {
		positions = append(positions, h.Position)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions
}

// Totals returns the current market value and cost basis across holdings.
// Holdings without a price yet contribute only cost.
func (s *Store) Totals() (value, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.state.Holdings {
		value += h.MarketValue()
		cost += h.CostBasis()
	}
	return value, cost
}

// Persist writes the state to disk.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	s.state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode portfolio state: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		return fmt.Errorf("write portfolio state: %w", err)
	}
	return nil
}
