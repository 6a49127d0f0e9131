package model

import "time"

// Position is one tracked portfolio entry as configured by the user.
type Position struct {
	Symbol   string  `json:"symbol" yaml:"symbol"`
	Units    float64 `json:"units" yaml:"units"`
	AvgCost  float64 `json:"avg_cost" yaml:"avg_cost"`
	Currency string  `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// Holding is the live view of a position: the position itself plus the last
// applied quote values.
type Holding struct {
	Position   Position  `json:"position"`
	Price      float64   `json:"price"`
	PrevClose  float64   `json:"prev_close"`
	Currency   string    `json:"currency"`
	LastUpdate time.Time `json:"last_update"`
}

// MarketValue returns units * last price; zero when no price is known yet.
func (h *Holding) MarketValue() float64 {
	if h == nil || !ValidPrice(h.Price) {
		return 0
	}
	return h.Position.Units * h.Price
}

// CostBasis returns units * average cost.
func (h *Holding) CostBasis() float64 {
	if h == nil {
		return 0
	}
	return h.Position.Units * h.Position.AvgCost
}

// PortfolioState is the persisted portfolio store payload.
type PortfolioState struct {
	Holdings  map[string]*Holding `json:"holdings"`
	UpdatedAt time.Time           `json:"updated_at"`
}
