package types

import "time"

// PortfolioSnapshot is the read-only view of the ledger handed to strategies
// once per tick, after that tick's fills have been applied.
type PortfolioSnapshot struct {
	Time      time.Time `yaml:"time" json:"time"`
	TickIndex int       `yaml:"tick_index" json:"tick_index"`
	// Cash is the settled cash balance.
	Cash float64 `yaml:"cash" json:"cash"`
	// Equity is cash plus the market value of all open positions.
	Equity    float64             `yaml:"equity" json:"equity"`
	Positions map[string]Position `yaml:"positions" json:"positions"`
	// RealizedPnL is cumulative realized profit/loss.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl"`
	// UnrealizedPnL is the open profit/loss as of the last mark-to-market.
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	// Commissions is cumulative commissions paid.
	Commissions float64 `yaml:"commissions" json:"commissions"`
}

// Position returns the snapshot position for a symbol, zero-valued when flat.
func (s PortfolioSnapshot) Position(symbol string) Position {
	if position, ok := s.Positions[symbol]; ok {
		return position
	}

	return Position{Symbol: symbol}
}
