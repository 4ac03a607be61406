package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents current holdings of an instrument. Quantity is signed:
// negative means short. One Position per instrument per portfolio, created
// lazily on first fill and removed when quantity returns to zero.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol" csv:"symbol"`
	// Quantity is the signed open quantity.
	Quantity float64 `yaml:"quantity" json:"quantity" csv:"quantity"`
	// AvgCost is the volume-weighted average entry price, recomputed
	// incrementally on every increasing fill.
	AvgCost       float64   `yaml:"avg_cost" json:"avg_cost" csv:"avg_cost"`
	OpenTimestamp time.Time `yaml:"open_timestamp" json:"open_timestamp" csv:"open_timestamp"`
	StrategyName  string    `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
}

// MarketValue returns the signed market value of the position at the mark price.
func (p Position) MarketValue(mark float64) float64 {
	value, _ := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(mark)).Float64()

	return value
}

// UnrealizedPnL returns the open profit/loss at the mark price. The sign of
// Quantity makes the same expression correct for shorts.
func (p Position) UnrealizedPnL(mark float64) float64 {
	markDec := decimal.NewFromFloat(mark)
	costDec := decimal.NewFromFloat(p.AvgCost)
	pnl, _ := markDec.Sub(costDec).Mul(decimal.NewFromFloat(p.Quantity)).Float64()

	return pnl
}
