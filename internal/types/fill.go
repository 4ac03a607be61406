package types

import "time"

// FillReason records which bar price point a fill was matched against.
type FillReason string

const (
	FillReasonMarketOpen  FillReason = "market_open"
	FillReasonLimitTouch  FillReason = "limit_touch"
	FillReasonStopTrigger FillReason = "stop_trigger"
)

// Fill is a confirmed execution created by the order book and consumed
// exactly once by the ledger. Immutable thereafter.
type Fill struct {
	ID           string     `yaml:"id" json:"id" csv:"id"`
	OrderID      string     `yaml:"order_id" json:"order_id" csv:"order_id"`
	Symbol       string     `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side         Side       `yaml:"side" json:"side" csv:"side"`
	Quantity     float64    `yaml:"quantity" json:"quantity" csv:"quantity"`
	Price        float64    `yaml:"price" json:"price" csv:"price"`
	Commission   float64    `yaml:"commission" json:"commission" csv:"commission"`
	Time         time.Time  `yaml:"time" json:"time" csv:"time"`
	TickIndex    int        `yaml:"tick_index" json:"tick_index" csv:"tick_index"`
	Reason       FillReason `yaml:"reason" json:"reason" csv:"reason"`
	StrategyName string     `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
	// Partial is true when the fill covers less than the order's remaining
	// quantity (liquidity-capped runs only).
	Partial bool `yaml:"partial" json:"partial" csv:"partial"`
}
