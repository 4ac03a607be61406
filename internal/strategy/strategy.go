package strategy

import (
	"context"

	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

// ActionType discriminates the actions a strategy may emit.
type ActionType string

const (
	ActionTypePlaceOrder      ActionType = "place_order"
	ActionTypeCancelOrder     ActionType = "cancel_order"
	ActionTypeCancelAllOrders ActionType = "cancel_all_orders"
)

// Action is a single instruction emitted by a strategy callback. Actions are
// absorbed by the engine after the callback returns; the strategy never
// mutates engine state directly.
type Action struct {
	Type          ActionType
	Intent        types.OrderIntent
	CancelOrderID string
}

// PlaceOrder wraps an order intent as an action.
func PlaceOrder(intent types.OrderIntent) Action {
	return Action{Type: ActionTypePlaceOrder, Intent: intent}
}

// CancelOrder wraps a cancellation as an action.
func CancelOrder(orderID string) Action {
	return Action{Type: ActionTypeCancelOrder, CancelOrderID: orderID}
}

// CancelAllOrders cancels every order still pending in the book.
func CancelAllOrders() Action {
	return Action{Type: ActionTypeCancelAllOrders}
}

// TickContext is the read-only view of the simulation handed to a strategy on
// each tick. All slices and maps are copies; mutating them has no effect on
// the engine.
type TickContext struct {
	// Tick is the current synchronized tick.
	Tick types.Tick
	// Lookback holds up to the configured number of prior bars per symbol,
	// oldest first, current bar last.
	Lookback map[string][]types.Bar
	// Portfolio is the snapshot as of the end of the previous tick.
	Portfolio types.PortfolioSnapshot
	// PendingOrders are the strategy's unfilled orders in submission order.
	PendingOrders []types.Order
	// Logger is the run's logger.
	Logger *logger.Logger
}

// Bars returns the lookback window for a symbol, current bar included.
func (c *TickContext) Bars(symbol string) []types.Bar {
	return c.Lookback[symbol]
}

// Runtime is the interface a trading strategy implements. OnTick runs once
// per tick on the engine goroutine; blocking inside it stalls the simulation.
type Runtime interface {
	// Name identifies the strategy in order and fill records.
	Name() string
	// Initialize configures the strategy from its raw config string.
	Initialize(config string) error
	// OnTick inspects the tick and returns the actions to take.
	OnTick(ctx context.Context, tick *TickContext) ([]Action, error)
}

// NewRuntime constructs a registered strategy by name.
func NewRuntime(name string) (Runtime, error) {
	switch name {
	case StrategyNameSMACross:
		return NewSMACrossStrategy(), nil
	case StrategyNameMomentumWilliams:
		return NewMomentumWilliamsStrategy(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeStrategyNotLoaded, "unknown strategy: %s", name)
	}
}
