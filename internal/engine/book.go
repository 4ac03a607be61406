package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/internal/engine/commission"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"go.uber.org/zap"
)

// idNamespace seeds name-based order and fill IDs. Replaying an identical
// feed and strategy must reproduce the recorded history byte for byte, so
// IDs derive from the run-scoped submission and fill sequences instead of
// random UUIDs.
var idNamespace = uuid.MustParse("3b7a1c2e-9f64-4d05-8a37-5c21d0e4b986")

// OrderBook holds all pending order intents and resolves them against each
// tick's bars. It owns order state until terminal status. Fills are applied
// to the ledger at match time so that a projected cash breach rejects the
// order instead of producing a fill that must be unwound.
type OrderBook struct {
	logger       *logger.Logger
	ledger       *Ledger
	commission   commission.Model
	liquidityCap optional.Option[float64]
	// universe is the set of tradable symbols; empty disables the check.
	universe map[string]struct{}
	nextSeq  uint64
	fillSeq  uint64
	// pending is kept in submission order; FIFO tie-break under a
	// liquidity cap follows from iteration order.
	pending []*types.Order
	orders  map[string]*types.Order
}

// NewOrderBook creates an order book bound to the given ledger. Intents for
// symbols outside the universe are rejected at submission.
func NewOrderBook(ledger *Ledger, model commission.Model, liquidityCap optional.Option[float64], universe []string, log *logger.Logger) *OrderBook {
	symbols := make(map[string]struct{}, len(universe))
	for _, symbol := range universe {
		symbols[symbol] = struct{}{}
	}

	return &OrderBook{
		logger:       log,
		ledger:       ledger,
		commission:   model,
		liquidityCap: liquidityCap,
		universe:     symbols,
		nextSeq:      0,
		fillSeq:      0,
		pending:      nil,
		orders:       make(map[string]*types.Order),
	}
}

// Submit validates an intent and admits it to the book with the next
// submission sequence number. Invalid intents never enter the book.
func (b *OrderBook) Submit(intent types.OrderIntent, tickIndex int, at time.Time) (types.Order, error) {
	if err := intent.Validate(); err != nil {
		return types.Order{}, err
	}

	if len(b.universe) > 0 {
		if _, known := b.universe[intent.Symbol]; !known {
			return types.Order{}, errors.Newf(errors.ErrCodeUnknownInstrument,
				"symbol %s is not carried by the bar feed", intent.Symbol)
		}
	}

	b.nextSeq++

	if intent.ID == "" {
		intent.ID = uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("order-%d", b.nextSeq))).String()
	}

	order := &types.Order{
		OrderIntent:    intent,
		Seq:            b.nextSeq,
		SubmittedAt:    at,
		SubmittedTick:  tickIndex,
		Status:         types.OrderStatusPending,
		FilledQuantity: 0,
		Triggered:      false,
		Reason:         types.Reason{Reason: types.OrderReasonStrategy, Message: "submitted by strategy"},
	}

	b.pending = append(b.pending, order)
	b.orders[order.ID] = order

	b.logger.Debug("Order submitted",
		zap.String("order_id", order.ID),
		zap.Uint64("seq", order.Seq),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("order_type", string(order.OrderType)),
		zap.Float64("quantity", order.Quantity),
	)

	return *order, nil
}

// Cancel removes a pending order without generating a fill.
func (b *OrderBook) Cancel(orderID string, reason types.Reason) bool {
	for i, order := range b.pending {
		if order.ID == orderID {
			order.Status = types.OrderStatusCancelled
			order.Reason = reason
			b.pending = append(b.pending[:i], b.pending[i+1:]...)

			return true
		}
	}

	return false
}

// CancelAll cancels every pending order.
func (b *OrderBook) CancelAll(reason types.Reason) {
	for _, order := range b.pending {
		order.Status = types.OrderStatusCancelled
		order.Reason = reason
	}

	b.pending = nil
}

// Order returns the book's record for an order id.
func (b *OrderBook) Order(orderID string) optional.Option[types.Order] {
	if order, ok := b.orders[orderID]; ok {
		return optional.Some(*order)
	}

	return optional.None[types.Order]()
}

// PendingOrders returns a copy of the open orders in submission order.
func (b *OrderBook) PendingOrders() []types.Order {
	pending := make([]types.Order, 0, len(b.pending))
	for _, order := range b.pending {
		pending = append(pending, *order)
	}

	return pending
}

// Orders returns every order the book has seen, in submission order.
func (b *OrderBook) Orders() []types.Order {
	all := make([]types.Order, 0, len(b.orders))
	for _, order := range b.orders {
		all = append(all, *order)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })

	return all
}

// FillEvent pairs a fill with the realized P&L the ledger recognized when
// consuming it.
type FillEvent struct {
	Fill        types.Fill
	RealizedPnL float64
}

// Resolve matches orders carried over from previous ticks against the tick's
// bars and expires orders whose time-in-force has elapsed. Orders submitted
// on the current tick are left for ResolveSubmitted.
func (b *OrderBook) Resolve(tick types.Tick) ([]FillEvent, error) {
	b.expire(tick)

	return b.resolveEligible(tick, func(order *types.Order) bool {
		return order.SubmittedTick < tick.Index
	})
}

// ResolveSubmitted matches orders submitted on the current tick. Only called
// under the same-bar-open fill policy.
func (b *OrderBook) ResolveSubmitted(tick types.Tick) ([]FillEvent, error) {
	return b.resolveEligible(tick, func(order *types.Order) bool {
		return order.SubmittedTick == tick.Index
	})
}

// expire cancels pending orders whose tick-based time-in-force has elapsed.
// An order with GoodForTicks=N may still fill on its Nth tick after
// submission and expires afterwards.
func (b *OrderBook) expire(tick types.Tick) {
	remaining := b.pending[:0]

	for _, order := range b.pending {
		if order.GoodForTicks > 0 && tick.Index-order.SubmittedTick > order.GoodForTicks {
			order.Status = types.OrderStatusCancelled
			order.Reason = types.Reason{Reason: types.OrderReasonTimeInForce, Message: "time in force elapsed"}

			b.logger.Debug("Order expired",
				zap.String("order_id", order.ID),
				zap.Int("submitted_tick", order.SubmittedTick),
				zap.Int("tick", tick.Index),
			)

			continue
		}

		remaining = append(remaining, order)
	}

	b.pending = remaining
}

func (b *OrderBook) resolveEligible(tick types.Tick, eligible func(*types.Order) bool) ([]FillEvent, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}

	// Synthetic liquidity budget per symbol for this resolution pass.
	var budget map[string]float64

	if b.liquidityCap.IsSome() {
		budget = make(map[string]float64, len(tick.Bars))
		for symbol, bar := range tick.Bars {
			budget[symbol] = b.liquidityCap.Unwrap() * bar.Volume
		}
	}

	var fills []FillEvent

	remaining := b.pending[:0]

	for _, order := range b.pending {
		bar, hasBar := tick.Bar(order.Symbol)
		if !hasBar || !eligible(order) {
			remaining = append(remaining, order)

			continue
		}

		price, reason, matched := matchOrder(order, bar)
		if !matched {
			remaining = append(remaining, order)

			continue
		}

		if !bar.InRange(price) {
			return nil, errors.Newf(errors.ErrCodeFillOutsideBarRange,
				"matched price %f outside bar range [%f, %f] for order %s", price, bar.Low, bar.High, order.ID)
		}

		quantity := order.Remaining()

		if budget != nil {
			available := budget[order.Symbol]
			if available <= 0 {
				remaining = append(remaining, order)

				continue
			}

			if quantity > available {
				quantity = available
			}

			budget[order.Symbol] -= quantity
		}

		b.fillSeq++

		fill := types.Fill{
			ID:           uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("fill-%d", b.fillSeq))).String(),
			OrderID:      order.ID,
			Symbol:       order.Symbol,
			Side:         order.Side,
			Quantity:     quantity,
			Price:        price,
			Commission:   b.commission.Calculate(quantity),
			Time:         tick.Time,
			TickIndex:    tick.Index,
			Reason:       reason,
			StrategyName: order.StrategyName,
			Partial:      quantity < order.Remaining(),
		}

		// Projected cash check before committing: a breach rejects the
		// triggering order, leaving the ledger untouched.
		if !b.ledger.MarginEnabled() && b.ledger.ProjectedCash(fill) < 0 {
			order.Status = types.OrderStatusRejected
			order.Reason = types.Reason{
				Reason:  types.OrderReasonInsufficientFunds,
				Message: "projected cash below zero with margin disabled",
			}

			b.logger.Info("Order rejected for insufficient funds",
				zap.String("order_id", order.ID),
				zap.Float64("quantity", quantity),
				zap.Float64("price", price),
			)

			continue
		}

		realized, err := b.ledger.ApplyFill(fill)
		if err != nil {
			return nil, err
		}

		order.FilledQuantity += quantity

		if order.Remaining() > 0 {
			order.Status = types.OrderStatusPartiallyFilled
			remaining = append(remaining, order)
		} else {
			order.Status = types.OrderStatusFilled
		}

		fills = append(fills, FillEvent{Fill: fill, RealizedPnL: realized})
	}

	b.pending = remaining

	return fills, nil
}

// matchOrder decides whether an order executes against a bar and at what
// price, under the conservative no-slippage policy.
func matchOrder(order *types.Order, bar types.Bar) (float64, types.FillReason, bool) {
	switch order.OrderType {
	case types.OrderTypeMarket:
		return bar.Open, types.FillReasonMarketOpen, true

	case types.OrderTypeLimit:
		limit := order.LimitPrice.Unwrap()
		if bar.InRange(limit) {
			return limit, types.FillReasonLimitTouch, true
		}

		return 0, "", false

	case types.OrderTypeStop:
		stop := order.StopPrice.Unwrap()
		if !order.Triggered {
			crossed := (order.Side == types.SideBuy && bar.High >= stop) ||
				(order.Side == types.SideSell && bar.Low <= stop)
			if !crossed {
				return 0, "", false
			}

			order.Triggered = true
		}

		// Converted to market within the same tick; the stop price is
		// inside the bar range by the trigger condition when the bar
		// crossed it, otherwise fall back to the open (gap through the
		// stop).
		price := stop
		if !bar.InRange(price) {
			price = bar.Open
		}

		return price, types.FillReasonStopTrigger, true
	}

	return 0, "", false
}
