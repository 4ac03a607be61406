package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"go.uber.org/zap"
)

// invariantTolerance absorbs the rounding introduced by average-cost
// division; everything else in the ledger is exact decimal arithmetic.
var invariantTolerance = decimal.NewFromFloat(1e-6)

type ledgerPosition struct {
	quantity decimal.Decimal
	avgCost  decimal.Decimal
	openedAt time.Time
	strategy string
}

// Ledger is the single-writer accounting state machine for one run: cash,
// positions, realized/unrealized P&L and commissions, mutated only by
// confirmed fills and mark-to-market.
type Ledger struct {
	logger        *logger.Logger
	initialCash   decimal.Decimal
	cash          decimal.Decimal
	marginEnabled bool
	positions     map[string]*ledgerPosition
	realized      decimal.Decimal
	unrealized    decimal.Decimal
	commissions   decimal.Decimal
	// marks holds the last mark-to-market price per symbol.
	marks map[string]decimal.Decimal
}

// NewLedger creates a ledger with the given starting cash.
func NewLedger(initialCash float64, marginEnabled bool, log *logger.Logger) *Ledger {
	initial := decimal.NewFromFloat(initialCash)

	return &Ledger{
		logger:        log,
		initialCash:   initial,
		cash:          initial,
		marginEnabled: marginEnabled,
		positions:     make(map[string]*ledgerPosition),
		realized:      decimal.Zero,
		unrealized:    decimal.Zero,
		commissions:   decimal.Zero,
		marks:         make(map[string]decimal.Decimal),
	}
}

// MarginEnabled reports whether cash may go negative.
func (l *Ledger) MarginEnabled() bool {
	return l.marginEnabled
}

// cashDelta returns the signed cash impact of a fill, commission included.
func (l *Ledger) cashDelta(fill types.Fill) decimal.Decimal {
	notional := decimal.NewFromFloat(fill.Quantity).Mul(decimal.NewFromFloat(fill.Price))
	commissionDec := decimal.NewFromFloat(fill.Commission)

	if fill.Side == types.SideBuy {
		return notional.Neg().Sub(commissionDec)
	}

	return notional.Sub(commissionDec)
}

// ProjectedCash returns the cash balance the ledger would hold after the
// fill. The order book consults this before committing a fill so that a
// breach rejects the order instead of unwinding ledger state.
func (l *Ledger) ProjectedCash(fill types.Fill) float64 {
	projected, _ := l.cash.Add(l.cashDelta(fill)).Float64()

	return projected
}

// ApplyFill updates cash, the position's quantity and volume-weighted
// average cost, and recognizes realized P&L on any reduction. Reductions
// crossing through zero re-open the remainder at the fill price. Returns the
// realized P&L recognized by this fill.
func (l *Ledger) ApplyFill(fill types.Fill) (float64, error) {
	delta := l.cashDelta(fill)

	newCash := l.cash.Add(delta)
	if newCash.IsNegative() && !l.marginEnabled {
		return 0, errors.Newf(errors.ErrCodeInsufficientFunds,
			"fill for order %s would drive cash to %s with margin disabled", fill.OrderID, newCash)
	}

	signedQty := decimal.NewFromFloat(fill.Quantity)
	if fill.Side == types.SideSell {
		signedQty = signedQty.Neg()
	}

	price := decimal.NewFromFloat(fill.Price)

	position, ok := l.positions[fill.Symbol]
	if !ok {
		position = &ledgerPosition{
			quantity: decimal.Zero,
			avgCost:  decimal.Zero,
			openedAt: fill.Time,
			strategy: fill.StrategyName,
		}
		l.positions[fill.Symbol] = position
	}

	current := position.quantity
	realizedDelta := decimal.Zero

	switch {
	case current.IsZero() || current.Sign() == signedQty.Sign():
		// Opening or increasing: fold the fill into the average cost.
		totalQty := current.Abs().Add(signedQty.Abs())
		totalCost := current.Abs().Mul(position.avgCost).Add(signedQty.Abs().Mul(price))
		position.avgCost = totalCost.Div(totalQty)
		position.quantity = current.Add(signedQty)

		if current.IsZero() {
			position.openedAt = fill.Time
		}
	default:
		// Reducing, possibly crossing zero.
		reduceQty := decimal.Min(signedQty.Abs(), current.Abs())

		var tradePnl decimal.Decimal
		if current.Sign() > 0 {
			tradePnl = price.Sub(position.avgCost).Mul(reduceQty)
		} else {
			tradePnl = position.avgCost.Sub(price).Mul(reduceQty)
		}

		l.realized = l.realized.Add(tradePnl)
		realizedDelta = tradePnl

		remainder := signedQty.Abs().Sub(reduceQty)
		position.quantity = current.Add(signedQty)

		if remainder.IsPositive() {
			// Crossed zero: remainder opens a fresh position at the fill price.
			position.avgCost = price
			position.openedAt = fill.Time
		}
	}

	if position.quantity.IsZero() {
		delete(l.positions, fill.Symbol)
	}

	l.cash = newCash
	l.commissions = l.commissions.Add(decimal.NewFromFloat(fill.Commission))

	l.logger.Debug("Fill applied",
		zap.String("order_id", fill.OrderID),
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("commission", fill.Commission),
	)

	realized, _ := realizedDelta.Float64()

	return realized, nil
}

// UnrealizedBySymbol returns each open position's unrealized P&L at its last
// mark. Symbols never marked are omitted.
func (l *Ledger) UnrealizedBySymbol() map[string]float64 {
	result := make(map[string]float64, len(l.positions))

	for symbol, position := range l.positions {
		mark, ok := l.marks[symbol]
		if !ok {
			continue
		}

		pnl, _ := mark.Sub(position.avgCost).Mul(position.quantity).Float64()
		result[symbol] = pnl
	}

	return result
}

// MarkToMarket revalues open positions against the tick's close prices and
// recomputes unrealized P&L. Must run exactly once per tick, after all fills
// for that tick are applied. Symbols absent from the tick keep their last
// mark.
func (l *Ledger) MarkToMarket(tick types.Tick) {
	for symbol, bar := range tick.Bars {
		l.marks[symbol] = decimal.NewFromFloat(bar.Close)
	}

	unrealized := decimal.Zero

	for symbol, position := range l.positions {
		mark, ok := l.marks[symbol]
		if !ok {
			continue
		}

		unrealized = unrealized.Add(mark.Sub(position.avgCost).Mul(position.quantity))
	}

	l.unrealized = unrealized
}

// CheckInvariant verifies the accounting identity: cash plus position market
// value must equal initial cash plus realized and unrealized P&L minus
// commissions. A violation indicates a bug in matching or accounting and is
// fatal for the run.
func (l *Ledger) CheckInvariant() error {
	equity := l.cash

	for symbol, position := range l.positions {
		mark, ok := l.marks[symbol]
		if !ok {
			continue
		}

		equity = equity.Add(position.quantity.Mul(mark))
	}

	expected := l.initialCash.Add(l.realized).Add(l.unrealized).Sub(l.commissions)

	diff := equity.Sub(expected).Abs()
	if diff.GreaterThan(invariantTolerance) {
		return errors.Newf(errors.ErrCodeAccountingInvariantViolation,
			"accounting identity broken: equity=%s expected=%s diff=%s", equity, expected, diff)
	}

	return nil
}

// Snapshot materializes the read-only portfolio view for the given tick.
func (l *Ledger) Snapshot(tickIndex int, at time.Time) types.PortfolioSnapshot {
	positions := make(map[string]types.Position, len(l.positions))
	equity := l.cash

	for symbol, position := range l.positions {
		quantity, _ := position.quantity.Float64()
		avgCost, _ := position.avgCost.Float64()
		positions[symbol] = types.Position{
			Symbol:        symbol,
			Quantity:      quantity,
			AvgCost:       avgCost,
			OpenTimestamp: position.openedAt,
			StrategyName:  position.strategy,
		}

		if mark, ok := l.marks[symbol]; ok {
			equity = equity.Add(position.quantity.Mul(mark))
		}
	}

	cash, _ := l.cash.Float64()
	equityF, _ := equity.Float64()
	realized, _ := l.realized.Float64()
	unrealized, _ := l.unrealized.Float64()
	commissions, _ := l.commissions.Float64()

	return types.PortfolioSnapshot{
		Time:          at,
		TickIndex:     tickIndex,
		Cash:          cash,
		Equity:        equityF,
		Positions:     positions,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		Commissions:   commissions,
	}
}
