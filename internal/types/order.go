package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

type Side string

type OrderType string

type OrderStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

const (
	OrderReasonStrategy          string = "strategy"
	OrderReasonTimeInForce       string = "tif_expired"
	OrderReasonInsufficientFunds string = "insufficient_funds"
	OrderReasonUserCancel        string = "user_cancel"
	OrderReasonFeedEnded         string = "feed_ended"
)

// Reason records why an order reached its current status.
type Reason struct {
	Reason  string `yaml:"reason" json:"reason" csv:"reason"`
	Message string `yaml:"message" json:"message" csv:"message"`
}

// OrderIntent is a strategy's request to trade. It is owned and mutated
// exclusively by the order book until it reaches a terminal status.
type OrderIntent struct {
	ID        string    `yaml:"id" json:"id" csv:"id" validate:"omitempty,uuid"`
	Symbol    string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Side      Side      `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	OrderType OrderType `yaml:"order_type" json:"order_type" csv:"order_type" validate:"required,oneof=MARKET LIMIT STOP"`
	Quantity  float64   `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	// LimitPrice is required for LIMIT orders.
	LimitPrice optional.Option[float64] `yaml:"limit_price" json:"limit_price" csv:"limit_price"`
	// StopPrice is required for STOP orders.
	StopPrice optional.Option[float64] `yaml:"stop_price" json:"stop_price" csv:"stop_price"`
	// GoodForTicks is the time-in-force expressed in ticks. Zero means
	// good-till-cancelled.
	GoodForTicks int    `yaml:"good_for_ticks" json:"good_for_ticks" csv:"good_for_ticks"`
	StrategyName string `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
}

// Order is the book's record of a submitted intent: the intent plus the
// submission sequence and its lifecycle state. Once terminal it becomes an
// immutable history record.
type Order struct {
	OrderIntent `yaml:",inline" json:",inline"`

	// Seq is the strictly increasing submission sequence number assigned by
	// the book. Fill tie-breaks under constrained liquidity are FIFO by Seq.
	Seq           uint64      `yaml:"seq" json:"seq" csv:"seq"`
	SubmittedAt   time.Time   `yaml:"submitted_at" json:"submitted_at" csv:"submitted_at"`
	SubmittedTick int         `yaml:"submitted_tick" json:"submitted_tick" csv:"submitted_tick"`
	Status        OrderStatus `yaml:"status" json:"status" csv:"status"`
	// FilledQuantity accumulates across partial fills.
	FilledQuantity float64 `yaml:"filled_quantity" json:"filled_quantity" csv:"filled_quantity"`
	// Triggered is set once a stop order's trigger price has been crossed.
	Triggered bool   `yaml:"triggered" json:"triggered" csv:"triggered"`
	Reason    Reason `yaml:"reason" json:"reason" csv:"reason"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// IsTerminal reports whether the order can no longer change state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Validate validates the OrderIntent struct, including the cross-field
// requirements the struct tags cannot express.
func (oi *OrderIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(oi); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order intent", err)
	}

	if oi.GoodForTicks < 0 {
		return errors.Newf(errors.ErrCodeInvalidTimeInForce,
			"good-for-ticks must be non-negative: %d", oi.GoodForTicks)
	}

	if oi.OrderType == OrderTypeLimit {
		if oi.LimitPrice.IsNone() {
			return errors.New(errors.ErrCodeInvalidOrder, "limit order requires a limit price")
		}

		if oi.LimitPrice.Unwrap() <= 0 {
			return errors.Newf(errors.ErrCodeInvalidOrder, "limit price must be positive: %f", oi.LimitPrice.Unwrap())
		}
	}

	if oi.OrderType == OrderTypeStop {
		if oi.StopPrice.IsNone() {
			return errors.New(errors.ErrCodeInvalidOrder, "stop order requires a stop price")
		}

		if oi.StopPrice.Unwrap() <= 0 {
			return errors.Newf(errors.ErrCodeInvalidOrder, "stop price must be positive: %f", oi.StopPrice.Unwrap())
		}
	}

	return nil
}
