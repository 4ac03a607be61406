package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

// MemoryAdapter is an in-process Adapter that echoes submitted limit and
// stop orders back as immediate full fills at their trigger price plus a
// fixed offset. Market orders carry no reference price and are accepted
// without an echo; their reconciliation entries stay pending. Useful for
// exercising the reconciliation path without a gateway.
type MemoryAdapter struct {
	// PriceOffset is added to each echoed fill price to simulate live
	// execution drift.
	PriceOffset float64

	mu     sync.Mutex
	fills  chan types.Fill
	closed bool
}

// NewMemoryAdapter creates an adapter with a bounded fill queue.
func NewMemoryAdapter(priceOffset float64) *MemoryAdapter {
	return &MemoryAdapter{
		PriceOffset: priceOffset,
		fills:       make(chan types.Fill, fillBuffer),
	}
}

// SubmitOrder implements Adapter. Limit and stop orders echo at their
// trigger price plus the offset; market orders are accepted silently.
func (m *MemoryAdapter) SubmitOrder(_ context.Context, order types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New(errors.ErrCodeBrokerDisconnected, "memory adapter closed")
	}

	var price float64

	switch order.OrderType {
	case types.OrderTypeLimit:
		price = order.LimitPrice.Unwrap() + m.PriceOffset
	case types.OrderTypeStop:
		price = order.StopPrice.Unwrap() + m.PriceOffset
	default:
		return nil
	}

	fill := types.Fill{
		ID:           uuid.New().String(),
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Quantity:     order.Quantity,
		Price:        price,
		Time:         order.SubmittedAt,
		TickIndex:    order.SubmittedTick,
		Reason:       types.FillReasonMarketOpen,
		StrategyName: order.StrategyName,
	}

	select {
	case m.fills <- fill:
		return nil
	default:
		return errors.New(errors.ErrCodeBrokerTimeout, "memory adapter fill queue full")
	}
}

// Fills implements Adapter.
func (m *MemoryAdapter) Fills() <-chan types.Fill {
	return m.fills
}

// Close implements Adapter.
func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.fills)
	}

	return nil
}
