package broker

import (
	"context"

	"github.com/tradeforge-dev/ibacktest/internal/types"
)

// Adapter mirrors simulated order flow to a live or paper brokerage and
// streams the broker's actual fills back. The engine drains Fills only at
// tick boundaries, never mid-tick, so broker activity cannot interleave with
// ledger mutation. Adapters never touch the simulated ledger; their fills
// feed reconciliation only.
type Adapter interface {
	// SubmitOrder forwards an admitted order to the brokerage.
	SubmitOrder(ctx context.Context, order types.Order) error
	// Fills is the inbound stream of live fills. Closed when the adapter
	// shuts down.
	Fills() <-chan types.Fill
	// Close tears down the brokerage connection.
	Close() error
}
