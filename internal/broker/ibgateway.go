package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"go.uber.org/zap"
)

const (
	// fillBuffer bounds the inbound fill queue between tick boundaries.
	fillBuffer   = 256
	writeTimeout = 10 * time.Second
)

// MessageType discriminates gateway wire messages.
type MessageType string

const (
	MessageTypeSubmit MessageType = "submit"
	MessageTypeFill   MessageType = "fill"
)

// Message is the JSON envelope exchanged with the gateway.
type Message struct {
	Type  MessageType  `json:"type"`
	Order *types.Order `json:"order,omitempty"`
	Fill  *types.Fill  `json:"fill,omitempty"`
}

// GatewayAdapter talks to a brokerage gateway over a websocket. Orders go out
// as JSON submit messages; the gateway pushes fill messages back, which land
// on a bounded channel the engine drains at tick boundaries.
type GatewayAdapter struct {
	logger *logger.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex
	fills   chan types.Fill
	done    chan struct{}
	once    sync.Once
}

// NewGatewayAdapter dials the gateway and starts the read pump.
func NewGatewayAdapter(url string, log *logger.Logger) (*GatewayAdapter, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeBrokerDisconnected, err, "failed to dial broker gateway at %s", url)
	}

	adapter := &GatewayAdapter{
		logger: log,
		conn:   conn,
		fills:  make(chan types.Fill, fillBuffer),
		done:   make(chan struct{}),
	}

	go adapter.readPump()

	return adapter, nil
}

// SubmitOrder implements Adapter.
func (a *GatewayAdapter) SubmitOrder(ctx context.Context, order types.Order) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return errors.New(errors.ErrCodeBrokerDisconnected, "broker gateway connection closed")
	default:
	}

	message := Message{Type: MessageTypeSubmit, Order: &order}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := a.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(errors.ErrCodeBrokerDisconnected, "failed to set write deadline", err)
	}

	if err := a.conn.WriteJSON(message); err != nil {
		return errors.Wrapf(errors.ErrCodeBrokerDisconnected, err, "failed to submit order %s to gateway", order.ID)
	}

	return nil
}

// Fills implements Adapter.
func (a *GatewayAdapter) Fills() <-chan types.Fill {
	return a.fills
}

// Close implements Adapter.
func (a *GatewayAdapter) Close() error {
	var err error

	a.once.Do(func() {
		close(a.done)
		err = a.conn.Close()
	})

	return err
}

// readPump decodes gateway messages into the fill channel until the
// connection drops. A full channel drops the fill rather than stalling the
// pump; the affected order surfaces as unresolved in the reconciliation
// report.
func (a *GatewayAdapter) readPump() {
	defer close(a.fills)

	for {
		select {
		case <-a.done:
			return
		default:
		}

		_, payload, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case <-a.done:
			default:
				a.logger.Warn("Broker gateway connection closed", zap.Error(err))
			}

			return
		}

		var message Message
		if err := json.Unmarshal(payload, &message); err != nil {
			a.logger.Warn("Failed to decode gateway message", zap.Error(err))

			continue
		}

		if message.Type != MessageTypeFill || message.Fill == nil {
			continue
		}

		select {
		case a.fills <- *message.Fill:
		default:
			a.logger.Warn("Fill queue full, dropping live fill",
				zap.String("order_id", message.Fill.OrderID),
			)
		}
	}
}
