package types

import (
	"testing"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

type OrderTestSuite struct {
	suite.Suite
}

func TestOrderSuite(t *testing.T) {
	suite.Run(t, new(OrderTestSuite))
}

func (suite *OrderTestSuite) TestValidateIntent() {
	tests := []struct {
		name     string
		intent   OrderIntent
		wantErr  bool
		wantCode errors.ErrorCode
	}{
		{
			name: "valid market order",
			intent: OrderIntent{
				Symbol:    "AAPL",
				Side:      SideBuy,
				OrderType: OrderTypeMarket,
				Quantity:  50,
			},
			wantErr: false,
		},
		{
			name: "valid limit order",
			intent: OrderIntent{
				Symbol:     "AAPL",
				Side:       SideSell,
				OrderType:  OrderTypeLimit,
				Quantity:   10,
				LimitPrice: optional.Some(101.5),
			},
			wantErr: false,
		},
		{
			name: "zero quantity",
			intent: OrderIntent{
				Symbol:    "AAPL",
				Side:      SideBuy,
				OrderType: OrderTypeMarket,
				Quantity:  0,
			},
			wantErr:  true,
			wantCode: errors.ErrCodeInvalidOrder,
		},
		{
			name: "negative quantity",
			intent: OrderIntent{
				Symbol:    "AAPL",
				Side:      SideBuy,
				OrderType: OrderTypeMarket,
				Quantity:  -5,
			},
			wantErr:  true,
			wantCode: errors.ErrCodeInvalidOrder,
		},
		{
			name: "missing symbol",
			intent: OrderIntent{
				Side:      SideBuy,
				OrderType: OrderTypeMarket,
				Quantity:  1,
			},
			wantErr:  true,
			wantCode: errors.ErrCodeInvalidOrder,
		},
		{
			name: "limit order without limit price",
			intent: OrderIntent{
				Symbol:    "AAPL",
				Side:      SideBuy,
				OrderType: OrderTypeLimit,
				Quantity:  1,
			},
			wantErr:  true,
			wantCode: errors.ErrCodeInvalidOrder,
		},
		{
			name: "stop order without stop price",
			intent: OrderIntent{
				Symbol:    "AAPL",
				Side:      SideSell,
				OrderType: OrderTypeStop,
				Quantity:  1,
			},
			wantErr:  true,
			wantCode: errors.ErrCodeInvalidOrder,
		},
		{
			name: "negative time in force",
			intent: OrderIntent{
				Symbol:       "AAPL",
				Side:         SideBuy,
				OrderType:    OrderTypeMarket,
				Quantity:     1,
				GoodForTicks: -1,
			},
			wantErr:  true,
			wantCode: errors.ErrCodeInvalidTimeInForce,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			err := tc.intent.Validate()
			if tc.wantErr {
				suite.Error(err)
				suite.Equal(tc.wantCode, errors.GetCode(err))
			} else {
				suite.NoError(err)
			}
		})
	}
}

func (suite *OrderTestSuite) TestOrderRemaining() {
	order := Order{
		OrderIntent:    OrderIntent{Symbol: "AAPL", Side: SideBuy, OrderType: OrderTypeMarket, Quantity: 100},
		FilledQuantity: 40,
	}
	suite.InDelta(60.0, order.Remaining(), 1e-9)
}

func (suite *OrderTestSuite) TestOrderIsTerminal() {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusPending, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCancelled, true},
		{OrderStatusRejected, true},
	}

	for _, tc := range tests {
		order := Order{Status: tc.status}
		suite.Equal(tc.terminal, order.IsTerminal(), string(tc.status))
	}
}
