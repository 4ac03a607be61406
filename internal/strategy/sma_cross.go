package strategy

import (
	"context"
	"math"

	"github.com/tradeforge-dev/ibacktest/internal/indicator"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const StrategyNameSMACross = "sma_cross"

// SMACrossConfig configures the moving-average crossover strategy.
type SMACrossConfig struct {
	FastPeriod int `yaml:"fast_period"`
	SlowPeriod int `yaml:"slow_period"`
	// CashFraction is the share of available cash deployed on a buy signal.
	CashFraction float64 `yaml:"cash_fraction"`
}

// SMACrossStrategy buys when the fast moving average crosses above the slow
// one and exits the position on the opposite cross. Long only.
type SMACrossStrategy struct {
	config SMACrossConfig
}

// NewSMACrossStrategy creates the strategy with default periods.
func NewSMACrossStrategy() *SMACrossStrategy {
	return &SMACrossStrategy{
		config: SMACrossConfig{
			FastPeriod:   10,
			SlowPeriod:   30,
			CashFraction: 0.95,
		},
	}
}

// Name implements Runtime.
func (s *SMACrossStrategy) Name() string {
	return StrategyNameSMACross
}

// Initialize implements Runtime. An empty config keeps the defaults.
func (s *SMACrossStrategy) Initialize(config string) error {
	if config == "" {
		return nil
	}

	if err := yaml.Unmarshal([]byte(config), &s.config); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "failed to parse sma_cross config", err)
	}

	if s.config.FastPeriod <= 0 || s.config.SlowPeriod <= s.config.FastPeriod {
		return errors.Newf(errors.ErrCodeStrategyConfigError,
			"require 0 < fast_period < slow_period, got %d and %d", s.config.FastPeriod, s.config.SlowPeriod)
	}

	if s.config.CashFraction <= 0 || s.config.CashFraction > 1 {
		return errors.Newf(errors.ErrCodeStrategyConfigError,
			"cash_fraction must be in (0, 1]: %f", s.config.CashFraction)
	}

	return nil
}

// OnTick implements Runtime.
func (s *SMACrossStrategy) OnTick(_ context.Context, tick *TickContext) ([]Action, error) {
	var actions []Action

	for _, symbol := range tick.Tick.Symbols() {
		bars := tick.Bars(symbol)

		fast, err := indicator.SMASeries(bars, s.config.FastPeriod, 2)
		if err != nil {
			// Still warming up.
			continue
		}

		slow, err := indicator.SMASeries(bars, s.config.SlowPeriod, 2)
		if err != nil {
			continue
		}

		direction, err := indicator.CrossDirection(fast, slow)
		if err != nil {
			continue
		}

		if direction == 0 {
			continue
		}

		position := tick.Portfolio.Position(symbol)
		bar, _ := tick.Tick.Bar(symbol)

		switch {
		case direction > 0 && position.Quantity == 0:
			quantity := sizeForCash(tick.Portfolio.Cash, bar.Close, s.config.CashFraction)
			if quantity <= 0 {
				continue
			}

			tick.Logger.Debug("SMA cross buy signal",
				zap.String("symbol", symbol),
				zap.Float64("fast", fast[1]),
				zap.Float64("slow", slow[1]),
				zap.Float64("quantity", quantity),
			)

			actions = append(actions, PlaceOrder(types.OrderIntent{
				Symbol:       symbol,
				Side:         types.SideBuy,
				OrderType:    types.OrderTypeMarket,
				Quantity:     quantity,
				StrategyName: s.Name(),
			}))

		case direction < 0 && position.Quantity > 0:
			tick.Logger.Debug("SMA cross exit signal",
				zap.String("symbol", symbol),
				zap.Float64("fast", fast[1]),
				zap.Float64("slow", slow[1]),
			)

			actions = append(actions, PlaceOrder(types.OrderIntent{
				Symbol:       symbol,
				Side:         types.SideSell,
				OrderType:    types.OrderTypeMarket,
				Quantity:     position.Quantity,
				StrategyName: s.Name(),
			}))
		}
	}

	return actions, nil
}

// sizeForCash returns the whole number of shares purchasable with the given
// fraction of cash at the given price.
func sizeForCash(cash, price, fraction float64) float64 {
	if price <= 0 {
		return 0
	}

	return math.Floor(cash * fraction / price)
}
