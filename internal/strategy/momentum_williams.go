package strategy

import (
	"context"

	"github.com/tradeforge-dev/ibacktest/internal/indicator"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const StrategyNameMomentumWilliams = "momentum_williams"

// MomentumWilliamsConfig configures the momentum oscillator / Williams %R
// strategy.
type MomentumWilliamsConfig struct {
	MomentumPeriod   int `yaml:"momentum_period"`
	MomentumMAPeriod int `yaml:"momentum_ma_period"`
	WilliamsPeriod   int `yaml:"williams_period"`
	// WilliamsUpper and WilliamsLower gate the sell and buy signals. Williams
	// %R lives in [-100, 0], so upper > lower.
	WilliamsUpper float64 `yaml:"williams_upper"`
	WilliamsLower float64 `yaml:"williams_lower"`
	// StopLoss exits when the close falls this fraction below the average
	// cost. TakeProfit exits on the same fraction above it.
	StopLoss     float64 `yaml:"stop_loss"`
	TakeProfit   float64 `yaml:"take_profit"`
	CashFraction float64 `yaml:"cash_fraction"`
}

// MomentumWilliamsStrategy enters long when the momentum oscillator crosses
// above its own moving average while Williams %R shows an oversold market,
// and exits on the opposite cross in overbought territory or on a stop-loss
// or take-profit breach. Long only.
type MomentumWilliamsStrategy struct {
	config MomentumWilliamsConfig
}

// NewMomentumWilliamsStrategy creates the strategy with default parameters.
func NewMomentumWilliamsStrategy() *MomentumWilliamsStrategy {
	return &MomentumWilliamsStrategy{
		config: MomentumWilliamsConfig{
			MomentumPeriod:   10,
			MomentumMAPeriod: 10,
			WilliamsPeriod:   14,
			WilliamsUpper:    -40,
			WilliamsLower:    -60,
			StopLoss:         0.1,
			TakeProfit:       0.3,
			CashFraction:     0.95,
		},
	}
}

// Name implements Runtime.
func (s *MomentumWilliamsStrategy) Name() string {
	return StrategyNameMomentumWilliams
}

// Initialize implements Runtime. An empty config keeps the defaults.
func (s *MomentumWilliamsStrategy) Initialize(config string) error {
	if config == "" {
		return nil
	}

	if err := yaml.Unmarshal([]byte(config), &s.config); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "failed to parse momentum_williams config", err)
	}

	if s.config.MomentumPeriod <= 0 || s.config.MomentumMAPeriod <= 0 || s.config.WilliamsPeriod <= 0 {
		return errors.Newf(errors.ErrCodeStrategyConfigError,
			"periods must be positive: momentum=%d momentum_ma=%d williams=%d",
			s.config.MomentumPeriod, s.config.MomentumMAPeriod, s.config.WilliamsPeriod)
	}

	if s.config.WilliamsLower >= s.config.WilliamsUpper {
		return errors.Newf(errors.ErrCodeStrategyConfigError,
			"require williams_lower < williams_upper, got %f and %f",
			s.config.WilliamsLower, s.config.WilliamsUpper)
	}

	if s.config.CashFraction <= 0 || s.config.CashFraction > 1 {
		return errors.Newf(errors.ErrCodeStrategyConfigError,
			"cash_fraction must be in (0, 1]: %f", s.config.CashFraction)
	}

	return nil
}

// OnTick implements Runtime.
func (s *MomentumWilliamsStrategy) OnTick(_ context.Context, tick *TickContext) ([]Action, error) {
	var actions []Action

	for _, symbol := range tick.Tick.Symbols() {
		bars := tick.Bars(symbol)
		position := tick.Portfolio.Position(symbol)
		bar, _ := tick.Tick.Bar(symbol)

		// Protective exits take priority over entry signals.
		if exit := s.protectiveExit(tick, position, bar); exit != nil {
			actions = append(actions, *exit)

			continue
		}

		// Momentum oscillator against its own moving average; the last two
		// values of each series decide the cross.
		momentum, err := indicator.MomentumSeries(bars, s.config.MomentumPeriod, s.config.MomentumMAPeriod+1)
		if err != nil {
			continue
		}

		momentumMA, err := indicator.MeanSeries(momentum, s.config.MomentumMAPeriod, 2)
		if err != nil {
			continue
		}

		direction, err := indicator.CrossDirection(momentum[len(momentum)-2:], momentumMA)
		if err != nil {
			continue
		}

		if direction == 0 {
			continue
		}

		williams, err := indicator.WilliamsR(bars, s.config.WilliamsPeriod)
		if err != nil {
			continue
		}

		switch {
		case direction > 0 && williams <= s.config.WilliamsLower && position.Quantity == 0:
			quantity := sizeForCash(tick.Portfolio.Cash, bar.Close, s.config.CashFraction)
			if quantity <= 0 {
				continue
			}

			tick.Logger.Debug("Momentum buy signal",
				zap.String("symbol", symbol),
				zap.Float64("momentum", momentum[len(momentum)-1]),
				zap.Float64("momentum_ma", momentumMA[1]),
				zap.Float64("williams_r", williams),
			)

			actions = append(actions, PlaceOrder(types.OrderIntent{
				Symbol:       symbol,
				Side:         types.SideBuy,
				OrderType:    types.OrderTypeMarket,
				Quantity:     quantity,
				StrategyName: s.Name(),
			}))

		case direction < 0 && williams >= s.config.WilliamsUpper && position.Quantity > 0:
			tick.Logger.Debug("Momentum exit signal",
				zap.String("symbol", symbol),
				zap.Float64("momentum", momentum[len(momentum)-1]),
				zap.Float64("momentum_ma", momentumMA[1]),
				zap.Float64("williams_r", williams),
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

// protectiveExit returns a closing action when the close breaches the
// stop-loss or take-profit band around the position's average cost.
func (s *MomentumWilliamsStrategy) protectiveExit(tick *TickContext, position types.Position, bar types.Bar) *Action {
	if position.Quantity <= 0 || position.AvgCost <= 0 {
		return nil
	}

	ratio := bar.Close / position.AvgCost

	var trigger string

	switch {
	case s.config.StopLoss > 0 && ratio < 1-s.config.StopLoss:
		trigger = "stop loss"
	case s.config.TakeProfit > 0 && ratio > 1+s.config.TakeProfit:
		trigger = "take profit"
	default:
		return nil
	}

	tick.Logger.Info("Protective exit",
		zap.String("symbol", position.Symbol),
		zap.String("trigger", trigger),
		zap.Float64("close", bar.Close),
		zap.Float64("avg_cost", position.AvgCost),
	)

	action := PlaceOrder(types.OrderIntent{
		Symbol:       position.Symbol,
		Side:         types.SideSell,
		OrderType:    types.OrderTypeMarket,
		Quantity:     position.Quantity,
		StrategyName: s.Name(),
	})

	return &action
}
