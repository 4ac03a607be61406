package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TradeResult struct {
	// Count of all realized (closing) fills.
	NumberOfTrades int `yaml:"number_of_trades"`
	// Count of closing fills with positive pnl.
	NumberOfWinningTrades int `yaml:"number_of_winning_trades"`
	// Count of closing fills with negative pnl.
	NumberOfLosingTrades int `yaml:"number_of_losing_trades"`
	// Win rate.
	WinRate float64 `yaml:"win_rate"`
	// Maximum single-trade loss, reported as a positive number.
	MaxDrawdown float64 `yaml:"max_drawdown"`
}

type TradePnl struct {
	RealizedPnL   float64 `yaml:"realized_pnl"`
	UnrealizedPnL float64 `yaml:"unrealized_pnl"`
	TotalPnL      float64 `yaml:"total_pnl"`
	MaximumLoss   float64 `yaml:"maximum_loss"`
	MaximumProfit float64 `yaml:"maximum_profit"`
}

// RunStats is the per-symbol summary of one backtest run.
type RunStats struct {
	// ID is the unique identifier for this backtest run.
	ID string `yaml:"id"`
	// Timestamp is when this backtest run was executed.
	Timestamp    time.Time   `yaml:"timestamp"`
	StrategyName string      `yaml:"strategy_name"`
	Symbol       string      `yaml:"symbol"`
	TradeResult  TradeResult `yaml:"trade_result"`
	TradePnl     TradePnl    `yaml:"trade_pnl"`
	// TotalCommissions is the cumulative commissions charged for the symbol.
	TotalCommissions float64 `yaml:"total_commissions"`
}

// WriteRunStats writes run statistics to the given path as YAML.
func WriteRunStats(path string, stats []RunStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run stats to file: %w", err)
	}

	return nil
}
