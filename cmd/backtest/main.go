package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/tradeforge-dev/ibacktest/internal/broker"
	"github.com/tradeforge-dev/ibacktest/internal/engine"
	"github.com/tradeforge-dev/ibacktest/internal/feed"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/strategy"
	"github.com/urfave/cli/v3"
)

// runAction wires a feed, strategy and optional broker adapter into one
// backtest run.
func runAction(ctx context.Context, cmd *cli.Command) error {
	dataPath := cmd.String("data")
	strategyName := cmd.String("strategy")
	strategyConfigPath := cmd.String("strategy-config")
	configPath := cmd.String("config")
	resultsFolder := cmd.String("results")
	brokerURL := cmd.String("broker-url")

	runConfig := ""

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read run config: %w", err)
		}

		runConfig = string(content)
	}

	strategyConfig := ""

	if strategyConfigPath != "" {
		content, err := os.ReadFile(strategyConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read strategy config: %w", err)
		}

		strategyConfig = string(content)
	}

	runtime, err := strategy.NewRuntime(strategyName)
	if err != nil {
		return err
	}

	backtest := engine.NewBacktest()
	if err := backtest.Initialize(runConfig); err != nil {
		return err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	barFeed, err := feed.NewDuckDBFeed(dataPath, log)
	if err != nil {
		return err
	}
	defer barFeed.Close()

	backtest.SetFeed(barFeed)
	backtest.SetResultsFolder(resultsFolder)

	if err := backtest.LoadStrategy(runtime, strategyConfig); err != nil {
		return err
	}

	if brokerURL != "" {
		adapter, err := broker.NewGatewayAdapter(brokerURL, log)
		if err != nil {
			return err
		}
		defer adapter.Close()

		backtest.SetBrokerAdapter(adapter)
	}

	bar := progressbar.Default(1)
	bar.Describe(fmt.Sprintf("Running %s on %s", strategyName, dataPath))

	onTick := engine.OnTickCallback(func(current, total int) {
		bar.ChangeMax(total)
		_ = bar.Set(current)
	})

	if err := backtest.Run(ctx, optional.Some(onTick)); err != nil {
		return err
	}

	_ = bar.Finish()
	fmt.Printf("Results written to %s\n", resultsFolder)

	return nil
}

// schemaAction prints the JSON schema of the run configuration.
func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := engine.NewBacktest().GetConfigSchema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay historical bars through a trading strategy and account for every fill",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run a backtest over a CSV or Parquet bar file",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Path to the bar data file (.csv or .parquet)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "strategy",
						Aliases: []string{"s"},
						Usage:   fmt.Sprintf("Strategy to run (%s, %s)", strategy.StrategyNameSMACross, strategy.StrategyNameMomentumWilliams),
						Value:   strategy.StrategyNameSMACross,
					},
					&cli.StringFlag{
						Name:  "strategy-config",
						Usage: "Path to the strategy's YAML config",
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the run's YAML config",
					},
					&cli.StringFlag{
						Name:    "results",
						Aliases: []string{"r"},
						Usage:   "Directory run results are written to",
						Value:   "results",
					},
					&cli.StringFlag{
						Name:  "broker-url",
						Usage: "Websocket URL of a broker gateway for execution parity checks",
					},
				},
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the run configuration",
				Action: schemaAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
