package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-dev/ibacktest/internal/broker"
	"github.com/tradeforge-dev/ibacktest/internal/feed"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/strategy"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"gopkg.in/yaml.v3"
)

// scriptedStrategy emits pre-planned actions at given tick indices and
// records what the engine showed it.
type scriptedStrategy struct {
	actions   map[int][]strategy.Action
	errOn     map[int]error
	panicOn   int
	snapshots []types.PortfolioSnapshot
	pending   map[int][]types.Order
	windows   map[int][]types.Bar
	// tamper runs after recording, standing in for a strategy that mutates
	// the context it was handed.
	tamper func(*strategy.TickContext)
}

func newScriptedStrategy() *scriptedStrategy {
	return &scriptedStrategy{
		actions: make(map[int][]strategy.Action),
		errOn:   make(map[int]error),
		panicOn: -1,
		pending: make(map[int][]types.Order),
		windows: make(map[int][]types.Bar),
	}
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Initialize(string) error { return nil }

func (s *scriptedStrategy) OnTick(_ context.Context, tick *strategy.TickContext) ([]strategy.Action, error) {
	s.snapshots = append(s.snapshots, tick.Portfolio)
	s.pending[tick.Tick.Index] = tick.PendingOrders
	s.windows[tick.Tick.Index] = append([]types.Bar(nil), tick.Bars("AAPL")...)

	if s.tamper != nil {
		s.tamper(tick)
	}

	if tick.Tick.Index == s.panicOn {
		panic("scripted panic")
	}

	if err, ok := s.errOn[tick.Tick.Index]; ok {
		return nil, err
	}

	return s.actions[tick.Tick.Index], nil
}

type EngineTestSuite struct {
	suite.Suite
	start time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
}

func (s *EngineTestSuite) bars(specs ...[4]float64) []types.Bar {
	bars := make([]types.Bar, 0, len(specs))

	for i, spec := range specs {
		bars = append(bars, types.Bar{
			Symbol: "AAPL",
			Time:   s.start.Add(time.Duration(i) * time.Minute),
			Open:   spec[0],
			High:   spec[1],
			Low:    spec[2],
			Close:  spec[3],
			Volume: 10000,
		})
	}

	return bars
}

// run wires a scripted strategy to a memory feed and executes the backtest.
func (s *EngineTestSuite) run(config string, scripted *scriptedStrategy, bars []types.Bar) (string, error) {
	results := s.T().TempDir()

	backtest := NewBacktest()
	s.Require().NoError(backtest.Initialize(config))
	backtest.SetLogger(logger.NewNopLogger())
	backtest.SetFeed(feed.NewMemoryFeed(bars))
	backtest.SetResultsFolder(results)
	s.Require().NoError(backtest.LoadStrategy(scripted, ""))

	return results, backtest.Run(context.Background(), optional.None[OnTickCallback]())
}

func buyMarket(quantity float64) strategy.Action {
	return strategy.PlaceOrder(types.OrderIntent{
		Symbol:    "AAPL",
		Side:      types.SideBuy,
		OrderType: types.OrderTypeMarket,
		Quantity:  quantity,
	})
}

func (s *EngineTestSuite) readStats(results string) []types.RunStats {
	data, err := os.ReadFile(filepath.Join(results, "stats.yaml"))
	s.Require().NoError(err)

	var stats []types.RunStats
	s.Require().NoError(yaml.Unmarshal(data, &stats))

	return stats
}

func (s *EngineTestSuite) TestNextBarOpenFillScenario() {
	scripted := newScriptedStrategy()
	scripted.actions[0] = []strategy.Action{buyMarket(50)}

	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{103, 108, 101, 107},
	)

	results, err := s.run("initial_cash: 10000\nfill_policy: next_bar_open", scripted, bars)
	s.Require().NoError(err)

	s.Require().Len(scripted.snapshots, 2)

	// No fill on the submission tick.
	s.Assert().Empty(scripted.snapshots[0].Positions)
	s.Assert().InDelta(10000, scripted.snapshots[0].Cash, 1e-9)

	// Fill at the next bar's open of 103.
	position := scripted.snapshots[1].Position("AAPL")
	s.Assert().InDelta(50, position.Quantity, 1e-9)
	s.Assert().InDelta(103, position.AvgCost, 1e-9)
	s.Assert().InDelta(10000-50*103, scripted.snapshots[1].Cash, 1e-9)

	stats := s.readStats(results)
	s.Require().Len(stats, 1)
	s.Assert().Equal(1, stats[0].TradeResult.NumberOfTrades)
}

func (s *EngineTestSuite) TestFinalTickBoundary() {
	singleBar := [4]float64{100, 105, 95, 102}

	s.Run("same_bar_open fills on the final tick", func() {
		scripted := newScriptedStrategy()
		scripted.actions[0] = []strategy.Action{buyMarket(10)}

		results, err := s.run("initial_cash: 10000\nfill_policy: same_bar_open", scripted, s.bars(singleBar))
		s.Require().NoError(err)

		stats := s.readStats(results)
		s.Require().Len(stats, 1)
		s.Assert().Equal(1, stats[0].TradeResult.NumberOfTrades)
	})

	s.Run("next_bar_open stays permanently unfilled", func() {
		scripted := newScriptedStrategy()
		scripted.actions[0] = []strategy.Action{buyMarket(10)}

		results, err := s.run("initial_cash: 10000\nfill_policy: next_bar_open", scripted, s.bars(singleBar))
		s.Require().NoError(err)

		s.Assert().Empty(s.readStats(results))
	})
}

func (s *EngineTestSuite) TestLimitNeverReachedExpiresByTimeInForce() {
	scripted := newScriptedStrategy()
	scripted.actions[0] = []strategy.Action{
		strategy.PlaceOrder(types.OrderIntent{
			Symbol:       "AAPL",
			Side:         types.SideBuy,
			OrderType:    types.OrderTypeLimit,
			Quantity:     10,
			LimitPrice:   optional.Some(98.0),
			GoodForTicks: 2,
		}),
	}

	// Lows of 99 never reach the 98 limit.
	bar := [4]float64{100, 104, 99, 103}
	_, err := s.run("initial_cash: 10000", scripted, s.bars(bar, bar, bar, bar, bar))
	s.Require().NoError(err)

	// Pending through its time-in-force window, gone after expiry.
	s.Assert().Len(scripted.pending[1], 1)
	s.Assert().Len(scripted.pending[2], 1)
	s.Assert().Empty(scripted.pending[3])
	s.Assert().Empty(scripted.pending[4])

	// Never filled: cash untouched.
	final := scripted.snapshots[len(scripted.snapshots)-1]
	s.Assert().InDelta(10000, final.Cash, 1e-9)
	s.Assert().Empty(final.Positions)
}

func (s *EngineTestSuite) TestLookbackSurvivesStrategyMutation() {
	scripted := newScriptedStrategy()
	scripted.tamper = func(tick *strategy.TickContext) {
		if window := tick.Bars("AAPL"); len(window) > 0 {
			window[0].Close = -1
		}

		delete(tick.Lookback, "AAPL")
	}

	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{103, 108, 101, 107},
	)

	_, err := s.run("initial_cash: 10000", scripted, bars)
	s.Require().NoError(err)

	// The engine's window is intact on the next tick despite the deletion
	// and in-place edit: both bars present, the first unmodified.
	s.Require().Len(scripted.windows[1], 2)
	s.Assert().InDelta(102, scripted.windows[1][0].Close, 1e-9)
	s.Assert().InDelta(107, scripted.windows[1][1].Close, 1e-9)
}

func (s *EngineTestSuite) TestUnknownInstrumentOrderSkipped() {
	scripted := newScriptedStrategy()
	scripted.actions[0] = []strategy.Action{
		strategy.PlaceOrder(types.OrderIntent{
			Symbol:    "TSLA",
			Side:      types.SideBuy,
			OrderType: types.OrderTypeMarket,
			Quantity:  10,
		}),
		buyMarket(10),
	}

	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{103, 108, 101, 107},
	)

	_, err := s.run("initial_cash: 10000", scripted, bars)
	s.Require().NoError(err)

	// The feed only carries AAPL: the TSLA intent never entered the book,
	// while the AAPL order filled at the next open.
	s.Assert().Empty(scripted.pending[1])
	s.Assert().InDelta(10, scripted.snapshots[1].Position("AAPL").Quantity, 1e-9)
	s.Assert().Zero(scripted.snapshots[1].Position("TSLA").Quantity)
}

func (s *EngineTestSuite) TestEmptyFeedFailsRun() {
	backtest := NewBacktest()
	s.Require().NoError(backtest.Initialize("initial_cash: 10000"))
	backtest.SetLogger(logger.NewNopLogger())
	backtest.SetFeed(feed.NewMemoryFeed(nil))
	backtest.SetResultsFolder(s.T().TempDir())
	s.Require().NoError(backtest.LoadStrategy(newScriptedStrategy(), ""))

	err := backtest.Run(context.Background(), optional.None[OnTickCallback]())
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeFeedNoData))
}

func (s *EngineTestSuite) TestCancelAllOrders() {
	limitBuy := func(limit float64) strategy.Action {
		return strategy.PlaceOrder(types.OrderIntent{
			Symbol:     "AAPL",
			Side:       types.SideBuy,
			OrderType:  types.OrderTypeLimit,
			Quantity:   5,
			LimitPrice: optional.Some(limit),
		})
	}

	scripted := newScriptedStrategy()
	scripted.actions[0] = []strategy.Action{limitBuy(90), limitBuy(91)}
	scripted.actions[1] = []strategy.Action{strategy.CancelAllOrders()}

	// Lows of 99 keep both limits out of reach.
	bar := [4]float64{100, 104, 99, 103}
	_, err := s.run("initial_cash: 10000", scripted, s.bars(bar, bar, bar))
	s.Require().NoError(err)

	s.Assert().Len(scripted.pending[1], 2)
	s.Assert().Empty(scripted.pending[2])
}

func (s *EngineTestSuite) TestInsufficientFundsLeavesLedgerUntouched() {
	scripted := newScriptedStrategy()
	scripted.actions[0] = []strategy.Action{buyMarket(50)}

	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{103, 108, 101, 107},
	)

	results, err := s.run("initial_cash: 1000\nfill_policy: next_bar_open", scripted, bars)
	s.Require().NoError(err)

	s.Assert().InDelta(1000, scripted.snapshots[1].Cash, 1e-9)
	s.Assert().Empty(scripted.snapshots[1].Positions)
	s.Assert().Empty(s.readStats(results))
}

func (s *EngineTestSuite) TestDeterministicReplay() {
	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{103, 108, 101, 107},
		[4]float64{106, 110, 104, 105},
		[4]float64{104, 106, 100, 101},
		[4]float64{101, 103, 97, 98},
	)

	runOnce := func() *scriptedStrategy {
		scripted := newScriptedStrategy()
		scripted.actions[0] = []strategy.Action{buyMarket(30)}
		scripted.actions[2] = []strategy.Action{
			strategy.PlaceOrder(types.OrderIntent{
				Symbol:    "AAPL",
				Side:      types.SideSell,
				OrderType: types.OrderTypeStop,
				Quantity:  30,
				StopPrice: optional.Some(100.0),
			}),
		}

		_, err := s.run("initial_cash: 10000\nfill_policy: next_bar_open", scripted, bars)
		s.Require().NoError(err)

		return scripted
	}

	first := runOnce()
	second := runOnce()
	s.Assert().Equal(first.snapshots, second.snapshots)
	// Pending orders carry IDs: the replay must reproduce them byte for byte.
	s.Assert().Equal(first.pending, second.pending)
}

func (s *EngineTestSuite) TestStrategyErrorHandling() {
	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{103, 108, 101, 107},
	)

	s.Run("strict mode aborts the run", func() {
		scripted := newScriptedStrategy()
		scripted.errOn[0] = errors.New(errors.ErrCodeStrategyError, "boom")

		_, err := s.run("initial_cash: 10000\nstrict: true", scripted, bars)
		s.Require().Error(err)
		s.Assert().True(errors.HasCode(err, errors.ErrCodeStrategyError))
	})

	s.Run("default mode skips the failing tick", func() {
		scripted := newScriptedStrategy()
		scripted.errOn[0] = errors.New(errors.ErrCodeStrategyError, "boom")
		scripted.actions[1] = []strategy.Action{buyMarket(10)}

		_, err := s.run("initial_cash: 10000", scripted, bars)
		s.Require().NoError(err)
		s.Require().Len(scripted.snapshots, 2)
	})

	s.Run("panic is contained", func() {
		scripted := newScriptedStrategy()
		scripted.panicOn = 0

		_, err := s.run("initial_cash: 10000", scripted, bars)
		s.Require().NoError(err)
	})
}

func (s *EngineTestSuite) TestInvalidOrderSkippedRunContinues() {
	scripted := newScriptedStrategy()
	scripted.actions[0] = []strategy.Action{
		strategy.PlaceOrder(types.OrderIntent{Symbol: "AAPL", Side: types.SideBuy, OrderType: types.OrderTypeMarket}),
		buyMarket(10),
	}

	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{103, 108, 101, 107},
	)

	_, err := s.run("initial_cash: 10000", scripted, bars)
	s.Require().NoError(err)

	// The zero-quantity intent never entered the book; the valid one filled.
	position := scripted.snapshots[1].Position("AAPL")
	s.Assert().InDelta(10, position.Quantity, 1e-9)
}

func (s *EngineTestSuite) TestCancellationBetweenTicks() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backtest := NewBacktest()
	s.Require().NoError(backtest.Initialize("initial_cash: 10000"))
	backtest.SetLogger(logger.NewNopLogger())
	backtest.SetFeed(feed.NewMemoryFeed(s.bars([4]float64{100, 105, 95, 102})))
	backtest.SetResultsFolder(s.T().TempDir())
	s.Require().NoError(backtest.LoadStrategy(newScriptedStrategy(), ""))

	err := backtest.Run(ctx, optional.None[OnTickCallback]())
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeRunAborted))
}

func (s *EngineTestSuite) TestPreRunChecks() {
	scripted := newScriptedStrategy()

	s.Run("missing strategy", func() {
		backtest := NewBacktest()
		backtest.SetFeed(feed.NewMemoryFeed(nil))
		backtest.SetResultsFolder(s.T().TempDir())

		err := backtest.Run(context.Background(), optional.None[OnTickCallback]())
		s.Assert().True(errors.HasCode(err, errors.ErrCodeRunNoStrategy))
	})

	s.Run("missing feed", func() {
		backtest := NewBacktest()
		s.Require().NoError(backtest.LoadStrategy(scripted, ""))
		backtest.SetResultsFolder(s.T().TempDir())

		err := backtest.Run(context.Background(), optional.None[OnTickCallback]())
		s.Assert().True(errors.HasCode(err, errors.ErrCodeRunNoFeed))
	})

	s.Run("missing results folder", func() {
		backtest := NewBacktest()
		s.Require().NoError(backtest.LoadStrategy(scripted, ""))
		backtest.SetFeed(feed.NewMemoryFeed(nil))

		err := backtest.Run(context.Background(), optional.None[OnTickCallback]())
		s.Assert().True(errors.HasCode(err, errors.ErrCodeRunNoResultsDir))
	})
}

func (s *EngineTestSuite) TestBrokerReconciliationReport() {
	scripted := newScriptedStrategy()
	scripted.actions[0] = []strategy.Action{
		strategy.PlaceOrder(types.OrderIntent{
			Symbol:     "AAPL",
			Side:       types.SideBuy,
			OrderType:  types.OrderTypeLimit,
			Quantity:   10,
			LimitPrice: optional.Some(103.0),
		}),
	}

	bars := s.bars(
		[4]float64{100, 105, 95, 102},
		[4]float64{104, 108, 101, 107},
	)

	results := s.T().TempDir()
	adapter := broker.NewMemoryAdapter(0.5)

	backtest := NewBacktest()
	s.Require().NoError(backtest.Initialize("initial_cash: 10000\nfill_policy: next_bar_open"))
	backtest.SetLogger(logger.NewNopLogger())
	backtest.SetFeed(feed.NewMemoryFeed(bars))
	backtest.SetResultsFolder(results)
	backtest.SetBrokerAdapter(adapter)
	s.Require().NoError(backtest.LoadStrategy(scripted, ""))

	s.Require().NoError(backtest.Run(context.Background(), optional.None[OnTickCallback]()))

	data, err := os.ReadFile(filepath.Join(results, "reconciliation.yaml"))
	s.Require().NoError(err)

	var entries []broker.Entry
	s.Require().NoError(yaml.Unmarshal(data, &entries))
	s.Require().Len(entries, 1)

	entry := entries[0]
	s.Assert().Equal(broker.StatusReconciled, entry.Status)
	s.Assert().InDelta(103, entry.SimulatedFillPrice, 1e-9)
	s.Require().NotNil(entry.LiveFillPrice)
	s.Assert().InDelta(103.5, *entry.LiveFillPrice, 1e-9)
	// 0.5 on 103 in basis points.
	s.Assert().InDelta(0.5/103*10000, entry.DivergenceBp, 1e-6)
}
