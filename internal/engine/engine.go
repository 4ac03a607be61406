package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/internal/broker"
	"github.com/tradeforge-dev/ibacktest/internal/engine/commission"
	"github.com/tradeforge-dev/ibacktest/internal/feed"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/strategy"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// OnTickCallback reports progress after each processed bar.
type OnTickCallback func(current int, total int)

// Backtest orchestrates one run: it owns the clock, book, ledger and history
// for that run and drives them through the tick loop. Each run owns its own
// instance; parallel parameter sweeps run fully isolated Backtests.
type Backtest struct {
	config         RunConfig
	log            *logger.Logger
	runtime        strategy.Runtime
	strategyConfig string
	barFeed        feed.BarFeed
	adapter        broker.Adapter
	resultsFolder  string
}

// NewBacktest creates an engine with default configuration. Callers must
// Initialize it, load a strategy and set a feed before Run.
func NewBacktest() *Backtest {
	return &Backtest{
		config: DefaultConfig(),
		log:    logger.NewNopLogger(),
	}
}

// Initialize parses and validates the run configuration.
func (b *Backtest) Initialize(config string) error {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(config), &cfg); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse run config", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	b.config = cfg

	log, err := logger.NewLogger()
	if err != nil {
		return err
	}

	b.log = log
	b.log.Debug("Backtest engine initialized", zap.String("config", config))

	return nil
}

// SetLogger overrides the run logger. Tests use a nop logger.
func (b *Backtest) SetLogger(log *logger.Logger) {
	b.log = log
}

// LoadStrategy binds the strategy and its raw config to the run.
func (b *Backtest) LoadStrategy(runtime strategy.Runtime, config string) error {
	if runtime == nil {
		return errors.New(errors.ErrCodeRunNoStrategy, "strategy runtime is nil")
	}

	b.runtime = runtime
	b.strategyConfig = config
	b.log.Debug("Strategy loaded", zap.String("strategy", runtime.Name()))

	return nil
}

// SetFeed binds the bar feed to the run.
func (b *Backtest) SetFeed(barFeed feed.BarFeed) {
	b.barFeed = barFeed
}

// SetBrokerAdapter enables reconciliation mode: admitted orders are mirrored
// to the adapter and its fills are compared against simulated execution. The
// adapter never writes to the ledger.
func (b *Backtest) SetBrokerAdapter(adapter broker.Adapter) {
	b.adapter = adapter
}

// SetResultsFolder sets the directory run results are written to.
func (b *Backtest) SetResultsFolder(folder string) {
	b.resultsFolder = folder
}

// GetConfigSchema returns the JSON schema of the run configuration.
func (b *Backtest) GetConfigSchema() (string, error) {
	return b.config.GenerateSchemaJSON()
}

func (b *Backtest) preRunCheck() error {
	if b.runtime == nil {
		return errors.New(errors.ErrCodeRunNoStrategy, "no strategy loaded")
	}

	if b.barFeed == nil {
		return errors.New(errors.ErrCodeRunNoFeed, "no bar feed set")
	}

	if b.resultsFolder == "" {
		return errors.New(errors.ErrCodeRunNoResultsDir, "no results folder set")
	}

	return nil
}

// Run executes the backtest until the feed is exhausted or the context is
// cancelled. Cancellation is honored between ticks only, leaving the ledger
// in the last fully consistent post-tick state.
func (b *Backtest) Run(ctx context.Context, onTick optional.Option[OnTickCallback]) error {
	if err := b.preRunCheck(); err != nil {
		return err
	}

	if err := b.runtime.Initialize(b.strategyConfig); err != nil {
		return err
	}

	if err := b.barFeed.SetWindow(b.config.StartTime, b.config.EndTime); err != nil {
		return err
	}

	total, err := b.barFeed.Count()
	if err != nil {
		return err
	}

	if total == 0 {
		return errors.New(errors.ErrCodeFeedNoData, "bar feed contains no bars in the run window")
	}

	universe, err := b.barFeed.Symbols()
	if err != nil {
		return err
	}

	ledger := NewLedger(b.config.InitialCash, b.config.MarginEnabled, b.log)

	model := commission.GetModel(b.config.Commission.Model, b.config.Commission.Params)
	book := NewOrderBook(ledger, model, b.config.LiquidityCapRatio, universe, b.log)
	clock := NewSimulationClock(b.barFeed)

	history, err := NewHistoryStore(b.log)
	if err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to open history store", err)
	}
	defer history.Close()

	if err := history.Initialize(); err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to initialize history store", err)
	}

	var reconciler *broker.Reconciler
	if b.adapter != nil {
		reconciler = broker.NewReconciler(b.config.BrokerAckTimeout, b.log)
	}

	lookback := make(map[string][]types.Bar)
	processed := 0

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeRunAborted, "run cancelled between ticks", ctx.Err())
		default:
		}

		tick, err := clock.Advance()
		if err != nil {
			if feed.IsExhausted(err) {
				break
			}

			return err
		}

		// Phase 1: orders carried from previous ticks resolve against this
		// tick's bars; expired time-in-force orders drop out.
		events, err := book.Resolve(tick)
		if err != nil {
			return err
		}

		b.extendLookback(lookback, tick)

		// Phase 2: the strategy sees the post-fill snapshot and emits
		// actions. Strategy failures cost the tick, not the run, unless
		// strict mode is on.
		tickCtx := &strategy.TickContext{
			Tick:          tick,
			Lookback:      cloneLookback(lookback),
			Portfolio:     ledger.Snapshot(tick.Index, tick.Time),
			PendingOrders: book.PendingOrders(),
			Logger:        b.log,
		}

		actions, err := b.invokeStrategy(ctx, tickCtx)
		if err != nil {
			if b.config.Strict {
				return errors.Wrapf(errors.ErrCodeStrategyError, err, "strategy failed on tick %d in strict mode", tick.Index)
			}

			b.log.Warn("Strategy failed, skipping tick",
				zap.Int("tick", tick.Index),
				zap.Error(err),
			)

			actions = nil
		}

		if err := b.absorbActions(ctx, book, history, reconciler, tick, actions); err != nil {
			return err
		}

		// Phase 3: under same-bar-open semantics, orders submitted this tick
		// match against this tick's own bar.
		if b.config.FillPolicy == FillPolicySameBarOpen {
			submitted, err := book.ResolveSubmitted(tick)
			if err != nil {
				return err
			}

			events = append(events, submitted...)
		}

		// Phase 4: mark once per tick, after all fills, then verify the
		// accounting identity. A violation is a matching/ledger bug and
		// aborts the run.
		ledger.MarkToMarket(tick)

		if err := ledger.CheckInvariant(); err != nil {
			return err
		}

		for _, event := range events {
			if err := history.RecordFill(event); err != nil {
				return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record fill", err)
			}

			if order := book.Order(event.Fill.OrderID); order.IsSome() {
				if err := history.RecordOrder(order.Unwrap()); err != nil {
					return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record order state", err)
				}
			}

			if reconciler != nil {
				reconciler.RecordSimulated(event.Fill)
			}
		}

		if err := history.RecordEquity(ledger.Snapshot(tick.Index, tick.Time)); err != nil {
			return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record equity", err)
		}

		// Phase 5: drain live broker fills at the tick boundary, never
		// mid-tick.
		if reconciler != nil {
			drainLiveFills(b.adapter, reconciler)
		}

		processed += len(tick.Bars)

		if onTick.IsSome() {
			onTick.Unwrap()(processed, total)
		}
	}

	// The feed ended: remaining pending orders can never fill.
	book.CancelAll(types.Reason{Reason: types.OrderReasonFeedEnded, Message: "feed exhausted"})

	for _, order := range book.Orders() {
		if err := history.RecordOrder(order); err != nil {
			return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record final order state", err)
		}
	}

	return b.writeResults(ledger, history, reconciler, clock)
}

// invokeStrategy calls the strategy callback, converting panics into errors
// so a misbehaving strategy cannot crash the run.
func (b *Backtest) invokeStrategy(ctx context.Context, tickCtx *strategy.TickContext) (actions []strategy.Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			actions = nil
			err = errors.Newf(errors.ErrCodeStrategyError, "strategy panicked: %v", r)
		}
	}()

	return b.runtime.OnTick(ctx, tickCtx)
}

// absorbActions admits the strategy's actions into the book. An invalid
// order is reported and skipped; the run continues.
func (b *Backtest) absorbActions(ctx context.Context, book *OrderBook, history *HistoryStore, reconciler *broker.Reconciler, tick types.Tick, actions []strategy.Action) error {
	for _, action := range actions {
		switch action.Type {
		case strategy.ActionTypePlaceOrder:
			order, err := book.Submit(action.Intent, tick.Index, tick.Time)
			if err != nil {
				b.log.Warn("Order rejected at submission",
					zap.Int("tick", tick.Index),
					zap.String("symbol", action.Intent.Symbol),
					zap.Error(err),
				)

				continue
			}

			if err := history.RecordOrder(order); err != nil {
				return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record order", err)
			}

			if b.adapter != nil {
				reconciler.TrackOrder(order)

				if err := b.adapter.SubmitOrder(ctx, order); err != nil {
					// Reconciliation-only path: the entry stays unresolved.
					b.log.Warn("Failed to mirror order to broker",
						zap.String("order_id", order.ID),
						zap.Error(err),
					)
				}
			}

		case strategy.ActionTypeCancelOrder:
			reason := types.Reason{Reason: types.OrderReasonUserCancel, Message: "cancelled by strategy"}
			if !book.Cancel(action.CancelOrderID, reason) {
				b.log.Warn("Cancel for unknown or terminal order",
					zap.String("order_id", action.CancelOrderID),
				)

				continue
			}

			if order := book.Order(action.CancelOrderID); order.IsSome() {
				if err := history.RecordOrder(order.Unwrap()); err != nil {
					return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record cancelled order", err)
				}
			}

		case strategy.ActionTypeCancelAllOrders:
			cancelled := book.PendingOrders()
			book.CancelAll(types.Reason{Reason: types.OrderReasonUserCancel, Message: "cancelled by strategy"})

			for _, pending := range cancelled {
				if order := book.Order(pending.ID); order.IsSome() {
					if err := history.RecordOrder(order.Unwrap()); err != nil {
						return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to record cancelled order", err)
					}
				}
			}
		}
	}

	return nil
}

// extendLookback appends the tick's bars and trims each window to the
// configured number of prior bars plus the current one.
func (b *Backtest) extendLookback(lookback map[string][]types.Bar, tick types.Tick) {
	limit := b.config.LookbackWindow + 1

	for symbol, bar := range tick.Bars {
		window := append(lookback[symbol], bar)
		if len(window) > limit {
			window = window[len(window)-limit:]
		}

		lookback[symbol] = window
	}
}

// cloneLookback deep-copies the lookback windows. The strategy owns the copy
// outright; mutating or deleting entries cannot reach the engine's history.
func cloneLookback(lookback map[string][]types.Bar) map[string][]types.Bar {
	cloned := make(map[string][]types.Bar, len(lookback))

	for symbol, window := range lookback {
		bars := make([]types.Bar, len(window))
		copy(bars, window)
		cloned[symbol] = bars
	}

	return cloned
}

// drainLiveFills empties the adapter's fill queue without blocking.
func drainLiveFills(adapter broker.Adapter, reconciler *broker.Reconciler) {
	for {
		select {
		case fill, ok := <-adapter.Fills():
			if !ok {
				return
			}

			reconciler.ObserveLive(fill)
		default:
			return
		}
	}
}

func (b *Backtest) writeResults(ledger *Ledger, history *HistoryStore, reconciler *broker.Reconciler, clock *SimulationClock) error {
	if err := os.MkdirAll(b.resultsFolder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeRunNoResultsDir, "failed to create results folder", err)
	}

	stats, err := history.Stats(uuid.New().String(), time.Now().UTC(), ledger.UnrealizedBySymbol())
	if err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to compute run stats", err)
	}

	if err := types.WriteRunStats(filepath.Join(b.resultsFolder, "stats.yaml"), stats); err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to write stats", err)
	}

	if err := history.Write(b.resultsFolder); err != nil {
		return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to write history", err)
	}

	if reconciler != nil {
		// One final drain catches fills that arrived after the last tick.
		drainLiveFills(b.adapter, reconciler)

		entries := reconciler.Report(time.Now().UTC())
		if err := broker.WriteReport(filepath.Join(b.resultsFolder, "reconciliation.yaml"), entries); err != nil {
			return errors.Wrap(errors.ErrCodeHistoryFailed, "failed to write reconciliation report", err)
		}

		b.log.Info("Reconciliation report written",
			zap.Int("orders", len(entries)),
			zap.Float64("max_divergence_bp", broker.MaxAbsDivergenceBp(entries)),
		)
	}

	b.log.Info("Backtest run complete",
		zap.Int("ticks", clock.TickIndex()),
		zap.String("results", b.resultsFolder),
	)

	return nil
}
