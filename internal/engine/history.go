package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"go.uber.org/zap"
)

// HistoryStore is the append-only record of one run: every order transition,
// every fill with its realized P&L, and the per-tick equity curve. Backed by
// an in-memory DuckDB so results can be exported to Parquet at the end of the
// run.
type HistoryStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewHistoryStore opens an in-memory DuckDB-backed store.
func NewHistoryStore(log *logger.Logger) (*HistoryStore, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &HistoryStore{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the orders, fills and equity tables.
func (h *HistoryStore) Initialize() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			seq BIGINT,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			quantity DOUBLE,
			limit_price DOUBLE,
			stop_price DOUBLE,
			good_for_ticks INTEGER,
			submitted_at TIMESTAMP,
			submitted_tick INTEGER,
			status TEXT,
			filled_quantity DOUBLE,
			reason TEXT,
			message TEXT,
			strategy_name TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create orders table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			fill_id TEXT PRIMARY KEY,
			order_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			commission DOUBLE,
			executed_at TIMESTAMP,
			tick_index INTEGER,
			reason TEXT,
			strategy_name TEXT,
			partial BOOLEAN,
			pnl DOUBLE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fills table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE TABLE IF NOT EXISTS equity (
			tick_index INTEGER PRIMARY KEY,
			time TIMESTAMP,
			cash DOUBLE,
			equity DOUBLE,
			realized_pnl DOUBLE,
			unrealized_pnl DOUBLE,
			commissions DOUBLE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create equity table: %w", err)
	}

	return nil
}

// RecordOrder upserts the current state of an order. Called on submission and
// again on every status transition, so the stored row always reflects the
// order's final state.
func (h *HistoryStore) RecordOrder(order types.Order) error {
	var limitPrice, stopPrice interface{}

	if order.LimitPrice.IsSome() {
		limitPrice = order.LimitPrice.Unwrap()
	}

	if order.StopPrice.IsSome() {
		stopPrice = order.StopPrice.Unwrap()
	}

	insertQuery := h.sq.
		Insert("orders").
		Options("OR REPLACE").
		Columns(
			"order_id", "seq", "symbol", "side", "order_type", "quantity",
			"limit_price", "stop_price", "good_for_ticks", "submitted_at",
			"submitted_tick", "status", "filled_quantity", "reason", "message",
			"strategy_name",
		).
		Values(
			order.ID, order.Seq, order.Symbol, order.Side, order.OrderType, order.Quantity,
			limitPrice, stopPrice, order.GoodForTicks, order.SubmittedAt,
			order.SubmittedTick, order.Status, order.FilledQuantity, order.Reason.Reason, order.Reason.Message,
			order.StrategyName,
		).
		RunWith(h.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}

	return nil
}

// RecordFill appends a fill together with the realized P&L it recognized.
func (h *HistoryStore) RecordFill(event FillEvent) error {
	fill := event.Fill

	insertQuery := h.sq.
		Insert("fills").
		Columns(
			"fill_id", "order_id", "symbol", "side", "quantity", "price",
			"commission", "executed_at", "tick_index", "reason",
			"strategy_name", "partial", "pnl",
		).
		Values(
			fill.ID, fill.OrderID, fill.Symbol, fill.Side, fill.Quantity, fill.Price,
			fill.Commission, fill.Time, fill.TickIndex, fill.Reason,
			fill.StrategyName, fill.Partial, event.RealizedPnL,
		).
		RunWith(h.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to record fill: %w", err)
	}

	return nil
}

// RecordEquity appends one point of the per-tick equity curve.
func (h *HistoryStore) RecordEquity(snapshot types.PortfolioSnapshot) error {
	insertQuery := h.sq.
		Insert("equity").
		Columns("tick_index", "time", "cash", "equity", "realized_pnl", "unrealized_pnl", "commissions").
		Values(
			snapshot.TickIndex, snapshot.Time, snapshot.Cash, snapshot.Equity,
			snapshot.RealizedPnL, snapshot.UnrealizedPnL, snapshot.Commissions,
		).
		RunWith(h.db)

	if _, err := insertQuery.Exec(); err != nil {
		return fmt.Errorf("failed to record equity point: %w", err)
	}

	return nil
}

// Fills returns every recorded fill in execution order.
func (h *HistoryStore) Fills() ([]FillEvent, error) {
	selectQuery := h.sq.
		Select(
			"fill_id", "order_id", "symbol", "side", "quantity", "price",
			"commission", "executed_at", "tick_index", "reason",
			"strategy_name", "partial", "pnl",
		).
		From("fills").
		OrderBy("tick_index ASC", "fill_id ASC").
		RunWith(h.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var events []FillEvent

	for rows.Next() {
		var event FillEvent

		err := rows.Scan(
			&event.Fill.ID,
			&event.Fill.OrderID,
			&event.Fill.Symbol,
			&event.Fill.Side,
			&event.Fill.Quantity,
			&event.Fill.Price,
			&event.Fill.Commission,
			&event.Fill.Time,
			&event.Fill.TickIndex,
			&event.Fill.Reason,
			&event.Fill.StrategyName,
			&event.Fill.Partial,
			&event.RealizedPnL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}

		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fills: %w", err)
	}

	return events, nil
}

// OrderByID returns the recorded state of an order.
func (h *HistoryStore) OrderByID(orderID string) (optional.Option[types.Order], error) {
	query := h.sq.
		Select(
			"order_id", "seq", "symbol", "side", "order_type", "quantity",
			"limit_price", "stop_price", "good_for_ticks", "submitted_at",
			"submitted_tick", "status", "filled_quantity", "reason", "message",
			"strategy_name",
		).
		From("orders").
		Where(squirrel.Eq{"order_id": orderID}).
		RunWith(h.db)

	order, err := scanOrder(query.QueryRow())
	if err != nil {
		if err == sql.ErrNoRows {
			return optional.None[types.Order](), nil
		}

		return optional.None[types.Order](), fmt.Errorf("failed to get order by id: %w", err)
	}

	return optional.Some(order), nil
}

// Orders returns every recorded order in submission order.
func (h *HistoryStore) Orders() ([]types.Order, error) {
	selectQuery := h.sq.
		Select(
			"order_id", "seq", "symbol", "side", "order_type", "quantity",
			"limit_price", "stop_price", "good_for_ticks", "submitted_at",
			"submitted_tick", "status", "filled_quantity", "reason", "message",
			"strategy_name",
		).
		From("orders").
		OrderBy("seq ASC").
		RunWith(h.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []types.Order

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (types.Order, error) {
	var (
		order      types.Order
		limitPrice sql.NullFloat64
		stopPrice  sql.NullFloat64
	)

	err := row.Scan(
		&order.ID,
		&order.Seq,
		&order.Symbol,
		&order.Side,
		&order.OrderType,
		&order.Quantity,
		&limitPrice,
		&stopPrice,
		&order.GoodForTicks,
		&order.SubmittedAt,
		&order.SubmittedTick,
		&order.Status,
		&order.FilledQuantity,
		&order.Reason.Reason,
		&order.Reason.Message,
		&order.StrategyName,
	)
	if err != nil {
		return types.Order{}, err
	}

	if limitPrice.Valid {
		order.LimitPrice = optional.Some(limitPrice.Float64)
	}

	if stopPrice.Valid {
		order.StopPrice = optional.Some(stopPrice.Float64)
	}

	return order, nil
}

// EquityCurve returns the recorded equity points in tick order.
func (h *HistoryStore) EquityCurve() ([]types.PortfolioSnapshot, error) {
	selectQuery := h.sq.
		Select("tick_index", "time", "cash", "equity", "realized_pnl", "unrealized_pnl", "commissions").
		From("equity").
		OrderBy("tick_index ASC").
		RunWith(h.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query equity curve: %w", err)
	}
	defer rows.Close()

	var curve []types.PortfolioSnapshot

	for rows.Next() {
		var point types.PortfolioSnapshot

		err := rows.Scan(
			&point.TickIndex,
			&point.Time,
			&point.Cash,
			&point.Equity,
			&point.RealizedPnL,
			&point.UnrealizedPnL,
			&point.Commissions,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}

		curve = append(curve, point)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity curve: %w", err)
	}

	return curve, nil
}

// calculateTradeResult computes win/loss statistics for one symbol.
func (h *HistoryStore) calculateTradeResult(symbol string) (types.TradeResult, error) {
	query := `
		WITH fill_stats AS (
			SELECT
				COUNT(*) as total_trades,
				SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END) as winning_trades,
				SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END) as losing_trades,
				MIN(pnl) as min_pnl
			FROM fills
			WHERE symbol = ?
		)
		SELECT
			total_trades,
			winning_trades,
			losing_trades,
			CASE WHEN total_trades > 0 THEN CAST(winning_trades AS DOUBLE) / total_trades ELSE 0 END as win_rate,
			CASE WHEN min_pnl < 0 THEN ABS(min_pnl) ELSE 0 END as max_drawdown
		FROM fill_stats
	`

	var result types.TradeResult

	err := h.db.QueryRow(query, symbol).Scan(
		&result.NumberOfTrades,
		&result.NumberOfWinningTrades,
		&result.NumberOfLosingTrades,
		&result.WinRate,
		&result.MaxDrawdown,
	)
	if err != nil {
		return types.TradeResult{}, fmt.Errorf("failed to calculate trade result: %w", err)
	}

	return result, nil
}

// Stats summarizes the run per symbol. Unrealized P&L comes from the ledger's
// final marks, keyed by symbol; symbols without an open position are absent
// from the map.
func (h *HistoryStore) Stats(runID string, at time.Time, unrealized map[string]float64) ([]types.RunStats, error) {
	if runID == "" {
		runID = uuid.New().String()
	}

	selectQuery := h.sq.
		Select("DISTINCT symbol").
		From("fills").
		OrderBy("symbol").
		RunWith(h.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to get unique symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}

		symbols = append(symbols, symbol)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}

	var stats []types.RunStats

	for _, symbol := range symbols {
		tradeResult, err := h.calculateTradeResult(symbol)
		if err != nil {
			return nil, err
		}

		aggregateQuery := h.sq.
			Select(
				"COALESCE(SUM(pnl), 0) as realized_pnl",
				"COALESCE(MIN(pnl), 0) as max_loss",
				"COALESCE(MAX(pnl), 0) as max_profit",
				"COALESCE(SUM(commission), 0) as total_commissions",
				"COALESCE(MAX(strategy_name), '') as strategy_name",
			).
			From("fills").
			Where(squirrel.Eq{"symbol": symbol}).
			RunWith(h.db)

		var (
			realizedPnl      float64
			maxLoss          float64
			maxProfit        float64
			totalCommissions float64
			strategyName     string
		)

		err = aggregateQuery.QueryRow().Scan(&realizedPnl, &maxLoss, &maxProfit, &totalCommissions, &strategyName)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate fills for %s: %w", symbol, err)
		}

		tradePnl := types.TradePnl{
			RealizedPnL:   realizedPnl,
			UnrealizedPnL: unrealized[symbol],
			TotalPnL:      realizedPnl + unrealized[symbol],
			MaximumLoss:   maxLoss,
			MaximumProfit: maxProfit,
		}

		stats = append(stats, types.RunStats{
			ID:               runID,
			Timestamp:        at,
			StrategyName:     strategyName,
			Symbol:           symbol,
			TradeResult:      tradeResult,
			TradePnl:         tradePnl,
			TotalCommissions: totalCommissions,
		})
	}

	return stats, nil
}

// Write exports the run history to Parquet files in the given directory.
func (h *HistoryStore) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// COPY has no placeholder support; paths come from the CLI, not user data.
	ordersPath := filepath.Join(path, "orders.parquet")
	if _, err := h.db.Exec(fmt.Sprintf(`COPY orders TO '%s' (FORMAT PARQUET)`, ordersPath)); err != nil {
		return fmt.Errorf("failed to export orders to Parquet: %w", err)
	}

	fillsPath := filepath.Join(path, "fills.parquet")
	if _, err := h.db.Exec(fmt.Sprintf(`COPY fills TO '%s' (FORMAT PARQUET)`, fillsPath)); err != nil {
		return fmt.Errorf("failed to export fills to Parquet: %w", err)
	}

	equityPath := filepath.Join(path, "equity.parquet")
	if _, err := h.db.Exec(fmt.Sprintf(`COPY equity TO '%s' (FORMAT PARQUET)`, equityPath)); err != nil {
		return fmt.Errorf("failed to export equity to Parquet: %w", err)
	}

	h.logger.Info("Exported run history to Parquet files",
		zap.String("orders", ordersPath),
		zap.String("fills", fillsPath),
		zap.String("equity", equityPath),
	)

	return nil
}

// Cleanup resets the store for another run.
func (h *HistoryStore) Cleanup() error {
	_, err := h.db.Exec(`
		DROP TABLE IF EXISTS equity;
		DROP TABLE IF EXISTS fills;
		DROP TABLE IF EXISTS orders;
	`)
	if err != nil {
		return fmt.Errorf("failed to cleanup tables: %w", err)
	}

	return h.Initialize()
}

// Close releases the underlying database.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
