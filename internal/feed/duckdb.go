package feed

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
	"go.uber.org/zap"
)

// DuckDBFeed reads bars from Parquet or CSV files through an in-memory DuckDB
// instance. Files must carry symbol, time, open, high, low, close and volume
// columns. Bars are streamed in (time, symbol) order.
type DuckDBFeed struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
	rows   *sql.Rows
	peeked *types.Bar
	start  optional.Option[time.Time]
	end    optional.Option[time.Time]
	// lastSeen tracks the last timestamp per symbol for the monotonicity check.
	lastSeen map[string]time.Time
}

// NewDuckDBFeed opens an in-memory DuckDB instance and creates a bars view
// over the given file. The file format is inferred from the extension.
func NewDuckDBFeed(path string, log *logger.Logger) (*DuckDBFeed, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeedUnavailable, "failed to open duckdb", err)
	}

	var reader string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		reader = "read_parquet"
	case ".csv":
		reader = "read_csv_auto"
	default:
		db.Close()

		return nil, errors.Newf(errors.ErrCodeFeedUnsupportedFile, "unsupported data file extension: %s", filepath.Ext(path))
	}

	// Using raw SQL as Squirrel doesn't support CREATE VIEW.
	query := fmt.Sprintf(`
		CREATE VIEW bars AS
		SELECT symbol, time, open, high, low, close, volume FROM %s('%s');
	`, reader, path)

	if _, err := db.Exec(query); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeFeedUnavailable, "failed to create bars view", err)
	}

	log.Debug("DuckDB feed initialized", zap.String("path", path))

	return &DuckDBFeed{
		db:       db,
		logger:   log,
		sq:       squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		rows:     nil,
		peeked:   nil,
		start:    optional.None[time.Time](),
		end:      optional.None[time.Time](),
		lastSeen: make(map[string]time.Time),
	}, nil
}

// SetWindow implements BarFeed.
func (f *DuckDBFeed) SetWindow(start, end optional.Option[time.Time]) error {
	if f.rows != nil {
		return errors.New(errors.ErrCodeInvalidParameter, "window must be set before iteration starts")
	}

	f.start = start
	f.end = end

	return nil
}

func (f *DuckDBFeed) windowed(builder squirrel.SelectBuilder) squirrel.SelectBuilder {
	if f.start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"time": f.start.Unwrap()})
	}

	if f.end.IsSome() {
		builder = builder.Where(squirrel.LtOrEq{"time": f.end.Unwrap()})
	}

	return builder
}

// Count implements BarFeed.
func (f *DuckDBFeed) Count() (int, error) {
	query := f.windowed(f.sq.Select("COUNT(*)").From("bars")).RunWith(f.db)

	var count int
	if err := query.QueryRow().Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeFeedQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// Symbols implements BarFeed.
func (f *DuckDBFeed) Symbols() ([]string, error) {
	query := f.windowed(f.sq.Select("DISTINCT symbol").From("bars").OrderBy("symbol ASC")).RunWith(f.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeedQueryFailed, "failed to query symbols", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFeedQueryFailed, "failed to scan symbol", err)
		}

		symbols = append(symbols, symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFeedQueryFailed, "error iterating symbols", err)
	}

	return symbols, nil
}

// Next implements BarFeed.
func (f *DuckDBFeed) Next() (types.Bar, error) {
	bar, err := f.Peek()
	if err != nil {
		return types.Bar{}, err
	}

	f.peeked = nil

	return bar, nil
}

// Peek implements BarFeed.
func (f *DuckDBFeed) Peek() (types.Bar, error) {
	if f.peeked != nil {
		return *f.peeked, nil
	}

	if f.rows == nil {
		query := f.windowed(
			f.sq.Select("symbol", "time", "open", "high", "low", "close", "volume").
				From("bars").
				OrderBy("time ASC", "symbol ASC"),
		).RunWith(f.db)

		rows, err := query.Query()
		if err != nil {
			return types.Bar{}, errors.Wrap(errors.ErrCodeFeedQueryFailed, "failed to query bars", err)
		}

		f.rows = rows
	}

	for {
		if !f.rows.Next() {
			if err := f.rows.Err(); err != nil {
				return types.Bar{}, errors.Wrap(errors.ErrCodeFeedQueryFailed, "error iterating bars", err)
			}

			return types.Bar{}, errExhausted()
		}

		var bar types.Bar

		err := f.rows.Scan(&bar.Symbol, &bar.Time, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
		if err != nil {
			return types.Bar{}, errors.Wrap(errors.ErrCodeFeedQueryFailed, "failed to scan bar", err)
		}

		last, seen := f.lastSeen[bar.Symbol]
		if seen && bar.Time.Before(last) {
			return types.Bar{}, errors.Newf(errors.ErrCodeFeedOutOfOrder,
				"bar for %s at %s precedes previous bar at %s", bar.Symbol, bar.Time, last)
		}

		// Drop duplicate (symbol, time) records, keeping the first.
		if seen && bar.Time.Equal(last) {
			continue
		}

		f.lastSeen[bar.Symbol] = bar.Time
		f.peeked = &bar

		return bar, nil
	}
}

// Close implements BarFeed.
func (f *DuckDBFeed) Close() error {
	if f.rows != nil {
		f.rows.Close()
	}

	return f.db.Close()
}
