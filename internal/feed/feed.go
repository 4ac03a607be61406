// Package feed supplies ordered, deduplicated OHLCV bars to the simulation
// clock. A feed must yield bars in non-decreasing (time, symbol) order; a
// missing symbol on a given timestamp simply means no tick for that
// instrument.
package feed

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

// BarFeed is the bar source consumed by the simulation clock.
type BarFeed interface {
	// Next returns the next bar in (time, symbol) order. Returns an error
	// with code ErrCodeFeedExhausted when no further bars exist; this is a
	// terminal, non-retryable condition.
	Next() (types.Bar, error)
	// Peek returns the next bar without consuming it.
	Peek() (types.Bar, error)
	// Count returns the total number of bars within the feed window.
	Count() (int, error)
	// Symbols returns the distinct symbols within the feed window, sorted.
	// The engine treats this as the tradable instrument universe.
	Symbols() ([]string, error)
	// SetWindow restricts the feed to bars within [start, end]. Must be
	// called before the first Next/Peek.
	SetWindow(start, end optional.Option[time.Time]) error
	// Close releases feed resources.
	Close() error
}

// IsExhausted reports whether err signals the terminal end of the feed.
func IsExhausted(err error) bool {
	return errors.HasCode(err, errors.ErrCodeFeedExhausted)
}

// errExhausted is the shared terminal error returned by feeds once drained.
func errExhausted() error {
	return errors.New(errors.ErrCodeFeedExhausted, "bar feed exhausted")
}
