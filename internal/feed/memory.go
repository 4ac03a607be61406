package feed

import (
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

// MemoryFeed serves bars from a pre-loaded slice. It sorts the input into
// (time, symbol) order and drops duplicate (symbol, time) records, keeping
// the first occurrence.
type MemoryFeed struct {
	bars   []types.Bar
	cursor int
}

// NewMemoryFeed creates a feed over the given bars.
func NewMemoryFeed(bars []types.Bar) *MemoryFeed {
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Time.Before(sorted[j].Time)
		}

		return sorted[i].Symbol < sorted[j].Symbol
	})

	// Deduplicate on (symbol, time).
	seen := make(map[string]time.Time, len(sorted))
	deduped := sorted[:0]

	for _, bar := range sorted {
		if last, ok := seen[bar.Symbol]; ok && last.Equal(bar.Time) {
			continue
		}

		seen[bar.Symbol] = bar.Time
		deduped = append(deduped, bar)
	}

	return &MemoryFeed{
		bars:   deduped,
		cursor: 0,
	}
}

// SetWindow implements BarFeed.
func (f *MemoryFeed) SetWindow(start, end optional.Option[time.Time]) error {
	if f.cursor > 0 {
		return errors.New(errors.ErrCodeInvalidParameter, "window must be set before iteration starts")
	}

	filtered := f.bars[:0]

	for _, bar := range f.bars {
		if start.IsSome() && bar.Time.Before(start.Unwrap()) {
			continue
		}

		if end.IsSome() && bar.Time.After(end.Unwrap()) {
			continue
		}

		filtered = append(filtered, bar)
	}

	f.bars = filtered

	return nil
}

// Next implements BarFeed.
func (f *MemoryFeed) Next() (types.Bar, error) {
	bar, err := f.Peek()
	if err != nil {
		return types.Bar{}, err
	}

	f.cursor++

	return bar, nil
}

// Peek implements BarFeed.
func (f *MemoryFeed) Peek() (types.Bar, error) {
	if f.cursor >= len(f.bars) {
		return types.Bar{}, errExhausted()
	}

	return f.bars[f.cursor], nil
}

// Count implements BarFeed.
func (f *MemoryFeed) Count() (int, error) {
	return len(f.bars), nil
}

// Symbols implements BarFeed.
func (f *MemoryFeed) Symbols() ([]string, error) {
	seen := make(map[string]struct{}, len(f.bars))
	symbols := make([]string, 0, len(seen))

	for _, bar := range f.bars {
		if _, ok := seen[bar.Symbol]; ok {
			continue
		}

		seen[bar.Symbol] = struct{}{}
		symbols = append(symbols, bar.Symbol)
	}

	sort.Strings(symbols)

	return symbols, nil
}

// Close implements BarFeed.
func (f *MemoryFeed) Close() error {
	return nil
}
