package types

import (
	"sort"
	"time"
)

// Bar is one OHLCV record for an instrument over a fixed interval.
// Bars are immutable once produced by the feed.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// InRange reports whether price lies within the bar's [Low, High] range.
func (b Bar) InRange(price float64) bool {
	return price >= b.Low && price <= b.High
}

// Tick is one simulation step: the synchronized set of bars across tracked
// instruments sharing the earliest pending timestamp. Instruments with no bar
// at that timestamp are simply absent from Bars.
type Tick struct {
	Index int       `yaml:"index" json:"index"`
	Time  time.Time `yaml:"time" json:"time"`
	Bars  map[string]Bar
}

// Bar returns the bar for the given symbol, if present on this tick.
func (t Tick) Bar(symbol string) (Bar, bool) {
	bar, ok := t.Bars[symbol]

	return bar, ok
}

// Symbols returns the symbols present on this tick in deterministic order.
func (t Tick) Symbols() []string {
	symbols := make([]string, 0, len(t.Bars))
	for symbol := range t.Bars {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols
}
