package feed

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-dev/ibacktest/internal/types"
)

type MemoryFeedTestSuite struct {
	suite.Suite
}

func TestMemoryFeedSuite(t *testing.T) {
	suite.Run(t, new(MemoryFeedTestSuite))
}

func barAt(symbol string, ts time.Time, open float64) types.Bar {
	return types.Bar{
		Symbol: symbol,
		Time:   ts,
		Open:   open,
		High:   open + 2,
		Low:    open - 2,
		Close:  open + 1,
		Volume: 1000,
	}
}

func (suite *MemoryFeedTestSuite) TestOrderingAcrossSymbols() {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	// Intentionally shuffled input.
	f := NewMemoryFeed([]types.Bar{
		barAt("MSFT", t1, 310),
		barAt("AAPL", t0, 100),
		barAt("MSFT", t0, 300),
		barAt("AAPL", t1, 101),
	})

	var got []string

	for {
		bar, err := f.Next()
		if IsExhausted(err) {
			break
		}

		suite.Require().NoError(err)
		got = append(got, bar.Symbol+bar.Time.Format("@15:04"))
	}

	suite.Equal([]string{"AAPL@09:30", "MSFT@09:30", "AAPL@09:31", "MSFT@09:31"}, got)
}

func (suite *MemoryFeedTestSuite) TestDeduplication() {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	f := NewMemoryFeed([]types.Bar{
		barAt("AAPL", t0, 100),
		barAt("AAPL", t0, 999), // duplicate timestamp, dropped
	})

	count, err := f.Count()
	suite.Require().NoError(err)
	suite.Equal(1, count)

	bar, err := f.Next()
	suite.Require().NoError(err)
	suite.InDelta(100.0, bar.Open, 1e-9)
}

func (suite *MemoryFeedTestSuite) TestPeekDoesNotConsume() {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	f := NewMemoryFeed([]types.Bar{barAt("AAPL", t0, 100)})

	peeked, err := f.Peek()
	suite.Require().NoError(err)

	next, err := f.Next()
	suite.Require().NoError(err)
	suite.Equal(peeked, next)

	_, err = f.Next()
	suite.True(IsExhausted(err))
}

func (suite *MemoryFeedTestSuite) TestWindow() {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	var bars []types.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, barAt("AAPL", t0.Add(time.Duration(i)*time.Minute), 100+float64(i)))
	}

	f := NewMemoryFeed(bars)
	err := f.SetWindow(optional.Some(t0.Add(time.Minute)), optional.Some(t0.Add(3*time.Minute)))
	suite.Require().NoError(err)

	count, err := f.Count()
	suite.Require().NoError(err)
	suite.Equal(3, count)

	first, err := f.Next()
	suite.Require().NoError(err)
	suite.Equal(t0.Add(time.Minute), first.Time)
}

func (suite *MemoryFeedTestSuite) TestWindowAfterIterationFails() {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	f := NewMemoryFeed([]types.Bar{barAt("AAPL", t0, 100), barAt("AAPL", t0.Add(time.Minute), 101)})

	_, err := f.Next()
	suite.Require().NoError(err)

	err = f.SetWindow(optional.Some(t0), optional.None[time.Time]())
	suite.Error(err)
}

func (suite *MemoryFeedTestSuite) TestSymbolsSortedAndWindowed() {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	f := NewMemoryFeed([]types.Bar{
		barAt("MSFT", t0, 300),
		barAt("AAPL", t0, 100),
		barAt("AAPL", t0.Add(time.Minute), 101),
		barAt("TSLA", t0.Add(2*time.Minute), 200),
	})

	symbols, err := f.Symbols()
	suite.Require().NoError(err)
	suite.Equal([]string{"AAPL", "MSFT", "TSLA"}, symbols)

	// A window that excludes TSLA's only bar shrinks the universe.
	windowed := NewMemoryFeed([]types.Bar{
		barAt("MSFT", t0, 300),
		barAt("AAPL", t0, 100),
		barAt("TSLA", t0.Add(2*time.Minute), 200),
	})
	suite.Require().NoError(windowed.SetWindow(optional.Some(t0), optional.Some(t0.Add(time.Minute))))

	symbols, err = windowed.Symbols()
	suite.Require().NoError(err)
	suite.Equal([]string{"AAPL", "MSFT"}, symbols)
}

func (suite *MemoryFeedTestSuite) TestExhaustionIsTerminal() {
	f := NewMemoryFeed(nil)

	for i := 0; i < 3; i++ {
		_, err := f.Next()
		suite.True(IsExhausted(err))
	}
}
