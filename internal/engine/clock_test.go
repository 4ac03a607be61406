package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-dev/ibacktest/internal/feed"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

type ClockTestSuite struct {
	suite.Suite
	start time.Time
}

func TestClockSuite(t *testing.T) {
	suite.Run(t, new(ClockTestSuite))
}

func (s *ClockTestSuite) SetupTest() {
	s.start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
}

func (s *ClockTestSuite) bar(symbol string, minute int, close float64) types.Bar {
	return types.Bar{
		Symbol: symbol,
		Time:   s.start.Add(time.Duration(minute) * time.Minute),
		Open:   close,
		High:   close + 1,
		Low:    close - 1,
		Close:  close,
		Volume: 1000,
	}
}

func (s *ClockTestSuite) TestAdvanceGroupsBarsByTimestamp() {
	clock := NewSimulationClock(feed.NewMemoryFeed([]types.Bar{
		s.bar("AAPL", 0, 100),
		s.bar("MSFT", 0, 200),
		s.bar("AAPL", 1, 101),
	}))

	tick, err := clock.Advance()
	s.Require().NoError(err)
	s.Assert().Equal(0, tick.Index)
	s.Assert().Equal(s.start, tick.Time)
	s.Assert().Len(tick.Bars, 2)
	s.Assert().Equal([]string{"AAPL", "MSFT"}, tick.Symbols())

	tick, err = clock.Advance()
	s.Require().NoError(err)
	s.Assert().Equal(1, tick.Index)
	s.Assert().Len(tick.Bars, 1)

	aapl, ok := tick.Bar("AAPL")
	s.Require().True(ok)
	s.Assert().InDelta(101, aapl.Close, 1e-9)
}

func (s *ClockTestSuite) TestMissingSymbolMeansNoTickForIt() {
	clock := NewSimulationClock(feed.NewMemoryFeed([]types.Bar{
		s.bar("AAPL", 0, 100),
		s.bar("MSFT", 1, 200),
	}))

	tick, err := clock.Advance()
	s.Require().NoError(err)
	_, hasMSFT := tick.Bar("MSFT")
	s.Assert().False(hasMSFT)

	tick, err = clock.Advance()
	s.Require().NoError(err)
	_, hasAAPL := tick.Bar("AAPL")
	s.Assert().False(hasAAPL)
}

func (s *ClockTestSuite) TestExhaustionIsTerminal() {
	clock := NewSimulationClock(feed.NewMemoryFeed([]types.Bar{
		s.bar("AAPL", 0, 100),
	}))

	_, err := clock.Advance()
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		_, err = clock.Advance()
		s.Require().Error(err)
		s.Assert().True(errors.HasCode(err, errors.ErrCodeFeedExhausted))
		s.Assert().True(clock.Exhausted())
	}
}

func (s *ClockTestSuite) TestClockStateTracksLastTick() {
	clock := NewSimulationClock(feed.NewMemoryFeed([]types.Bar{
		s.bar("AAPL", 0, 100),
		s.bar("AAPL", 5, 101),
	}))

	s.Assert().Equal(0, clock.TickIndex())

	_, err := clock.Advance()
	s.Require().NoError(err)
	s.Assert().Equal(1, clock.TickIndex())
	s.Assert().Equal(s.start, clock.CurrentTime())

	tick, err := clock.Advance()
	s.Require().NoError(err)
	s.Assert().Equal(1, tick.Index)
	s.Assert().Equal(s.start.Add(5*time.Minute), clock.CurrentTime())
}
