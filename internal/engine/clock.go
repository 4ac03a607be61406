package engine

import (
	"time"

	"github.com/tradeforge-dev/ibacktest/internal/feed"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"github.com/tradeforge-dev/ibacktest/pkg/errors"
)

func errExhaustedClock() error {
	return errors.New(errors.ErrCodeFeedExhausted, "bar feed exhausted")
}

// SimulationClock advances a single logical time cursor one bar interval at a
// time. Bars with the same timestamp across instruments are grouped into one
// synchronized tick. One clock instance belongs to exactly one run; parallel
// runs each own their own clock.
type SimulationClock struct {
	feed      feed.BarFeed
	tickIndex int
	current   time.Time
	exhausted bool
}

// NewSimulationClock creates a clock over the given feed.
func NewSimulationClock(barFeed feed.BarFeed) *SimulationClock {
	return &SimulationClock{
		feed:      barFeed,
		tickIndex: 0,
		current:   time.Time{},
		exhausted: false,
	}
}

// Advance pulls the next synchronized tick from the feed: the bar with the
// earliest pending timestamp plus every other instrument's bar sharing that
// timestamp. Returns an ErrCodeFeedExhausted error once the feed ends; the
// condition is terminal.
func (c *SimulationClock) Advance() (types.Tick, error) {
	if c.exhausted {
		return types.Tick{}, errExhaustedClock()
	}

	first, err := c.feed.Next()
	if err != nil {
		if feed.IsExhausted(err) {
			c.exhausted = true
		}

		return types.Tick{}, err
	}

	tick := types.Tick{
		Index: c.tickIndex,
		Time:  first.Time,
		Bars:  map[string]types.Bar{first.Symbol: first},
	}

	for {
		next, err := c.feed.Peek()
		if err != nil {
			if feed.IsExhausted(err) {
				break
			}

			return types.Tick{}, err
		}

		if !next.Time.Equal(first.Time) {
			break
		}

		if _, err := c.feed.Next(); err != nil {
			return types.Tick{}, err
		}

		tick.Bars[next.Symbol] = next
	}

	c.tickIndex++
	c.current = tick.Time

	return tick, nil
}

// TickIndex returns the index of the next tick to be produced.
func (c *SimulationClock) TickIndex() int {
	return c.tickIndex
}

// CurrentTime returns the timestamp of the last produced tick.
func (c *SimulationClock) CurrentTime() time.Time {
	return c.current
}

// Exhausted reports whether the feed has ended.
func (c *SimulationClock) Exhausted() bool {
	return c.exhausted
}
