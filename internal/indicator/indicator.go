package indicator

import (
	"fmt"
	"math"

	"github.com/tradeforge-dev/ibacktest/internal/types"
)

// Indicators operate on a lookback window of bars ordered oldest to newest,
// with the current bar last. They return an error when the window is shorter
// than the requested period; callers treat that as "not ready yet" during
// warm-up.

// SMA returns the simple moving average of the last period closes.
func SMA(bars []types.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be a positive integer, got %d", period)
	}

	if len(bars) < period {
		return 0, fmt.Errorf("need %d bars for SMA, have %d", period, len(bars))
	}

	sum := 0.0
	for _, bar := range bars[len(bars)-period:] {
		sum += bar.Close
	}

	return sum / float64(period), nil
}

// SMASeries returns the simple moving average of closes for each of the last
// count bars.
func SMASeries(bars []types.Bar, period, count int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be a positive integer, got %d", period)
	}

	if count <= 0 {
		return nil, fmt.Errorf("count must be a positive integer, got %d", count)
	}

	if len(bars) < period+count-1 {
		return nil, fmt.Errorf("need %d bars for %d SMA values, have %d", period+count-1, count, len(bars))
	}

	values := make([]float64, 0, count)

	for i := len(bars) - count; i < len(bars); i++ {
		window := bars[i-period+1 : i+1]

		sum := 0.0
		for _, bar := range window {
			sum += bar.Close
		}

		values = append(values, sum/float64(period))
	}

	return values, nil
}

// Momentum returns the momentum oscillator: the current close as a percentage
// of the close period bars ago.
func Momentum(bars []types.Bar, period int) (float64, error) {
	values, err := MomentumSeries(bars, period, 1)
	if err != nil {
		return 0, err
	}

	return values[0], nil
}

// MomentumSeries returns the momentum oscillator for each of the last count
// bars. Used to feed a moving average over the oscillator itself.
func MomentumSeries(bars []types.Bar, period, count int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be a positive integer, got %d", period)
	}

	if count <= 0 {
		return nil, fmt.Errorf("count must be a positive integer, got %d", count)
	}

	if len(bars) < period+count {
		return nil, fmt.Errorf("need %d bars for %d momentum values, have %d", period+count, count, len(bars))
	}

	values := make([]float64, 0, count)

	for i := len(bars) - count; i < len(bars); i++ {
		past := bars[i-period].Close
		if past == 0 {
			return nil, fmt.Errorf("zero reference close at offset %d", i-period)
		}

		values = append(values, bars[i].Close/past*100)
	}

	return values, nil
}

// MeanSeries returns the trailing mean over period values for each of the
// last count positions of a float series.
func MeanSeries(values []float64, period, count int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be a positive integer, got %d", period)
	}

	if count <= 0 {
		return nil, fmt.Errorf("count must be a positive integer, got %d", count)
	}

	if len(values) < period+count-1 {
		return nil, fmt.Errorf("need %d values for %d means, have %d", period+count-1, count, len(values))
	}

	result := make([]float64, 0, count)

	for i := len(values) - count; i < len(values); i++ {
		window := values[i-period+1 : i+1]

		sum := 0.0
		for _, v := range window {
			sum += v
		}

		result = append(result, sum/float64(period))
	}

	return result, nil
}

// WilliamsR returns Williams %R over the last period bars: the current close
// relative to the period's high-low range, scaled to [-100, 0].
func WilliamsR(bars []types.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be a positive integer, got %d", period)
	}

	if len(bars) < period {
		return 0, fmt.Errorf("need %d bars for Williams %%R, have %d", period, len(bars))
	}

	window := bars[len(bars)-period:]
	highest := window[0].High
	lowest := window[0].Low

	for _, bar := range window[1:] {
		if bar.High > highest {
			highest = bar.High
		}

		if bar.Low < lowest {
			lowest = bar.Low
		}
	}

	if highest == lowest {
		return 0, nil
	}

	return (highest - bars[len(bars)-1].Close) / (highest - lowest) * -100, nil
}

// Bollinger returns the Bollinger bands over the last period closes: the
// middle band is the SMA and the outer bands sit width population standard
// deviations away from it.
func Bollinger(bars []types.Bar, period int, width float64) (upper, middle, lower float64, err error) {
	middle, err = SMA(bars, period)
	if err != nil {
		return 0, 0, 0, err
	}

	variance := 0.0
	for _, bar := range bars[len(bars)-period:] {
		diff := bar.Close - middle
		variance += diff * diff
	}

	deviation := math.Sqrt(variance / float64(period))

	return middle + width*deviation, middle, middle - width*deviation, nil
}

// CrossDirection reports how the fast series crossed the slow series on the
// last step: +1 for an upward cross, -1 for a downward cross, 0 for no cross.
// Both series must hold at least two values, current last.
func CrossDirection(fast, slow []float64) (int, error) {
	if len(fast) < 2 || len(slow) < 2 {
		return 0, fmt.Errorf("need at least 2 values in each series, have %d and %d", len(fast), len(slow))
	}

	prevDiff := fast[len(fast)-2] - slow[len(slow)-2]
	currDiff := fast[len(fast)-1] - slow[len(slow)-1]

	switch {
	case prevDiff <= 0 && currDiff > 0:
		return 1, nil
	case prevDiff >= 0 && currDiff < 0:
		return -1, nil
	default:
		return 0, nil
	}
}
