// Package signals computes the trailing-momentum indicators that drive the
// tactical allocation. Each asset class gets a set of binary indicators per
// period; their arithmetic mean is the combined signal strength in [0, 1].
package signals

import (
	"fmt"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"

	"github.com/WAE505/Momentum/internal/domain"
)

// Config holds the signal calculation parameters. The zero value is not
// usable - start from DefaultConfig.
type Config struct {
	// Lookbacks are the trailing windows (in months) each per-lookback
	// indicator is evaluated over.
	Lookbacks []int
	// ReferenceLookback is the single window used by the equity-only
	// average-2-month indicators.
	ReferenceLookback int
}

// DefaultConfig returns the standard lookback set of 8, 9 and 10 months with
// the 10-month window as the reference for the equity extras.
func DefaultConfig() Config {
	return Config{
		Lookbacks:         []int{8, 9, 10},
		ReferenceLookback: 10,
	}
}

// Validate checks the configuration for usable lookbacks.
func (c Config) Validate() error {
	if len(c.Lookbacks) == 0 {
		return fmt.Errorf("signal config requires at least one lookback")
	}
	for _, l := range c.Lookbacks {
		if l < 2 {
			return fmt.Errorf("lookback must be at least 2 months, got %d", l)
		}
	}
	if c.ReferenceLookback < 2 {
		return fmt.Errorf("reference lookback must be at least 2 months, got %d", c.ReferenceLookback)
	}
	return nil
}

// IndicatorCount returns how many indicators the configuration yields for an
// asset kind (the combined signal's denominator).
func (c Config) IndicatorCount(asset domain.Asset) int {
	n := 4 * len(c.Lookbacks)
	if asset == domain.AssetEquity {
		n += 2
	}
	return n
}

// Vector holds one period's binary indicators for a single asset, keyed by
// indicator name (e.g. "sma_cross_8", "pit_excess_10"), plus their mean.
type Vector struct {
	Date       time.Time      `json:"date"`
	Indicators map[string]int `json:"indicators"`
	Combined   float64        `json:"combined"`
}

// IndicatorNames returns the vector's indicator names in stable sorted order,
// for deterministic display.
func (v Vector) IndicatorNames() []string {
	names := make([]string, 0, len(v.Indicators))
	for name := range v.Indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compute derives the full indicator set for one asset over its price
// history. The cash series is the total-return index used for the excess
// variants. Output is positionally aligned with the input series.
//
// Periods without enough trailing history receive a neutral 0 for the
// affected indicators. That is a deliberate boundary policy, not an error:
// early history is treated as "no signal" rather than excluded.
func Compute(prices, cash domain.PriceSeries, asset domain.Asset, cfg Config) ([]Vector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := prices.Validate(); err != nil {
		return nil, fmt.Errorf("%s prices: %w", asset, err)
	}
	if err := cash.Validate(); err != nil {
		return nil, fmt.Errorf("cash prices: %w", err)
	}
	if err := prices.AlignedWith(cash); err != nil {
		return nil, fmt.Errorf("%s prices: %w", asset, err)
	}

	n := prices.Len()
	excess := excessReturnPrices(prices.Values, cash.Values)

	vectors := make([]Vector, n)
	for t := 0; t < n; t++ {
		vectors[t] = Vector{
			Date:       prices.Dates[t],
			Indicators: make(map[string]int, cfg.IndicatorCount(asset)),
		}
	}

	for _, lookback := range cfg.Lookbacks {
		addIndicator(vectors, fmt.Sprintf("sma_cross_%d", lookback), smaCrossover(prices.Values, lookback))
		addIndicator(vectors, fmt.Sprintf("pit_%d", lookback), pointInTime(prices.Values, lookback))
		addIndicator(vectors, fmt.Sprintf("sma_cross_excess_%d", lookback), smaCrossover(excess, lookback))
		addIndicator(vectors, fmt.Sprintf("pit_excess_%d", lookback), pointInTime(excess, lookback))
	}

	if asset == domain.AssetEquity {
		ref := cfg.ReferenceLookback
		addIndicator(vectors, fmt.Sprintf("avg2_sma_%d", ref), avgTwoVsSMA(prices.Values, ref))
		addIndicator(vectors, fmt.Sprintf("avg2_sma_excess_%d", ref), avgTwoVsSMA(excess, ref))
	}

	for t := range vectors {
		total := 0
		for _, v := range vectors[t].Indicators {
			total += v
		}
		vectors[t].Combined = float64(total) / float64(len(vectors[t].Indicators))
	}

	return vectors, nil
}

// Combined extracts just the combined signal strengths from a vector slice.
func Combined(vectors []Vector) []float64 {
	out := make([]float64, len(vectors))
	for i, v := range vectors {
		out[i] = v.Combined
	}
	return out
}

func addIndicator(vectors []Vector, name string, values []int) {
	for t := range vectors {
		vectors[t].Indicators[name] = values[t]
	}
}

// smaCrossover is 1 where price exceeds its trailing simple moving average.
// The first lookback-1 periods have no full window and stay neutral.
func smaCrossover(prices []float64, lookback int) []int {
	out := make([]int, len(prices))
	if len(prices) < lookback {
		return out
	}
	sma := talib.Sma(prices, lookback)
	for t := lookback - 1; t < len(prices); t++ {
		if prices[t] > sma[t] {
			out[t] = 1
		}
	}
	return out
}

// pointInTime is 1 where price exceeds its value lookback months ago.
// The first lookback periods have no reference point and stay neutral.
func pointInTime(prices []float64, lookback int) []int {
	out := make([]int, len(prices))
	for t := lookback; t < len(prices); t++ {
		if prices[t] > prices[t-lookback] {
			out[t] = 1
		}
	}
	return out
}

// avgTwoVsSMA is 1 where the mean of the latest two monthly prices exceeds
// the trailing SMA. Needs both a previous month and a full SMA window.
func avgTwoVsSMA(prices []float64, lookback int) []int {
	out := make([]int, len(prices))
	if len(prices) < lookback {
		return out
	}
	sma := talib.Sma(prices, lookback)
	for t := lookback - 1; t < len(prices); t++ {
		avgTwo := (prices[t] + prices[t-1]) / 2
		if avgTwo > sma[t] {
			out[t] = 1
		}
	}
	return out
}

// excessReturnPrices rebuilds a price path from the asset's returns in excess
// of the cash return, compounded from the asset's first price. This isolates
// trend strength net of the risk-free rate.
func excessReturnPrices(prices, cash []float64) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out
	}
	out[0] = prices[0]
	for t := 1; t < len(prices); t++ {
		assetReturn := prices[t]/prices[t-1] - 1
		cashReturn := cash[t]/cash[t-1] - 1
		out[t] = out[t-1] * (1 + assetReturn - cashReturn)
	}
	return out
}
