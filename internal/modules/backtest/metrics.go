package backtest

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Report holds the aggregate statistics of a completed equity curve.
// Degenerate conditions (e.g. zero volatility) are reported as NaN
// sentinels, never as errors - they are valid, if uninteresting, outcomes.
type Report struct {
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"` // in months
	WinRate             float64 `json:"win_rate"`
	BestMonth           float64 `json:"best_month"`
	WorstMonth          float64 `json:"worst_month"`
	AvgMonthlyReturn    float64 `json:"avg_monthly_return"`
	FinalValue          float64 `json:"final_value"`
}

// DrawdownPoint is one period of the drawdown series.
type DrawdownPoint struct {
	Date     time.Time `json:"date"`
	Peak     float64   `json:"peak"`
	Drawdown float64   `json:"drawdown"`
}

// CalculateMetrics computes the performance report from a completed equity
// curve. Period returns are derived from the recorded values so that every
// cost deduction is reflected. At least two records are required.
func CalculateMetrics(records []Record) (Report, error) {
	if len(records) < 2 {
		return Report{}, fmt.Errorf("metrics require at least 2 equity curve records, got %d", len(records))
	}

	values := make([]float64, len(records))
	for i, r := range records {
		values[i] = r.Value
	}

	returns := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		returns[i-1] = values[i]/values[i-1] - 1
	}
	months := len(returns)

	totalReturn := values[len(values)-1]/values[0] - 1
	annualized := math.Pow(1+totalReturn, 12/float64(months)) - 1

	volatility := stat.StdDev(returns, nil) * math.Sqrt(12)

	sharpe := math.NaN()
	if volatility > 0 {
		sharpe = annualized / volatility
	}

	maxDrawdown, duration := maxDrawdownWithDuration(values)

	wins := 0
	best := returns[0]
	worst := returns[0]
	for _, r := range returns {
		if r > 0 {
			wins++
		}
		if r > best {
			best = r
		}
		if r < worst {
			worst = r
		}
	}

	return Report{
		TotalReturn:         totalReturn,
		AnnualizedReturn:    annualized,
		Volatility:          volatility,
		SharpeRatio:         sharpe,
		MaxDrawdown:         maxDrawdown,
		MaxDrawdownDuration: duration,
		WinRate:             float64(wins) / float64(months),
		BestMonth:           best,
		WorstMonth:          worst,
		AvgMonthlyReturn:    stat.Mean(returns, nil),
		FinalValue:          values[len(values)-1],
	}, nil
}

// maxDrawdownWithDuration returns the deepest decline from a running peak
// (as a non-positive fraction) and the longest span in periods from a peak
// until the value first recovers to that peak. Drawdowns still open at the
// end of the series count through the last period.
func maxDrawdownWithDuration(values []float64) (float64, int) {
	maxDrawdown := 0.0
	maxDuration := 0

	peak := values[0]
	peakIndex := 0
	inDrawdown := false

	for t := 1; t < len(values); t++ {
		if values[t] >= peak {
			if inDrawdown {
				if span := t - peakIndex; span > maxDuration {
					maxDuration = span
				}
				inDrawdown = false
			}
			peak = values[t]
			peakIndex = t
			continue
		}

		inDrawdown = true
		if dd := values[t]/peak - 1; dd < maxDrawdown {
			maxDrawdown = dd
		}
	}

	if inDrawdown {
		if span := len(values) - 1 - peakIndex; span > maxDuration {
			maxDuration = span
		}
	}

	return maxDrawdown, maxDuration
}

// DrawdownSeries returns the per-period drawdown from the running peak.
func DrawdownSeries(records []Record) []DrawdownPoint {
	out := make([]DrawdownPoint, len(records))
	peak := 0.0
	for i, r := range records {
		if r.Value > peak {
			peak = r.Value
		}
		out[i] = DrawdownPoint{
			Date:     r.Date,
			Peak:     peak,
			Drawdown: r.Value/peak - 1,
		}
	}
	return out
}

// RollingPoint is one period of a rolling-return series.
type RollingPoint struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// RollingReturns computes trailing window returns over the equity curve.
// Periods without a full window are omitted.
func RollingReturns(records []Record, windowMonths int) []RollingPoint {
	out := make([]RollingPoint, 0, len(records))
	for i := windowMonths; i < len(records); i++ {
		out = append(out, RollingPoint{
			Date:   records[i].Date,
			Return: records[i].Value/records[i-windowMonths].Value - 1,
		})
	}
	return out
}
