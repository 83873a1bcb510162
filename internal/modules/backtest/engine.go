// Package backtest replays the momentum strategy over a monthly market
// history, applying expense ratios and transaction costs, and computes the
// resulting risk/return statistics.
package backtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/WAE505/Momentum/internal/modules/allocation"
	"github.com/WAE505/Momentum/internal/modules/signals"
)

// CostConfig holds the cost model: annual expense ratios per asset class
// (applied pro-rata each month) and the per-rebalance transaction cost rate
// charged on one-way turnover.
type CostConfig struct {
	ExpenseRatios   map[domain.Asset]float64
	TransactionCost float64
	ApplyCosts      bool
}

// DefaultCostConfig returns the cost assumptions of the reference strategy:
// index-fund expense ratios and 3bp of turnover per rebalance.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		ExpenseRatios: map[domain.Asset]float64{
			domain.AssetEquity: 0.0003, // 0.03% annual
			domain.AssetBond:   0.0015, // 0.15% annual
			domain.AssetGold:   0.0009, // 0.09% annual
			domain.AssetCash:   0.0009, // 0.09% annual
		},
		TransactionCost: 0.0003, // 0.03% of one-way turnover
		ApplyCosts:      true,
	}
}

// Config holds all backtest parameters. Everything is explicit - nothing is
// read from ambient state - so runs are deterministic and testable.
type Config struct {
	InitialValue float64
	Costs        CostConfig
	Signals      signals.Config
	BaseWeights  allocation.BaseWeights
}

// DefaultConfig returns the standard configuration: 100.0 starting value,
// default costs, lookbacks and base weights.
func DefaultConfig() Config {
	return Config{
		InitialValue: 100.0,
		Costs:        DefaultCostConfig(),
		Signals:      signals.DefaultConfig(),
		BaseWeights:  allocation.DefaultBaseWeights(),
	}
}

func (c Config) validate() error {
	if c.InitialValue <= 0 {
		return fmt.Errorf("initial value must be positive, got %.4f", c.InitialValue)
	}
	if err := c.Signals.Validate(); err != nil {
		return err
	}
	return c.BaseWeights.Validate()
}

// Record is one period of the equity curve: the portfolio value after this
// period's return and costs, the return earned by the previous period's
// target weights, the newly decided target weights, and the turnover and
// cost the rebalance incurred. Records are append-only during a run and
// immutable afterwards.
type Record struct {
	Date     time.Time          `json:"date"`
	Value    float64            `json:"value"`
	Return   float64            `json:"return"`
	Weights  allocation.Weights `json:"weights"`
	Turnover float64            `json:"turnover"`
	Cost     float64            `json:"cost"`
}

// Result holds the completed equity curve and the per-period combined
// signals that drove it.
type Result struct {
	Records []Record
	Signals map[domain.Asset][]float64
}

// FinalValue returns the last portfolio value of the run.
func (r *Result) FinalValue() float64 {
	if len(r.Records) == 0 {
		return 0
	}
	return r.Records[len(r.Records)-1].Value
}

// Engine runs backtests over validated monthly datasets.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "backtest").Logger()}
}

// Run executes the momentum strategy over the dataset: per period, combined
// signals are turned into target weights through the allocation cascade, and
// the weights decided at each period close earn the following period's
// return (no look-ahead).
func (e *Engine) Run(data domain.Dataset, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	combined, err := e.computeSignals(data, cfg.Signals)
	if err != nil {
		return nil, err
	}

	return e.runWithSignals(data, cfg, combined)
}

// RunWithSignals executes the strategy loop with externally supplied
// combined signals instead of computing them from the price history. The
// slices must be positionally aligned with the dataset.
func (e *Engine) RunWithSignals(data domain.Dataset, cfg Config, combined map[domain.Asset][]float64) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	for asset, series := range combined {
		if len(series) != data.Len() {
			return nil, fmt.Errorf("%s signal series: %w", asset, domain.ErrLengthMismatch)
		}
	}
	return e.runWithSignals(data, cfg, combined)
}

// RunBuyAndHold executes the benchmark: the same loop with a fixed weight
// vector every period. Turnover is zero except for the initial purchase.
func (e *Engine) RunBuyAndHold(data domain.Dataset, cfg Config, weights allocation.Weights) (*Result, error) {
	if cfg.InitialValue <= 0 {
		return nil, fmt.Errorf("initial value must be positive, got %.4f", cfg.InitialValue)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	records := e.runLoop(data, cfg, func(int) allocation.Weights { return weights })
	return &Result{Records: records}, nil
}

// BaseBuyAndHoldWeights derives the benchmark's fixed weights from the
// cascade base weights (fully invested, zero cash).
func BaseBuyAndHoldWeights(base allocation.BaseWeights) allocation.Weights {
	full := make(map[domain.Asset]float64, len(base))
	for _, step := range base {
		full[step.Asset] = 1.0
	}
	return allocation.Allocate(full, base)
}

// computeSignals derives the combined signal series for each risk asset.
// The three assets are independent, so they are computed concurrently; the
// backtest loop itself stays strictly sequential.
func (e *Engine) computeSignals(data domain.Dataset, cfg signals.Config) (map[domain.Asset][]float64, error) {
	cash := data.Series(domain.AssetCash)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	combined := make(map[domain.Asset][]float64, len(domain.RiskAssets))

	for _, asset := range domain.RiskAssets {
		wg.Add(1)
		go func(asset domain.Asset) {
			defer wg.Done()
			vectors, err := signals.Compute(data.Series(asset), cash, asset, cfg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			combined[asset] = signals.Combined(vectors)
		}(asset)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return combined, nil
}

func (e *Engine) runWithSignals(data domain.Dataset, cfg Config, combined map[domain.Asset][]float64) (*Result, error) {
	records := e.runLoop(data, cfg, func(t int) allocation.Weights {
		periodSignals := make(map[domain.Asset]float64, len(combined))
		for asset, series := range combined {
			periodSignals[asset] = series[t]
		}
		return allocation.Allocate(periodSignals, cfg.BaseWeights)
	})

	result := &Result{Records: records, Signals: combined}
	e.log.Debug().
		Int("periods", len(records)).
		Float64("final_value", result.FinalValue()).
		Msg("Backtest completed")
	return result, nil
}

// runLoop is the shared period loop. weightsAt decides the target weights
// for each period index; the weights decided at t-1 earn the return realized
// during t. Costs are deducted as value amounts to keep the accounting
// linear and auditable.
func (e *Engine) runLoop(data domain.Dataset, cfg Config, weightsAt func(t int) allocation.Weights) []Record {
	n := data.Len()
	records := make([]Record, 0, n)

	value := cfg.InitialValue
	prev := allocation.Weights{} // zero prior weights: nothing held before the first period

	for t := 0; t < n; t++ {
		periodReturn := 0.0
		if t > 0 {
			for _, asset := range []domain.Asset{domain.AssetEquity, domain.AssetBond, domain.AssetGold, domain.AssetCash} {
				periodReturn += prev.Get(asset) * e.netReturn(data, asset, t, cfg.Costs)
			}
		}
		grown := value * (1 + periodReturn)

		target := weightsAt(t)
		turnover := target.Turnover(prev)

		cost := 0.0
		if cfg.Costs.ApplyCosts {
			cost = grown * turnover * cfg.Costs.TransactionCost
		}
		value = grown - cost

		records = append(records, Record{
			Date:     data.Dates[t],
			Value:    value,
			Return:   periodReturn,
			Weights:  target,
			Turnover: turnover,
			Cost:     cost,
		})
		prev = target
	}

	return records
}

// netReturn is one asset's realized return for period t, net of its monthly
// expense ratio when costs are enabled.
func (e *Engine) netReturn(data domain.Dataset, asset domain.Asset, t int, costs CostConfig) float64 {
	series := data.Series(asset)
	r := series.Values[t]/series.Values[t-1] - 1
	if costs.ApplyCosts {
		r -= costs.ExpenseRatios[asset] / 12
	}
	return r
}
