// Package allocation converts combined momentum signal strengths into
// portfolio weights using a hierarchical cascade: weight an asset class
// fails to earn flows to the next class in priority order, and whatever
// survives the whole cascade ends up in cash.
package allocation

import (
	"fmt"

	"github.com/WAE505/Momentum/internal/domain"
)

// Weights is a full portfolio weight vector. Components are each in [0, 1]
// and sum to exactly 1 - cash is the residual of the cascade, never
// independently computed and reconciled.
type Weights struct {
	Equity float64 `json:"equity"`
	Bond   float64 `json:"bond"`
	Gold   float64 `json:"gold"`
	Cash   float64 `json:"cash"`
}

// Get returns the weight for one asset class.
func (w Weights) Get(asset domain.Asset) float64 {
	switch asset {
	case domain.AssetEquity:
		return w.Equity
	case domain.AssetBond:
		return w.Bond
	case domain.AssetGold:
		return w.Gold
	case domain.AssetCash:
		return w.Cash
	}
	return 0
}

// Sum returns the total of all four components. Always 1 for cascade output;
// exposed for invariant checks.
func (w Weights) Sum() float64 {
	return w.Equity + w.Bond + w.Gold + w.Cash
}

// Turnover is half the sum of absolute weight changes against another
// weight vector (one-way turnover).
func (w Weights) Turnover(prev Weights) float64 {
	total := abs(w.Equity-prev.Equity) +
		abs(w.Bond-prev.Bond) +
		abs(w.Gold-prev.Gold) +
		abs(w.Cash-prev.Cash)
	return total / 2
}

// CascadeStep is one stage of the hierarchical allocation: an asset class
// and its base weight. Steps are processed in slice order; unclaimed weight
// carries into the next step's available pool.
type CascadeStep struct {
	Asset domain.Asset
	Base  float64
}

// BaseWeights is the cascade in priority order. The priority order is part
// of the strategy definition - gold first, then equity, then bond, cash as
// the residual.
type BaseWeights []CascadeStep

// DefaultBaseWeights returns the 70/20/10 equity/bond/gold strategy in its
// fixed gold -> equity -> bond priority order.
func DefaultBaseWeights() BaseWeights {
	return BaseWeights{
		{Asset: domain.AssetGold, Base: 0.10},
		{Asset: domain.AssetEquity, Base: 0.70},
		{Asset: domain.AssetBond, Base: 0.20},
	}
}

// Validate checks that base weights are sane: non-negative, summing to 1,
// covering each risk asset exactly once.
func (b BaseWeights) Validate() error {
	seen := make(map[domain.Asset]bool, len(b))
	total := 0.0
	for _, step := range b {
		if step.Base < 0 || step.Base > 1 {
			return fmt.Errorf("base weight for %s out of range: %.4f", step.Asset, step.Base)
		}
		if seen[step.Asset] {
			return fmt.Errorf("duplicate cascade step for %s", step.Asset)
		}
		if step.Asset == domain.AssetCash {
			return fmt.Errorf("cash cannot appear in the cascade, it is the residual")
		}
		seen[step.Asset] = true
		total += step.Base
	}
	if abs(total-1.0) > 1e-9 {
		return fmt.Errorf("base weights must sum to 1.0, got %.6f", total)
	}
	for _, asset := range domain.RiskAssets {
		if !seen[asset] {
			return fmt.Errorf("cascade is missing a step for %s", asset)
		}
	}
	return nil
}

// Allocate runs the cascade over the given signal strengths. Signals are
// clamped to [0, 1] first - out-of-range values only ever arise from
// floating round-off in the combined-signal mean, so they are absorbed
// rather than rejected.
func Allocate(signals map[domain.Asset]float64, base BaseWeights) Weights {
	weights := Weights{}
	carry := 0.0
	for _, step := range base {
		available := step.Base + carry
		earned := available * clamp01(signals[step.Asset])
		carry = available - earned

		switch step.Asset {
		case domain.AssetEquity:
			weights.Equity = earned
		case domain.AssetBond:
			weights.Bond = earned
		case domain.AssetGold:
			weights.Gold = earned
		}
	}
	weights.Cash = carry
	return weights
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
