// Package domain contains the shared domain types for the momentum strategy:
// asset classes, monthly price series, and the aligned market dataset that
// the signal, allocation and backtest modules operate on.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Asset identifies one of the four asset classes the strategy allocates between.
type Asset string

const (
	AssetEquity Asset = "equity"
	AssetBond   Asset = "bond"
	AssetGold   Asset = "gold"
	AssetCash   Asset = "cash"
)

// RiskAssets are the asset classes that receive momentum signals, in no
// particular order. Cash is the residual and is never signalled.
var RiskAssets = []Asset{AssetEquity, AssetBond, AssetGold}

// Input validation errors. These indicate caller contract violations and are
// always fatal - computation never proceeds on corrupt data.
var (
	ErrEmptySeries      = errors.New("price series is empty")
	ErrNonPositivePrice = errors.New("price series contains a non-positive price")
	ErrNonMonotonic     = errors.New("price series timestamps are not strictly increasing")
	ErrNotMonthly       = errors.New("price series has a calendar month gap")
	ErrLengthMismatch   = errors.New("series lengths do not match")
	ErrDateMismatch     = errors.New("series dates do not match")
)

// PriceSeries is an ordered, gap-free monthly sequence of positive prices.
// One observation per calendar month, strictly increasing in time.
type PriceSeries struct {
	Dates  []time.Time
	Values []float64
}

// Len returns the number of observations
func (s PriceSeries) Len() int {
	return len(s.Values)
}

// Validate checks the series invariants: non-empty, matching date/value
// lengths, positive prices, strictly increasing timestamps with exactly one
// observation per calendar month.
func (s PriceSeries) Validate() error {
	if len(s.Values) == 0 {
		return ErrEmptySeries
	}
	if len(s.Dates) != len(s.Values) {
		return fmt.Errorf("%w: %d dates vs %d values", ErrLengthMismatch, len(s.Dates), len(s.Values))
	}
	for i, v := range s.Values {
		if v <= 0 {
			return fmt.Errorf("%w: %.6f at %s", ErrNonPositivePrice, v, s.Dates[i].Format("2006-01"))
		}
	}
	for i := 1; i < len(s.Dates); i++ {
		if !s.Dates[i].After(s.Dates[i-1]) {
			return fmt.Errorf("%w: %s then %s",
				ErrNonMonotonic, s.Dates[i-1].Format("2006-01-02"), s.Dates[i].Format("2006-01-02"))
		}
		if monthIndex(s.Dates[i])-monthIndex(s.Dates[i-1]) != 1 {
			return fmt.Errorf("%w: %s then %s",
				ErrNotMonthly, s.Dates[i-1].Format("2006-01"), s.Dates[i].Format("2006-01"))
		}
	}
	return nil
}

// AlignedWith checks that two series cover exactly the same months.
func (s PriceSeries) AlignedWith(other PriceSeries) error {
	if s.Len() != other.Len() {
		return fmt.Errorf("%w: %d vs %d observations", ErrLengthMismatch, s.Len(), other.Len())
	}
	for i := range s.Dates {
		if monthIndex(s.Dates[i]) != monthIndex(other.Dates[i]) {
			return fmt.Errorf("%w: %s vs %s at index %d",
				ErrDateMismatch, s.Dates[i].Format("2006-01"), other.Dates[i].Format("2006-01"), i)
		}
	}
	return nil
}

// monthIndex maps a timestamp to a linear month counter for gap detection.
func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

// Dataset is the fully assembled, co-extensive monthly history for all four
// asset classes plus the raw cash rate. It is the single input to a backtest
// run and is immutable once built.
type Dataset struct {
	Dates    []time.Time
	Equity   []float64
	Bond     []float64
	Gold     []float64
	Cash     []float64 // Cash total return index (T-bill)
	CashRate []float64 // Annualized T-bill rate in percent, for display
}

// Len returns the number of monthly observations
func (d Dataset) Len() int {
	return len(d.Dates)
}

// Series returns one asset's prices as a PriceSeries sharing the dataset dates.
func (d Dataset) Series(asset Asset) PriceSeries {
	switch asset {
	case AssetEquity:
		return PriceSeries{Dates: d.Dates, Values: d.Equity}
	case AssetBond:
		return PriceSeries{Dates: d.Dates, Values: d.Bond}
	case AssetGold:
		return PriceSeries{Dates: d.Dates, Values: d.Gold}
	case AssetCash:
		return PriceSeries{Dates: d.Dates, Values: d.Cash}
	}
	return PriceSeries{}
}

// Validate checks every series and their mutual alignment. A dataset that
// fails validation must never reach the signal or backtest code.
func (d Dataset) Validate() error {
	cash := d.Series(AssetCash)
	if err := cash.Validate(); err != nil {
		return fmt.Errorf("cash series invalid: %w", err)
	}
	for _, asset := range RiskAssets {
		series := d.Series(asset)
		if err := series.Validate(); err != nil {
			return fmt.Errorf("%s series invalid: %w", asset, err)
		}
		if err := series.AlignedWith(cash); err != nil {
			return fmt.Errorf("%s series misaligned with cash: %w", asset, err)
		}
	}
	if d.CashRate != nil && len(d.CashRate) != len(d.Dates) {
		return fmt.Errorf("cash rate column invalid: %w", ErrLengthMismatch)
	}
	return nil
}
