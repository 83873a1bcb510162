// Package marketdata assembles the monthly four-asset dataset the strategy
// runs on: equity and gold prices from Yahoo Finance, and Treasury yields
// from FRED converted to total return indexes.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/WAE505/Momentum/internal/marketdata/clients/fred"
	"github.com/WAE505/Momentum/internal/marketdata/clients/yahoo"
	"github.com/rs/zerolog"
)

// Symbols and fallbacks for the Yahoo-sourced assets. The total return index
// and gold futures have limited history on Yahoo, so each has a longer-lived
// fallback without dividends (equity) or with a later start (gold).
const (
	symbolEquity         = "^SP500TR"
	symbolEquityFallback = "^GSPC"
	symbolGold           = "GC=F"
	symbolGoldFallback   = "GLD"
)

// bondDuration approximates the duration of a 10-year Treasury, used to turn
// yield changes into price returns.
const bondDuration = 8.0

// YahooClient is the part of the Yahoo client the assembler needs.
type YahooClient interface {
	MonthlyCloses(ctx context.Context, symbol string, start, end time.Time) (yahoo.Series, error)
}

// FredClient is the part of the FRED client the assembler needs.
type FredClient interface {
	Fetch(ctx context.Context, seriesID string, start, end time.Time) (fred.Series, error)
}

// Assembler fetches all source series and combines them into one aligned
// monthly dataset.
type Assembler struct {
	yahoo YahooClient
	fred  FredClient
	log   zerolog.Logger
}

// NewAssembler creates a new dataset assembler.
func NewAssembler(yahooClient YahooClient, fredClient FredClient, log zerolog.Logger) *Assembler {
	return &Assembler{
		yahoo: yahooClient,
		fred:  fredClient,
		log:   log.With().Str("component", "marketdata_assembler").Logger(),
	}
}

// monthObs is one resampled observation keyed by its linear month index.
type monthObs struct {
	month int
	date  time.Time
	value float64
}

// FetchAll fetches every source series starting at start and assembles the
// dataset: month-end resampling, yield-to-index conversion, an outer join on
// calendar month with forward fill, and leading rows dropped until all four
// assets have data.
func (a *Assembler) FetchAll(ctx context.Context, start, end time.Time) (domain.Dataset, error) {
	equity, err := a.fetchWithFallback(ctx, symbolEquity, symbolEquityFallback, start, end)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("equity fetch failed: %w", err)
	}

	gold, err := a.fetchWithFallback(ctx, symbolGold, symbolGoldFallback, start, end)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("gold fetch failed: %w", err)
	}

	treasury, err := a.fred.Fetch(ctx, fred.SeriesTreasury10Y, start, end)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("treasury fetch failed: %w", err)
	}

	tbill, err := a.fred.Fetch(ctx, fred.SeriesTBill3M, start, end)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("t-bill fetch failed: %w", err)
	}

	dataset, err := a.assemble(equity, gold, treasury, tbill)
	if err != nil {
		return domain.Dataset{}, err
	}

	a.log.Info().
		Int("months", dataset.Len()).
		Time("first", dataset.Dates[0]).
		Time("last", dataset.Dates[dataset.Len()-1]).
		Msg("Assembled dataset")

	return dataset, nil
}

func (a *Assembler) fetchWithFallback(ctx context.Context, symbol, fallback string, start, end time.Time) (yahoo.Series, error) {
	series, err := a.yahoo.MonthlyCloses(ctx, symbol, start, end)
	if err == nil {
		return series, nil
	}

	a.log.Warn().
		Err(err).
		Str("symbol", symbol).
		Str("fallback", fallback).
		Msg("Primary symbol failed, trying fallback")

	return a.yahoo.MonthlyCloses(ctx, fallback, start, end)
}

func (a *Assembler) assemble(equity, gold yahoo.Series, treasury, tbill fred.Series) (domain.Dataset, error) {
	equityMonthly := resampleMonthly(equity.Dates, equity.Values)
	goldMonthly := resampleMonthly(gold.Dates, gold.Values)
	yields := resampleMonthly(treasury.Dates, treasury.Values)
	rates := resampleMonthly(tbill.Dates, tbill.Values)

	bondMonthly := bondReturnIndex(yields)
	cashMonthly := cashReturnIndex(rates)

	dataset := joinMonthly(equityMonthly, bondMonthly, goldMonthly, cashMonthly, rates)
	if dataset.Len() == 0 {
		return domain.Dataset{}, fmt.Errorf("no overlapping months across sources")
	}
	if err := dataset.Validate(); err != nil {
		return domain.Dataset{}, fmt.Errorf("assembled dataset invalid: %w", err)
	}
	return dataset, nil
}

// resampleMonthly keeps the last observation of each calendar month and
// normalizes its date to the month end.
func resampleMonthly(dates []time.Time, values []float64) []monthObs {
	byMonth := make(map[int]monthObs, len(dates))
	for i, d := range dates {
		m := monthIndex(d)
		prev, ok := byMonth[m]
		if !ok || d.After(prev.date) {
			byMonth[m] = monthObs{month: m, date: d, value: values[i]}
		}
	}

	out := make([]monthObs, 0, len(byMonth))
	for _, obs := range byMonth {
		obs.date = monthEnd(obs.date)
		out = append(out, obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].month < out[j].month })
	return out
}

// bondReturnIndex converts monthly 10-year yields (annualized percent) into
// a total return index starting at 100. The monthly return approximates
// coupon income minus the duration-scaled price impact of the yield change.
func bondReturnIndex(yields []monthObs) []monthObs {
	out := make([]monthObs, len(yields))
	index := 100.0
	for i, obs := range yields {
		if i > 0 {
			y := obs.value / 100
			change := y - yields[i-1].value/100
			monthlyReturn := y/12 - bondDuration*change
			index *= 1 + monthlyReturn
		}
		out[i] = monthObs{month: obs.month, date: obs.date, value: index}
	}
	return out
}

// cashReturnIndex converts monthly 3-month T-bill rates (annualized percent)
// into a total return index starting at 100, accruing rate/12 each month.
func cashReturnIndex(rates []monthObs) []monthObs {
	out := make([]monthObs, len(rates))
	index := 100.0
	for i, obs := range rates {
		index *= 1 + obs.value/100/12
		out[i] = monthObs{month: obs.month, date: obs.date, value: index}
	}
	return out
}

// joinMonthly outer-joins the per-asset monthly series on calendar month,
// forward fills gaps, and drops leading months where any asset has no data
// yet. The cash rate column is carried alongside for display.
func joinMonthly(equity, bond, gold, cash, rates []monthObs) domain.Dataset {
	series := [][]monthObs{equity, bond, gold, cash, rates}

	months := map[int]bool{}
	for _, s := range series {
		for _, obs := range s {
			months[obs.month] = true
		}
	}
	sorted := make([]int, 0, len(months))
	for m := range months {
		sorted = append(sorted, m)
	}
	sort.Ints(sorted)

	lookups := make([]map[int]float64, len(series))
	for i, s := range series {
		lookups[i] = make(map[int]float64, len(s))
		for _, obs := range s {
			lookups[i][obs.month] = obs.value
		}
	}

	var dataset domain.Dataset
	last := make([]float64, len(series))
	started := make([]bool, len(series))
	for _, m := range sorted {
		for i := range series {
			if v, ok := lookups[i][m]; ok {
				last[i] = v
				started[i] = true
			}
		}
		// Core assets are the first four columns; the rate column never
		// gates a row on its own
		if !(started[0] && started[1] && started[2] && started[3]) {
			continue
		}
		dataset.Dates = append(dataset.Dates, monthEndOf(m))
		dataset.Equity = append(dataset.Equity, last[0])
		dataset.Bond = append(dataset.Bond, last[1])
		dataset.Gold = append(dataset.Gold, last[2])
		dataset.Cash = append(dataset.Cash, last[3])
		dataset.CashRate = append(dataset.CashRate, last[4])
	}
	return dataset
}

func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

func monthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
}

func monthEndOf(month int) time.Time {
	return time.Date(month/12, time.Month(month%12+1), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
}
