// Package accrual computes investment profit and fee accrual. Everything here
// is a pure function of its inputs and a clock value.
package accrual

import (
	"math"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyNone      Frequency = "none"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

const resultPlaces = 8

var (
	daysPerYear     = decimal.NewFromInt(365)
	hundred         = decimal.NewFromInt(100)
	multiplierFloor = decimal.RequireFromString("0.8")
)

// PeriodsPerYear returns the compounding periods per year, or 0 when f does
// not compound.
func PeriodsPerYear(f Frequency) int {
	switch f {
	case FrequencyDaily:
		return 365
	case FrequencyWeekly:
		return 52
	case FrequencyMonthly:
		return 12
	case FrequencyQuarterly:
		return 4
	}
	return 0
}

func ValidFrequency(f Frequency) bool {
	return f == FrequencyNone || PeriodsPerYear(f) > 0
}

type Input struct {
	Principal    decimal.Decimal
	Plan         Plan
	DurationDays int
	StartDate    time.Time
	Compounding  bool
	Frequency    Frequency
	Simulation   bool
	// MarketMultiplier scales live profit. Zero means no market signal.
	MarketMultiplier decimal.Decimal
}

type Result struct {
	DaysElapsed    int             `json:"days_elapsed"`
	TotalDays      int             `json:"total_days"`
	Rate           decimal.Decimal `json:"rate"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	CurrentProfit  decimal.Decimal `json:"current_profit"`
	ManagementFee  decimal.Decimal `json:"management_fee"`
	PerformanceFee decimal.Decimal `json:"performance_fee"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	NetValue       decimal.Decimal `json:"net_value"`
	ROI            decimal.Decimal `json:"roi"`
	AnnualizedROI  decimal.Decimal `json:"annualized_roi"`
}

func Compute(in Input, now time.Time) Result {
	total := in.DurationDays
	elapsed := DaysElapsed(in.StartDate, now, total)
	return compute(in, elapsed)
}

// Project computes the result as of maturity.
func Project(in Input) Result {
	return compute(in, in.DurationDays)
}

func compute(in Input, elapsed int) Result {
	total := in.DurationDays
	rate := in.Plan.AnnualRate
	expected := ExpectedProfit(in.Principal, rate, total, in.Compounding, in.Frequency)

	progress := decimal.Zero
	if total > 0 {
		progress = decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(total)))
	}

	multiplier := decimal.NewFromInt(1)
	current := expected.Mul(progress)
	if !in.Simulation {
		multiplier = effectiveMultiplier(in.MarketMultiplier)
		current = current.Mul(multiplier)
	}

	mgmt := in.Principal.Mul(in.Plan.ManagementFeeRate).Mul(decimal.NewFromInt(int64(total))).Div(daysPerYear)
	perf := decimal.Zero
	if current.IsPositive() {
		perf = current.Mul(in.Plan.PerformanceFeeRate)
	}
	fees := mgmt.Add(perf)
	value := in.Principal.Add(current)

	roi := decimal.Zero
	if in.Principal.IsPositive() {
		roi = current.Sub(fees).Div(in.Principal).Mul(hundred)
	}
	annualized := decimal.Zero
	if elapsed > 0 {
		annualized = roi.Mul(daysPerYear).Div(decimal.NewFromInt(int64(elapsed)))
	}

	return Result{
		DaysElapsed:    elapsed,
		TotalDays:      total,
		Rate:           rate,
		Multiplier:     multiplier,
		ExpectedProfit: expected.Round(resultPlaces),
		CurrentProfit:  current.Round(resultPlaces),
		ManagementFee:  mgmt.Round(resultPlaces),
		PerformanceFee: perf.Round(resultPlaces),
		TotalFees:      fees.Round(resultPlaces),
		CurrentValue:   value.Round(resultPlaces),
		NetValue:       value.Sub(fees).Round(resultPlaces),
		ROI:            roi.Round(resultPlaces),
		AnnualizedROI:  annualized.Round(resultPlaces),
	}
}

// ExpectedProfit is the profit at maturity before market adjustment.
func ExpectedProfit(principal, rate decimal.Decimal, durationDays int, compounding bool, f Frequency) decimal.Decimal {
	days := decimal.NewFromInt(int64(durationDays))
	n := PeriodsPerYear(f)
	if !compounding || n == 0 {
		return principal.Mul(rate).Mul(days).Div(daysPerYear)
	}
	periods := float64(n)
	factor := math.Pow(1+rate.InexactFloat64()/periods, periods*float64(durationDays)/365)
	return principal.Mul(decimal.NewFromFloat(factor)).Sub(principal)
}

// DaysElapsed counts whole days since start, clamped to [0, total].
func DaysElapsed(start, now time.Time, total int) int {
	if now.Before(start) {
		return 0
	}
	days := int(now.Sub(start) / (24 * time.Hour))
	if days > total {
		return total
	}
	return days
}

func EndDate(start time.Time, durationDays int) time.Time {
	return start.AddDate(0, 0, durationDays)
}

func IsMaturable(inv storage.Investment, now time.Time) bool {
	return inv.Status == storage.InvestmentActive && !now.Before(inv.EndDate)
}

func effectiveMultiplier(m decimal.Decimal) decimal.Decimal {
	if m.IsZero() {
		m = decimal.NewFromInt(1)
	}
	if m.LessThan(multiplierFloor) {
		return multiplierFloor
	}
	return m
}
