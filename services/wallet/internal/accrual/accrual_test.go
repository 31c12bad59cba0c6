package accrual

import (
	"testing"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func midPlan() Plan {
	p, _ := NewCatalog().Lookup(PlanMid)
	return p
}

func TestSimpleInterestFullYear(t *testing.T) {
	profit := ExpectedProfit(dec("1000"), dec("0.12"), 365, false, FrequencyNone)
	if !profit.Equal(dec("120")) {
		t.Fatalf("expected 120, got %s", profit)
	}
}

func TestMonthlyCompoundFullYear(t *testing.T) {
	profit := ExpectedProfit(dec("1000"), dec("0.12"), 365, true, FrequencyMonthly)
	value := dec("1000").Add(profit).Round(2)
	if !value.Equal(dec("1126.83")) {
		t.Fatalf("expected 1126.83, got %s", value)
	}
}

func TestCompoundWithoutFrequencyIsSimple(t *testing.T) {
	simple := ExpectedProfit(dec("1000"), dec("0.12"), 180, false, FrequencyNone)
	none := ExpectedProfit(dec("1000"), dec("0.12"), 180, true, FrequencyNone)
	if !simple.Equal(none) {
		t.Fatalf("expected %s, got %s", simple, none)
	}
}

func TestPeriodsPerYear(t *testing.T) {
	cases := map[Frequency]int{
		FrequencyDaily: 365, FrequencyWeekly: 52, FrequencyMonthly: 12, FrequencyQuarterly: 4, FrequencyNone: 0,
	}
	for f, want := range cases {
		if got := PeriodsPerYear(f); got != want {
			t.Fatalf("%s: expected %d, got %d", f, want, got)
		}
	}
	if ValidFrequency("hourly") {
		t.Fatalf("expected hourly to be invalid")
	}
}

func TestLiveAccrualAppliesMultiplierFloor(t *testing.T) {
	in := Input{
		Principal:        dec("1000"),
		Plan:             midPlan(),
		DurationDays:     365,
		StartDate:        start,
		MarketMultiplier: dec("0.5"),
	}
	res := Compute(in, start.AddDate(0, 0, 365))
	// 120 * 1 * 0.8
	if !res.CurrentProfit.Equal(dec("96")) {
		t.Fatalf("expected 96, got %s", res.CurrentProfit)
	}
	if !res.Multiplier.Equal(dec("0.8")) {
		t.Fatalf("expected floored multiplier 0.8, got %s", res.Multiplier)
	}

	in.MarketMultiplier = dec("1.1")
	res = Compute(in, start.AddDate(0, 0, 365))
	if !res.CurrentProfit.Equal(dec("132")) {
		t.Fatalf("expected 132, got %s", res.CurrentProfit)
	}

	in.MarketMultiplier = decimal.Zero
	res = Compute(in, start.AddDate(0, 0, 365))
	if !res.CurrentProfit.Equal(dec("120")) {
		t.Fatalf("expected missing multiplier to mean 1, got %s", res.CurrentProfit)
	}
}

func TestSimulationIgnoresMultiplier(t *testing.T) {
	in := Input{
		Principal:        dec("1000"),
		Plan:             midPlan(),
		DurationDays:     365,
		StartDate:        start,
		Simulation:       true,
		MarketMultiplier: dec("0.5"),
	}
	res := Compute(in, start.AddDate(0, 0, 73))
	// 120 * 73/365
	if !res.CurrentProfit.Equal(dec("24")) {
		t.Fatalf("expected 24, got %s", res.CurrentProfit)
	}
}

func TestFeesAndReturns(t *testing.T) {
	in := Input{Principal: dec("1000"), Plan: midPlan(), DurationDays: 365, StartDate: start, Simulation: true}
	res := Project(in)

	if !res.ManagementFee.Equal(dec("15")) {
		t.Fatalf("expected management fee 15, got %s", res.ManagementFee)
	}
	if !res.PerformanceFee.Equal(dec("18")) {
		t.Fatalf("expected performance fee 18, got %s", res.PerformanceFee)
	}
	if !res.TotalFees.Equal(dec("33")) {
		t.Fatalf("expected total fees 33, got %s", res.TotalFees)
	}
	if !res.NetValue.Equal(dec("1087")) {
		t.Fatalf("expected net value 1087, got %s", res.NetValue)
	}
	if !res.ROI.Equal(dec("8.7")) {
		t.Fatalf("expected roi 8.7, got %s", res.ROI)
	}
	if !res.AnnualizedROI.Equal(dec("8.7")) {
		t.Fatalf("expected annualized roi 8.7, got %s", res.AnnualizedROI)
	}
}

func TestNoElapsedDays(t *testing.T) {
	in := Input{Principal: dec("1000"), Plan: midPlan(), DurationDays: 90, StartDate: start}
	res := Compute(in, start.Add(12*time.Hour))
	if res.DaysElapsed != 0 {
		t.Fatalf("expected 0 days elapsed, got %d", res.DaysElapsed)
	}
	if !res.AnnualizedROI.IsZero() {
		t.Fatalf("expected zero annualized roi, got %s", res.AnnualizedROI)
	}
	if !res.PerformanceFee.IsZero() {
		t.Fatalf("expected no performance fee without profit, got %s", res.PerformanceFee)
	}
	// management fee accrues regardless of profit
	if !res.ManagementFee.IsPositive() || !res.ROI.IsNegative() {
		t.Fatalf("expected management fee to drive negative roi, got fee %s roi %s", res.ManagementFee, res.ROI)
	}
}

func TestDaysElapsedClamps(t *testing.T) {
	if got := DaysElapsed(start, start.Add(-time.Hour), 30); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := DaysElapsed(start, start.AddDate(0, 0, 90), 30); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	if got := DaysElapsed(start, start.Add(47*time.Hour), 30); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestIsMaturable(t *testing.T) {
	inv := storage.Investment{Status: storage.InvestmentActive, EndDate: EndDate(start, 30)}
	if IsMaturable(inv, start.AddDate(0, 0, 29)) {
		t.Fatalf("expected not maturable before end date")
	}
	if !IsMaturable(inv, inv.EndDate) {
		t.Fatalf("expected maturable at end date")
	}
	inv.Status = storage.InvestmentCancelled
	if IsMaturable(inv, inv.EndDate.Add(time.Hour)) {
		t.Fatalf("expected cancelled investment not maturable")
	}
}
