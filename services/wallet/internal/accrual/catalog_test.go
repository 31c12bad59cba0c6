package accrual

import (
	"context"
	"errors"
	"testing"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

type fakePlanStore struct {
	plans []storage.Plan
	err   error
}

func (f *fakePlanStore) ListPlans(_ context.Context) ([]storage.Plan, error) {
	return f.plans, f.err
}

func TestCatalogDefaults(t *testing.T) {
	c := NewCatalog()
	cases := map[string]string{PlanShort: "0.08", PlanMid: "0.12", PlanLong: "0.15", "exotic": "0.10"}
	for name, want := range cases {
		if got := c.Rate(name); !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("%s: expected %s, got %s", name, want, got)
		}
	}
	if _, ok := c.Lookup("exotic"); ok {
		t.Fatalf("expected unknown plan lookup to miss")
	}
	unknown := c.Resolve("exotic")
	if !unknown.ManagementFeeRate.IsZero() || !unknown.PerformanceFeeRate.IsZero() {
		t.Fatalf("expected unknown plan to carry no fees")
	}
	if all := c.All(); len(all) != 3 || all[0].Name != PlanShort {
		t.Fatalf("expected plans ordered by minimum, got %+v", all)
	}
}

func TestCatalogLoadOverridesDefaults(t *testing.T) {
	c := NewCatalog()
	store := &fakePlanStore{plans: []storage.Plan{
		{Name: "MID", AnnualRate: decimal.RequireFromString("0.13"), MinAmount: decimal.NewFromInt(500), Active: true},
		{Name: "flex", AnnualRate: decimal.RequireFromString("0.05"), MinAmount: decimal.NewFromInt(10), Active: true},
		{Name: "broken", AnnualRate: decimal.Zero},
	}}
	if err := c.Load(context.Background(), store); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Rate(PlanMid); !got.Equal(decimal.RequireFromString("0.13")) {
		t.Fatalf("expected override 0.13, got %s", got)
	}
	if _, ok := c.Lookup("flex"); !ok {
		t.Fatalf("expected stored plan to be added")
	}
	if _, ok := c.Lookup("broken"); ok {
		t.Fatalf("expected zero-rate plan to be skipped")
	}
	if c.Size() != 4 || c.LastRefresh().IsZero() {
		t.Fatalf("expected 4 plans and a refresh time, got %d", c.Size())
	}
}

func TestCatalogLoadErrorKeepsTable(t *testing.T) {
	c := NewCatalog()
	if err := c.Refresh(context.Background(), &fakePlanStore{err: errors.New("db down")}); err == nil {
		t.Fatalf("expected error")
	}
	if c.Size() != 3 {
		t.Fatalf("expected defaults to survive, got %d", c.Size())
	}
}
