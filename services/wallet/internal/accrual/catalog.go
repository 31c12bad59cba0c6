package accrual

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	PlanShort = "short"
	PlanMid   = "mid"
	PlanLong  = "long"
)

// UnknownPlanRate applies when a plan name is not in the catalog.
var UnknownPlanRate = decimal.RequireFromString("0.10")

type Plan struct {
	Name               string          `json:"name"`
	AnnualRate         decimal.Decimal `json:"annual_rate"`
	MinAmount          decimal.Decimal `json:"min_amount"`
	ManagementFeeRate  decimal.Decimal `json:"management_fee_rate"`
	PerformanceFeeRate decimal.Decimal `json:"performance_fee_rate"`
}

func DefaultPlans() []Plan {
	return []Plan{
		{PlanShort, decimal.RequireFromString("0.08"), decimal.NewFromInt(100), decimal.RequireFromString("0.01"), decimal.RequireFromString("0.10")},
		{PlanMid, decimal.RequireFromString("0.12"), decimal.NewFromInt(1000), decimal.RequireFromString("0.015"), decimal.RequireFromString("0.15")},
		{PlanLong, decimal.RequireFromString("0.15"), decimal.NewFromInt(5000), decimal.RequireFromString("0.02"), decimal.RequireFromString("0.20")},
	}
}

type PlanStore interface {
	ListPlans(ctx context.Context) ([]storage.Plan, error)
}

// Catalog holds the plan table. Stored plans override the defaults by name.
type Catalog struct {
	mu          sync.RWMutex
	defaults    map[string]Plan
	plans       map[string]Plan
	lastRefresh time.Time
}

func NewCatalog() *Catalog {
	c := &Catalog{defaults: make(map[string]Plan)}
	for _, p := range DefaultPlans() {
		c.defaults[p.Name] = p
	}
	c.plans = cloneTable(c.defaults)
	return c
}

func (c *Catalog) Load(ctx context.Context, store PlanStore) error {
	stored, err := store.ListPlans(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	plans := cloneTable(c.defaults)
	for _, p := range stored {
		name := normalizeName(p.Name)
		if name == "" || !p.AnnualRate.IsPositive() {
			continue
		}
		plans[name] = Plan{
			Name:               name,
			AnnualRate:         p.AnnualRate,
			MinAmount:          p.MinAmount,
			ManagementFeeRate:  p.ManagementFeeRate,
			PerformanceFeeRate: p.PerformanceFeeRate,
		}
	}
	c.plans = plans
	c.lastRefresh = time.Now()
	return nil
}

func (c *Catalog) Refresh(ctx context.Context, store PlanStore) error {
	return c.Load(ctx, store)
}

func (c *Catalog) Lookup(name string) (Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[normalizeName(name)]
	return p, ok
}

// Resolve returns the named plan, or a fee-free plan at UnknownPlanRate.
func (c *Catalog) Resolve(name string) Plan {
	if p, ok := c.Lookup(name); ok {
		return p
	}
	return Plan{Name: normalizeName(name), AnnualRate: UnknownPlanRate}
}

func (c *Catalog) Rate(name string) decimal.Decimal {
	return c.Resolve(name).AnnualRate
}

func (c *Catalog) All() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinAmount.LessThan(out[j].MinAmount) })
	return out
}

func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

func (c *Catalog) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

func cloneTable(in map[string]Plan) map[string]Plan {
	out := make(map[string]Plan, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
