// Package pricing proxies USD prices for display valuation and the live
// accrual market multiplier. Lookups never fail: a broken upstream degrades
// to cached, last known, or static prices.
package pricing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

type Metrics interface {
	ObservePriceLookup(source string)
}

type Options struct {
	CacheTTL         time.Duration
	CacheSize        int
	FetchTimeout     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Benchmark        string
}

type Feed struct {
	source    Source
	cache     *Cache
	shared    SharedCache
	breaker   *circuitBreaker
	static    map[string]decimal.Decimal
	benchmark string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   Metrics

	mu        sync.RWMutex
	lastKnown map[string]Quote
}

// NewFeed builds a feed over source. A nil source serves static prices only.
func NewFeed(source Source, shared SharedCache, opts Options, logger *slog.Logger, metrics Metrics) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 3 * time.Second
	}
	if opts.Benchmark == "" {
		opts.Benchmark = currency.BTC
	}
	return &Feed{
		source:    source,
		cache:     NewCache(opts.CacheTTL, opts.CacheSize),
		shared:    shared,
		breaker:   newCircuitBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		static:    StaticPrices(),
		benchmark: opts.Benchmark,
		timeout:   opts.FetchTimeout,
		logger:    logger,
		metrics:   metrics,
		lastKnown: make(map[string]Quote),
	}
}

func (f *Feed) Price(ctx context.Context, cur string) Quote {
	if q, ok := f.cache.Get(cur); ok {
		q.Source = SourceCache
		return f.served(q)
	}
	if f.shared != nil {
		q, ok, err := f.shared.Get(ctx, cur)
		if err != nil {
			f.logger.Warn("shared price cache read failed", "currency", cur, "error", err)
		} else if ok {
			f.cache.Set(cur, q)
			q.Source = SourceShared
			return f.served(q)
		}
	}

	if f.source != nil && f.breaker.Allow() {
		fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
		q, err := f.source.Fetch(fetchCtx, cur)
		cancel()
		if err == nil {
			f.breaker.RecordSuccess()
			f.remember(q)
			return f.served(q)
		}
		f.breaker.RecordFailure()
		f.logger.Warn("price fetch failed", "currency", cur, "error", err)
	}

	f.mu.RLock()
	last, ok := f.lastKnown[cur]
	f.mu.RUnlock()
	if ok {
		last.Source = SourceLastKnown
		return f.served(last)
	}
	return f.served(Quote{
		Currency:  cur,
		USD:       f.static[cur],
		Source:    SourceStatic,
		FetchedAt: time.Now().UTC(),
	})
}

// MarketMultiplier derives the live accrual multiplier from the benchmark's
// 24h change: 1 + change/100. Without a live signal it is 1.
func (f *Feed) MarketMultiplier(ctx context.Context) decimal.Decimal {
	q := f.Price(ctx, f.benchmark)
	if q.Source == SourceStatic || q.Change24h.IsZero() {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(1).Add(q.Change24h.Div(decimal.NewFromInt(100)))
}

type Holding struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	ValueUSD decimal.Decimal `json:"value_usd"`
	Source   string          `json:"source"`
}

type Valuation struct {
	TotalUSD decimal.Decimal `json:"total_usd"`
	Holdings []Holding       `json:"holdings"`
}

// Valuate prices each balance's gross available amount in USD.
func (f *Feed) Valuate(ctx context.Context, balances []storage.Balance) Valuation {
	out := Valuation{TotalUSD: decimal.Zero, Holdings: make([]Holding, 0, len(balances))}
	for _, b := range balances {
		q := f.Price(ctx, b.Currency)
		value := b.Available.Mul(q.USD).Round(2)
		out.Holdings = append(out.Holdings, Holding{
			Currency: b.Currency,
			Amount:   b.Available,
			PriceUSD: q.USD,
			ValueUSD: value,
			Source:   q.Source,
		})
		out.TotalUSD = out.TotalUSD.Add(value)
	}
	return out
}

func (f *Feed) remember(q Quote) {
	f.cache.Set(q.Currency, q)
	f.mu.Lock()
	f.lastKnown[q.Currency] = q
	f.mu.Unlock()
	if f.shared != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := f.shared.Set(ctx, q.Currency, q); err != nil {
			f.logger.Warn("shared price cache write failed", "currency", q.Currency, "error", err)
		}
	}
}

func (f *Feed) served(q Quote) Quote {
	if f.metrics != nil {
		f.metrics.ObservePriceLookup(q.Source)
	}
	return q
}
