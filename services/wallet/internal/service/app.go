// Package service assembles the wallet engine from its parts and owns the
// background jobs that keep it consistent.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AfshinJalili/goinvest/libs/kafka"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/accrual"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/blockchain"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/consumer"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/funding"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/gateway"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/investment"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/ledger"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/notify"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/pricing"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/settlement"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/transactions"
)

// Store is everything the engine persists. *storage.Memory and
// *storage.Postgres both satisfy it.
type Store interface {
	ledger.Store
	transactions.Store
	investment.Store
	accrual.PlanStore
	Ping(ctx context.Context) error
}

type Schedules struct {
	Reconcile string
	Mature    string
	Plans     string
}

type Options struct {
	Store Store
	// Optional collaborators. Nil values fall back to in-process
	// implementations.
	Queue        settlement.Queue
	Publisher    kafka.Publisher
	PriceSource  pricing.Source
	SharedPrices pricing.SharedCache
	Gateway      funding.Gateway
	Chain        funding.Chain

	Pricing    pricing.Options
	Funding    funding.Options
	Investment investment.Options
	Worker     settlement.WorkerOptions
	Schedules  Schedules
	JobTimeout time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

type App struct {
	Store        Store
	Ledger       *ledger.Ledger
	Transactions *transactions.Service
	Catalog      *accrual.Catalog
	Prices       *pricing.Feed
	Funding      *funding.Service
	Investments  *investment.Manager
	Notifier     *notify.KafkaNotifier
	Payments     *consumer.PaymentConsumer
	Worker       *settlement.Worker
	Scheduler    *settlement.Scheduler

	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewApp(ctx context.Context, opts Options, logger *slog.Logger, metrics *Metrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if opts.Queue == nil {
		opts.Queue = settlement.NewMemoryQueue()
	}
	if opts.Publisher == nil {
		opts.Publisher = kafka.NewLogPublisher(logger)
	}
	if opts.Gateway == nil {
		opts.Gateway = gateway.NewSandbox()
	}
	if opts.Chain == nil {
		opts.Chain = blockchain.NewSandbox()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Schedules.Reconcile == "" {
		opts.Schedules.Reconcile = "@every 1m"
	}
	if opts.Schedules.Mature == "" {
		opts.Schedules.Mature = "@every 5m"
	}
	if opts.Schedules.Plans == "" {
		opts.Schedules.Plans = "@every 10m"
	}

	catalog := accrual.NewCatalog()
	if err := catalog.Load(ctx, opts.Store); err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}

	a := &App{
		Store:      opts.Store,
		Catalog:    catalog,
		staleAfter: opts.StaleAfter,
		batchSize:  opts.BatchSize,
		logger:     logger,
	}
	a.Ledger = ledger.New(opts.Store, logger, metrics)
	a.Transactions = transactions.NewService(opts.Store, logger, metrics)
	a.Prices = pricing.NewFeed(opts.PriceSource, opts.SharedPrices, opts.Pricing, logger, metrics)
	a.Notifier = notify.NewKafkaNotifier(opts.Publisher, logger, metrics)

	a.Funding = funding.NewService(funding.Deps{
		Ledger:       a.Ledger,
		Transactions: a.Transactions,
		Gateway:      opts.Gateway,
		Chain:        opts.Chain,
		Queue:        opts.Queue,
		Notifier:     a.Notifier,
	}, opts.Funding, logger, metrics)

	a.Investments = investment.NewManager(investment.Deps{
		Store:        opts.Store,
		Ledger:       a.Ledger,
		Transactions: a.Transactions,
		Catalog:      catalog,
		Market:       a.Prices,
		Notifier:     a.Notifier,
	}, opts.Investment, logger, metrics)

	a.Payments = consumer.NewPaymentConsumer(a.Funding, logger)

	a.Worker = settlement.NewWorker(opts.Queue, opts.Worker, logger, metrics)
	a.Worker.Handle(settlement.KindDepositCheck, a.Funding.Check)
	a.Worker.Handle(settlement.KindWithdrawalCheck, a.Funding.Check)

	a.Scheduler = settlement.NewScheduler(logger, metrics, opts.JobTimeout)
	jobs := []struct {
		name string
		spec string
		task settlement.Task
	}{
		{settlement.JobReconcile, opts.Schedules.Reconcile, a.reconcile},
		{settlement.JobMature, opts.Schedules.Mature, a.mature},
		{settlement.JobPlans, opts.Schedules.Plans, a.refreshPlans},
	}
	for _, job := range jobs {
		if err := a.Scheduler.Register(job.name, job.spec, job.task); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Start runs the scheduler and the settlement worker until Stop.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.Scheduler.Start()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Worker.Run(ctx)
	}()
}

// Stop halts background work and waits for in-flight notifications.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.Scheduler.Stop()
	a.wg.Wait()
	a.Notifier.Close()
}

// Reconcile sweeps unresolved funding transactions older than the stale
// threshold.
func (a *App) Reconcile(ctx context.Context) (funding.ReconcileReport, error) {
	return a.Funding.Reconcile(ctx, a.staleAfter, a.batchSize)
}

// MatureDue settles investments whose end date has passed.
func (a *App) MatureDue(ctx context.Context) (investment.MaturityReport, error) {
	return a.Investments.MatureDue(ctx, a.batchSize)
}

func (a *App) reconcile(ctx context.Context) error {
	report, err := a.Reconcile(ctx)
	if err != nil {
		return err
	}
	if report.Checked > 0 {
		a.logger.Info("reconcile sweep", "checked", report.Checked, "completed", report.Completed,
			"failed", report.Failed, "pending", report.Pending, "errors", report.Errors)
	}
	return nil
}

func (a *App) mature(ctx context.Context) error {
	report, err := a.MatureDue(ctx)
	if err != nil {
		return err
	}
	if report.Matured > 0 || report.Failed > 0 {
		a.logger.Info("maturity sweep", "matured", report.Matured, "failed", report.Failed)
	}
	return nil
}

func (a *App) refreshPlans(ctx context.Context) error {
	return a.Catalog.Refresh(ctx, a.Store)
}
