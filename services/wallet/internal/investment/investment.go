// Package investment runs the investment lifecycle: funds are locked on
// creation, released with a penalty on early cancellation, and released
// with the accrued profit at maturity.
package investment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/accrual"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/notify"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/transactions"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MinDurationDays = 7
	MaxDurationDays = 720
)

type Store interface {
	CreateInvestment(ctx context.Context, inv *storage.Investment) error
	GetInvestment(ctx context.Context, id uuid.UUID) (storage.Investment, error)
	UpdateInvestment(ctx context.Context, id uuid.UUID, fn func(*storage.Investment) error) (storage.Investment, error)
	ListInvestments(ctx context.Context, userID uuid.UUID, status storage.InvestmentStatus) ([]storage.Investment, error)
	ListMaturable(ctx context.Context, now time.Time, limit int) ([]storage.Investment, error)
}

type Ledger interface {
	AddFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
	DeductFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
	LockFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
	UnlockFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
}

// Market supplies the live accrual multiplier.
type Market interface {
	MarketMultiplier(ctx context.Context) decimal.Decimal
}

type Metrics interface {
	ObserveCompensation(flow string, ok bool)
	ObserveInvestment(event string)
}

type Options struct {
	MinLockDays         int
	CancellationFeeRate decimal.Decimal
}

type Deps struct {
	Store        Store
	Ledger       Ledger
	Transactions *transactions.Service
	Catalog      *accrual.Catalog
	Market       Market
	Notifier     notify.Notifier
}

type Manager struct {
	store    Store
	ledger   Ledger
	txs      *transactions.Service
	catalog  *accrual.Catalog
	market   Market
	notifier notify.Notifier
	minLock  int
	feeRate  decimal.Decimal
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

func NewManager(deps Deps, opts Options, logger *slog.Logger, metrics Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    deps.Store,
		ledger:   deps.Ledger,
		txs:      deps.Transactions,
		catalog:  deps.Catalog,
		market:   deps.Market,
		notifier: deps.Notifier,
		minLock:  opts.MinLockDays,
		feeRate:  opts.CancellationFeeRate,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if m.minLock <= 0 {
		m.minLock = 7
	}
	if !m.feeRate.IsPositive() {
		m.feeRate = decimal.RequireFromString("0.01")
	}
	if m.catalog == nil {
		m.catalog = accrual.NewCatalog()
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	return m
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

type CreateInput struct {
	UserID       uuid.UUID
	Plan         string
	Amount       decimal.Decimal
	Currency     string
	DurationDays int
	Compounding  bool
	Frequency    accrual.Frequency
}

// Create locks the principal and opens an active investment.
func (m *Manager) Create(ctx context.Context, in CreateInput) (storage.Investment, error) {
	plan, ok := m.catalog.Lookup(in.Plan)
	if !ok {
		return storage.Investment{}, fmt.Errorf("plan %q: %w", in.Plan, walleterr.ErrInvalidPlan)
	}
	cur, err := currency.Normalize(in.Currency)
	if err != nil {
		return storage.Investment{}, err
	}
	if err := currency.ValidAmount(in.Amount); err != nil {
		return storage.Investment{}, err
	}
	if in.Amount.LessThan(plan.MinAmount) {
		return storage.Investment{}, fmt.Errorf("%s plan requires at least %s: %w", plan.Name, plan.MinAmount, walleterr.ErrBelowMinimum)
	}
	if err := checkDuration(in.DurationDays); err != nil {
		return storage.Investment{}, err
	}
	freq, err := normalizeFrequency(in.Compounding, in.Frequency)
	if err != nil {
		return storage.Investment{}, err
	}

	if _, err := m.ledger.LockFunds(ctx, in.UserID, cur, in.Amount); err != nil {
		return storage.Investment{}, err
	}
	s := m.newSaga("investment.create")
	s.onFailure("unlock", func(ctx context.Context) error {
		_, err := m.ledger.UnlockFunds(ctx, in.UserID, cur, in.Amount)
		return err
	})

	now := m.now()
	invID := uuid.New()
	tx, err := m.txs.Create(ctx, transactions.Draft{
		UserID:       in.UserID,
		Type:         storage.TxInvestment,
		Method:       storage.MethodInternal,
		Amount:       in.Amount,
		Currency:     cur,
		InvestmentID: invID,
		Metadata:     map[string]string{"plan": plan.Name},
	})
	if err != nil {
		s.rollback(ctx, err)
		return storage.Investment{}, err
	}
	s.onFailure("fail_transaction", func(ctx context.Context) error {
		_, err := m.txs.MarkFailed(ctx, tx.ID, "investment creation rolled back")
		return err
	})

	projection := accrual.Project(accrual.Input{
		Principal:    in.Amount,
		Plan:         plan,
		DurationDays: in.DurationDays,
		StartDate:    now,
		Compounding:  freq != accrual.FrequencyNone,
		Frequency:    freq,
		Simulation:   true,
	})
	inv := storage.Investment{
		ID:                   invID,
		UserID:               in.UserID,
		Plan:                 plan.Name,
		Amount:               in.Amount,
		Currency:             cur,
		DurationDays:         in.DurationDays,
		StartDate:            now,
		EndDate:              accrual.EndDate(now, in.DurationDays),
		Status:               storage.InvestmentActive,
		ExpectedReturnRate:   plan.AnnualRate,
		ExpectedProfit:       currency.Round(cur, projection.ExpectedProfit),
		IsCompounding:        freq != accrual.FrequencyNone,
		CompoundingFrequency: string(freq),
		TransactionIDs:       []uuid.UUID{tx.ID},
		CreatedAt:            now,
	}
	inv.Recompute()
	if err := m.store.CreateInvestment(ctx, &inv); err != nil {
		s.rollback(ctx, err)
		return storage.Investment{}, err
	}
	s.onFailure("void_investment", func(ctx context.Context) error {
		_, err := m.store.UpdateInvestment(ctx, inv.ID, func(i *storage.Investment) error {
			i.Status = storage.InvestmentCancelled
			i.CancellationReason = "creation rolled back"
			return nil
		})
		return err
	})

	if _, err := m.txs.MarkCompleted(ctx, tx.ID, ""); err != nil {
		s.rollback(ctx, err)
		return storage.Investment{}, err
	}

	m.observe("created")
	m.logger.Info("investment created", "investment_id", inv.ID.String(), "user_id", inv.UserID.String(),
		"plan", inv.Plan, "amount", inv.Amount.String(), "currency", inv.Currency, "duration_days", inv.DurationDays)
	m.notify(notify.EventInvestmentCreated, inv)
	return inv, nil
}

// Cancel ends an active investment early. The principal is released and a
// cancellation fee is taken from it.
func (m *Manager) Cancel(ctx context.Context, userID, id uuid.UUID, reason string) (storage.Investment, error) {
	inv, err := m.Get(ctx, userID, id)
	if err != nil {
		return storage.Investment{}, err
	}
	if inv.Status != storage.InvestmentActive {
		return storage.Investment{}, fmt.Errorf("investment %s is %s: %w", id, inv.Status, walleterr.ErrNotFound)
	}
	now := m.now()
	if now.Sub(inv.StartDate) < time.Duration(m.minLock)*24*time.Hour {
		return storage.Investment{}, fmt.Errorf("investment %s can be cancelled after %d days: %w", id, m.minLock, walleterr.ErrLockPeriodActive)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by user"
	}
	fee := currency.Round(inv.Currency, inv.Amount.Mul(m.feeRate))

	s := m.newSaga("investment.cancel")
	cancelled, err := m.store.UpdateInvestment(ctx, id, func(i *storage.Investment) error {
		if i.Status != storage.InvestmentActive {
			return fmt.Errorf("investment %s is %s: %w", id, i.Status, walleterr.ErrNotFound)
		}
		i.Status = storage.InvestmentCancelled
		i.CancellationReason = reason
		i.CancelledAt = &now
		i.ActualProfit = decimal.Zero
		i.ManagementFeeAmount = fee
		i.PerformanceFeeAmount = decimal.Zero
		i.Recompute()
		return nil
	})
	if err != nil {
		return storage.Investment{}, err
	}
	s.onFailure("reactivate", m.restore(inv))

	if _, err := m.ledger.UnlockFunds(ctx, inv.UserID, inv.Currency, inv.Amount); err != nil {
		s.rollback(ctx, err)
		return storage.Investment{}, err
	}
	s.onFailure("relock", func(ctx context.Context) error {
		_, err := m.ledger.LockFunds(ctx, inv.UserID, inv.Currency, inv.Amount)
		return err
	})

	if fee.IsPositive() {
		if _, err := m.ledger.DeductFunds(ctx, inv.UserID, inv.Currency, fee); err != nil {
			s.rollback(ctx, err)
			return storage.Investment{}, err
		}
		s.onFailure("refund_fee", func(ctx context.Context) error {
			_, err := m.ledger.AddFunds(ctx, inv.UserID, inv.Currency, fee)
			return err
		})
	}

	refund, err := m.book(ctx, s, transactions.Draft{
		UserID:       inv.UserID,
		Type:         storage.TxRefund,
		Method:       storage.MethodInternal,
		Amount:       inv.Amount,
		Currency:     inv.Currency,
		PlatformFee:  fee,
		InvestmentID: inv.ID,
		Metadata:     map[string]string{"reason": reason},
	})
	if err != nil {
		return storage.Investment{}, err
	}
	cancelled = m.linkTransaction(ctx, cancelled, refund.ID)

	m.observe("cancelled")
	m.logger.Info("investment cancelled", "investment_id", id.String(), "user_id", inv.UserID.String(),
		"fee", fee.String(), "refund", refund.NetAmount.String())
	m.notify(notify.EventInvestmentCancelled, cancelled)
	return cancelled, nil
}

// Mature settles an investment at or after its end date. Maturing a
// completed investment again returns it unchanged.
func (m *Manager) Mature(ctx context.Context, id uuid.UUID) (storage.Investment, error) {
	inv, err := m.store.GetInvestment(ctx, id)
	if err != nil {
		return storage.Investment{}, err
	}
	if inv.Status == storage.InvestmentCompleted {
		return inv, nil
	}
	if inv.Status != storage.InvestmentActive {
		return storage.Investment{}, fmt.Errorf("investment %s is %s: %w", id, inv.Status, walleterr.ErrInvalidStateTransition)
	}
	now := m.now()
	if !accrual.IsMaturable(inv, now) {
		return storage.Investment{}, fmt.Errorf("investment %s matures at %s: %w", id, inv.EndDate.Format(time.RFC3339), walleterr.ErrLockPeriodActive)
	}

	result := accrual.Compute(m.liveInput(ctx, inv), now)
	profit := currency.Round(inv.Currency, result.CurrentProfit)
	mgmt := currency.Round(inv.Currency, result.ManagementFee)
	perf := currency.Round(inv.Currency, result.PerformanceFee)

	s := m.newSaga("investment.mature")
	matured, err := m.store.UpdateInvestment(ctx, id, func(i *storage.Investment) error {
		if i.Status != storage.InvestmentActive {
			return fmt.Errorf("investment %s is %s: %w", id, i.Status, walleterr.ErrInvalidStateTransition)
		}
		i.Status = storage.InvestmentCompleted
		i.CompletedAt = &now
		i.ActualProfit = profit
		i.ManagementFeeAmount = mgmt
		i.PerformanceFeeAmount = perf
		i.Recompute()
		return nil
	})
	if err != nil {
		return storage.Investment{}, err
	}
	s.onFailure("reactivate", m.restore(inv))

	if _, err := m.ledger.UnlockFunds(ctx, inv.UserID, inv.Currency, inv.Amount); err != nil {
		s.rollback(ctx, err)
		return storage.Investment{}, err
	}
	s.onFailure("relock", func(ctx context.Context) error {
		_, err := m.ledger.LockFunds(ctx, inv.UserID, inv.Currency, inv.Amount)
		return err
	})

	delta := profit.Sub(matured.TotalFees)
	switch {
	case delta.IsPositive():
		if _, err := m.ledger.AddFunds(ctx, inv.UserID, inv.Currency, delta); err != nil {
			s.rollback(ctx, err)
			return storage.Investment{}, err
		}
		s.onFailure("reverse_profit", func(ctx context.Context) error {
			_, err := m.ledger.DeductFunds(ctx, inv.UserID, inv.Currency, delta)
			return err
		})
	case delta.IsNegative():
		loss := delta.Neg()
		if _, err := m.ledger.DeductFunds(ctx, inv.UserID, inv.Currency, loss); err != nil {
			s.rollback(ctx, err)
			return storage.Investment{}, err
		}
		s.onFailure("reverse_fees", func(ctx context.Context) error {
			_, err := m.ledger.AddFunds(ctx, inv.UserID, inv.Currency, loss)
			return err
		})
	}

	var bookedID uuid.UUID
	if profit.IsPositive() {
		booked, err := m.book(ctx, s, transactions.Draft{
			UserID:       inv.UserID,
			Type:         storage.TxProfit,
			Method:       storage.MethodInternal,
			Amount:       profit,
			Currency:     inv.Currency,
			PlatformFee:  matured.TotalFees,
			InvestmentID: inv.ID,
			Metadata:     map[string]string{"multiplier": result.Multiplier.String()},
		})
		if err != nil {
			return storage.Investment{}, err
		}
		bookedID = booked.ID
	}
	if bookedID != uuid.Nil {
		matured = m.linkTransaction(ctx, matured, bookedID)
	}

	m.observe("matured")
	m.logger.Info("investment matured", "investment_id", id.String(), "user_id", inv.UserID.String(),
		"profit", profit.String(), "fees", matured.TotalFees.String(), "multiplier", result.Multiplier.String())
	m.notify(notify.EventInvestmentMatured, matured)
	return matured, nil
}

type MaturityReport struct {
	Matured int `json:"matured"`
	Failed  int `json:"failed"`
}

// MatureDue matures up to limit investments whose end date has passed.
func (m *Manager) MatureDue(ctx context.Context, limit int) (MaturityReport, error) {
	due, err := m.store.ListMaturable(ctx, m.now(), limit)
	if err != nil {
		return MaturityReport{}, err
	}
	var report MaturityReport
	for _, inv := range due {
		if _, err := m.Mature(ctx, inv.ID); err != nil {
			report.Failed++
			m.logger.Error("mature investment failed", "investment_id", inv.ID.String(), "error", err)
			continue
		}
		report.Matured++
	}
	return report, nil
}

func (m *Manager) Get(ctx context.Context, userID, id uuid.UUID) (storage.Investment, error) {
	inv, err := m.store.GetInvestment(ctx, id)
	if err != nil {
		return storage.Investment{}, err
	}
	if inv.UserID != userID {
		return storage.Investment{}, fmt.Errorf("investment %s: %w", id, walleterr.ErrNotFound)
	}
	return inv, nil
}

func (m *Manager) ListByUser(ctx context.Context, userID uuid.UUID, status storage.InvestmentStatus) ([]storage.Investment, error) {
	return m.store.ListInvestments(ctx, userID, status)
}

type Position struct {
	Investment storage.Investment `json:"investment"`
	Accrual    accrual.Result     `json:"accrual"`
}

// Preview returns the investment with its live accrual as of now.
func (m *Manager) Preview(ctx context.Context, userID, id uuid.UUID) (Position, error) {
	inv, err := m.Get(ctx, userID, id)
	if err != nil {
		return Position{}, err
	}
	if inv.Status != storage.InvestmentActive {
		return Position{Investment: inv}, nil
	}
	return Position{Investment: inv, Accrual: accrual.Compute(m.liveInput(ctx, inv), m.now())}, nil
}

type SimulateInput struct {
	Plan         string
	Amount       decimal.Decimal
	DurationDays int
	Compounding  bool
	Frequency    accrual.Frequency
}

type Simulation struct {
	Plan         accrual.Plan      `json:"plan"`
	Principal    decimal.Decimal   `json:"principal"`
	DurationDays int               `json:"duration_days"`
	Frequency    accrual.Frequency `json:"frequency"`
	Projection   accrual.Result    `json:"projection"`
}

// Simulate projects an investment to maturity without touching any state.
// Unknown plans are priced at the fallback rate.
func (m *Manager) Simulate(in SimulateInput) (Simulation, error) {
	if err := currency.ValidAmount(in.Amount); err != nil {
		return Simulation{}, err
	}
	if err := checkDuration(in.DurationDays); err != nil {
		return Simulation{}, err
	}
	freq, err := normalizeFrequency(in.Compounding, in.Frequency)
	if err != nil {
		return Simulation{}, err
	}
	plan := m.catalog.Resolve(in.Plan)
	projection := accrual.Project(accrual.Input{
		Principal:    in.Amount,
		Plan:         plan,
		DurationDays: in.DurationDays,
		StartDate:    m.now(),
		Compounding:  freq != accrual.FrequencyNone,
		Frequency:    freq,
		Simulation:   true,
	})
	return Simulation{
		Plan:         plan,
		Principal:    in.Amount,
		DurationDays: in.DurationDays,
		Frequency:    freq,
		Projection:   projection,
	}, nil
}

// Plans lists the catalog.
func (m *Manager) Plans() []accrual.Plan {
	return m.catalog.All()
}

// liveInput prices inv at the rate it was opened with.
func (m *Manager) liveInput(ctx context.Context, inv storage.Investment) accrual.Input {
	plan := m.catalog.Resolve(inv.Plan)
	plan.AnnualRate = inv.ExpectedReturnRate
	multiplier := decimal.NewFromInt(1)
	if m.market != nil {
		multiplier = m.market.MarketMultiplier(ctx)
	}
	return accrual.Input{
		Principal:        inv.Amount,
		Plan:             plan,
		DurationDays:     inv.DurationDays,
		StartDate:        inv.StartDate,
		Compounding:      inv.IsCompounding,
		Frequency:        accrual.Frequency(inv.CompoundingFrequency),
		MarketMultiplier: multiplier,
	}
}

// book records a completed internal transaction, rolling s back on failure.
func (m *Manager) book(ctx context.Context, s *saga, d transactions.Draft) (storage.Transaction, error) {
	tx, err := m.txs.Create(ctx, d)
	if err != nil {
		s.rollback(ctx, err)
		return storage.Transaction{}, err
	}
	completed, err := m.txs.MarkCompleted(ctx, tx.ID, "")
	if err != nil {
		s.onFailure("fail_transaction", func(ctx context.Context) error {
			_, err := m.txs.MarkFailed(ctx, tx.ID, "rolled back")
			return err
		})
		s.rollback(ctx, err)
		return storage.Transaction{}, err
	}
	return completed, nil
}

// linkTransaction appends txID to the investment. Failure only loses the
// back-reference; the transaction itself carries the investment id.
func (m *Manager) linkTransaction(ctx context.Context, inv storage.Investment, txID uuid.UUID) storage.Investment {
	updated, err := m.store.UpdateInvestment(ctx, inv.ID, func(i *storage.Investment) error {
		i.TransactionIDs = append(i.TransactionIDs, txID)
		return nil
	})
	if err != nil {
		m.logger.Warn("link transaction to investment failed", "investment_id", inv.ID.String(), "transaction_id", txID.String(), "error", err)
		return inv
	}
	return updated
}

// restore returns an undo step that puts the investment back as it was.
func (m *Manager) restore(prev storage.Investment) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := m.store.UpdateInvestment(ctx, prev.ID, func(i *storage.Investment) error {
			*i = prev
			return nil
		})
		return err
	}
}

func (m *Manager) observe(event string) {
	if m.metrics != nil {
		m.metrics.ObserveInvestment(event)
	}
}

func (m *Manager) notify(eventType string, inv storage.Investment) {
	m.notifier.Notify(eventType, inv.UserID, inv.ID, notify.Fields{
		Amount:   inv.Amount.String(),
		Currency: inv.Currency,
		Status:   string(inv.Status),
		Details:  map[string]string{"plan": inv.Plan, "net_amount": inv.NetAmount.String()},
	})
}

func checkDuration(days int) error {
	if days < MinDurationDays || days > MaxDurationDays {
		return fmt.Errorf("duration %d days outside %d-%d: %w", days, MinDurationDays, MaxDurationDays, walleterr.ErrInvalidDuration)
	}
	return nil
}

// normalizeFrequency defaults compounding investments to monthly. An
// explicit none means simple interest whatever the compounding flag says,
// and a frequency other than none implies compounding.
func normalizeFrequency(compounding bool, f accrual.Frequency) (accrual.Frequency, error) {
	f = accrual.Frequency(strings.ToLower(strings.TrimSpace(string(f))))
	switch {
	case f == accrual.FrequencyNone:
		return accrual.FrequencyNone, nil
	case f == "" && !compounding:
		return accrual.FrequencyNone, nil
	case f == "":
		return accrual.FrequencyMonthly, nil
	case !accrual.ValidFrequency(f):
		return "", fmt.Errorf("compounding frequency %q: %w", f, walleterr.ErrInvalidPlan)
	}
	return f, nil
}
