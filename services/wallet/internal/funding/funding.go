// Package funding moves money into and out of wallets through the payment
// gateway and the blockchain service.
//
// Funds are reserved before any collaborator is called and no balance lock
// is held across the call. A call that times out leaves its transaction
// pending; the settlement worker and the reconcile sweep resolve it later.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/blockchain"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/fees"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/gateway"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/notify"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/settlement"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/transactions"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Ledger interface {
	AddFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
	DeductFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
	LockFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
	UnlockFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
	SettleLocked(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error)
}

type Gateway interface {
	Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error)
	Payout(ctx context.Context, req gateway.PayoutRequest) (gateway.Result, error)
	Status(ctx context.Context, ref string) (gateway.Result, error)
}

type Chain interface {
	DepositAddress(ctx context.Context, userID uuid.UUID, cur string) (string, error)
	Broadcast(ctx context.Context, req blockchain.BroadcastRequest) (string, error)
	Status(ctx context.Context, hash string) (blockchain.TxStatus, error)
}

type Metrics interface {
	ObserveCompensation(flow string, ok bool)
}

type Options struct {
	CallTimeout time.Duration
	CheckDelay  time.Duration
	Schedule    *fees.Schedule
}

type Deps struct {
	Ledger       Ledger
	Transactions *transactions.Service
	Gateway      Gateway
	Chain        Chain
	Queue        settlement.Queue
	Notifier     notify.Notifier
}

type Service struct {
	ledger   Ledger
	txs      *transactions.Service
	gateway  Gateway
	chain    Chain
	queue    settlement.Queue
	notifier notify.Notifier
	schedule fees.Schedule
	timeout  time.Duration
	delay    time.Duration
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

func NewService(deps Deps, opts Options, logger *slog.Logger, metrics Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		ledger:   deps.Ledger,
		txs:      deps.Transactions,
		gateway:  deps.Gateway,
		chain:    deps.Chain,
		queue:    deps.Queue,
		notifier: deps.Notifier,
		schedule: fees.DefaultSchedule(),
		timeout:  opts.CallTimeout,
		delay:    opts.CheckDelay,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
	if opts.Schedule != nil {
		s.schedule = *opts.Schedule
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.delay <= 0 {
		s.delay = 30 * time.Second
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	return s
}

// Quote prices a funding operation without side effects.
func (s *Service) Quote(op fees.Operation, method storage.Method, amount decimal.Decimal, cur string) (fees.Quote, error) {
	cur, err := checkMethod(method, cur)
	if err != nil {
		return fees.Quote{}, err
	}
	return s.schedule.Calculate(fees.Input{Operation: op, Method: method, Amount: amount, Currency: cur})
}

// CancelPending cancels a pending deposit or withdrawal owned by userID.
// A withdrawal's reservation is released. Withdrawals that reached
// processing have been handed to a collaborator and only settle or fail.
func (s *Service) CancelPending(ctx context.Context, userID, txID uuid.UUID) (storage.Transaction, error) {
	tx, err := s.txs.Get(ctx, txID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.UserID != userID {
		return storage.Transaction{}, fmt.Errorf("transaction %s: %w", txID, walleterr.ErrNotFound)
	}
	if tx.Status != storage.StatusPending {
		return storage.Transaction{}, fmt.Errorf("cannot cancel %s transaction: %w", tx.Status, walleterr.ErrInvalidStateTransition)
	}

	switch tx.Type {
	case storage.TxDeposit:
		return s.txs.MarkCancelled(ctx, txID)
	case storage.TxWithdrawal:
		bg := context.WithoutCancel(ctx)
		if _, err := s.ledger.UnlockFunds(bg, tx.UserID, tx.Currency, tx.Amount); err != nil {
			return storage.Transaction{}, err
		}
		cancelled, err := s.txs.MarkCancelled(bg, txID)
		if err != nil {
			s.relock(bg, tx)
			return storage.Transaction{}, err
		}
		s.notify(notify.EventTransactionFailed, cancelled)
		return cancelled, nil
	}
	return storage.Transaction{}, fmt.Errorf("cannot cancel %s transaction: %w", tx.Type, walleterr.ErrInvalidStateTransition)
}

// checkMethod pairs crypto rails with crypto currencies and card or bank
// rails with fiat.
func checkMethod(method storage.Method, cur string) (string, error) {
	cur, err := currency.Normalize(cur)
	if err != nil {
		return "", err
	}
	if !fees.ValidMethod(method) {
		return "", fmt.Errorf("method %q: %w", method, walleterr.ErrInvalidMethod)
	}
	if (method == storage.MethodCrypto) != currency.IsCrypto(cur) {
		return "", fmt.Errorf("method %s cannot move %s: %w", method, cur, walleterr.ErrInvalidMethod)
	}
	return cur, nil
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// unresolved reports whether err leaves the collaborator outcome unknown.
func unresolved(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, gateway.ErrGatewayTimedOut)
}

func external(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, walleterr.ErrExternalService, err)
}

func (s *Service) enqueueCheck(ctx context.Context, kind string, tx storage.Transaction) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, settlement.NewJob(kind, tx.ID, s.now().Add(s.delay))); err != nil {
		s.logger.Warn("enqueue settlement check failed", "transaction_id", tx.ID.String(), "kind", kind, "error", err)
	}
}

func (s *Service) relock(ctx context.Context, tx storage.Transaction) {
	_, err := s.ledger.LockFunds(ctx, tx.UserID, tx.Currency, tx.Amount)
	s.compensated("relock", tx, err)
}

func (s *Service) compensated(step string, tx storage.Transaction, err error) {
	if s.metrics != nil {
		s.metrics.ObserveCompensation(string(tx.Type)+"."+step, err == nil)
	}
	if err != nil {
		s.logger.Error("compensating action failed", "step", step, "transaction_id", tx.ID.String(),
			"user_id", tx.UserID.String(), "amount", tx.Amount.String(), "currency", tx.Currency, "error", err)
		return
	}
	s.logger.Warn("compensating action applied", "step", step, "transaction_id", tx.ID.String())
}

func (s *Service) notify(eventType string, tx storage.Transaction) {
	s.notifier.Notify(eventType, tx.UserID, tx.ID, notify.Fields{
		Amount:   tx.Amount.String(),
		Currency: tx.Currency,
		Status:   string(tx.Status),
		Details:  map[string]string{"type": string(tx.Type), "method": string(tx.Method)},
	})
}
