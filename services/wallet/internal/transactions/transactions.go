// Package transactions records funding and investment transactions and
// enforces their status lifecycle.
package transactions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	CreateTransaction(ctx context.Context, tx *storage.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (storage.Transaction, error)
	GetTransactionByExternalRef(ctx context.Context, ref string) (storage.Transaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, fn func(*storage.Transaction) error) (storage.Transaction, error)
	ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]storage.Transaction, error)
	ListStaleTransactions(ctx context.Context, statuses []storage.TransactionStatus, before time.Time, limit int) ([]storage.Transaction, error)
}

type Metrics interface {
	ObserveTransition(txType, status string)
}

// Draft is the caller-supplied part of a new transaction.
type Draft struct {
	UserID       uuid.UUID
	Type         storage.TransactionType
	Method       storage.Method
	Amount       decimal.Decimal
	Currency     string
	NetworkFee   decimal.Decimal
	PlatformFee  decimal.Decimal
	ToAddress    string
	FromAddress  string
	ExternalRef  string
	InvestmentID uuid.UUID
	Metadata     map[string]string
}

type Service struct {
	store   Store
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

func NewService(store Store, logger *slog.Logger, metrics Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create persists d as a pending transaction.
func (s *Service) Create(ctx context.Context, d Draft) (storage.Transaction, error) {
	cur, err := currency.Normalize(d.Currency)
	if err != nil {
		return storage.Transaction{}, err
	}
	if err := currency.ValidAmount(d.Amount); err != nil {
		return storage.Transaction{}, err
	}
	if d.UserID == uuid.Nil {
		return storage.Transaction{}, fmt.Errorf("user_id is required")
	}
	if d.Type == "" {
		return storage.Transaction{}, fmt.Errorf("transaction type is required")
	}

	tx := storage.Transaction{
		ID:           uuid.New(),
		UserID:       d.UserID,
		Type:         d.Type,
		Status:       storage.StatusPending,
		Method:       d.Method,
		Amount:       d.Amount,
		Currency:     cur,
		NetworkFee:   d.NetworkFee,
		PlatformFee:  d.PlatformFee,
		ToAddress:    strings.TrimSpace(d.ToAddress),
		FromAddress:  strings.TrimSpace(d.FromAddress),
		ExternalRef:  d.ExternalRef,
		InvestmentID: d.InvestmentID,
		Metadata:     d.Metadata,
		CreatedAt:    s.now(),
	}
	tx.RecomputeNetAmount()

	if err := s.store.CreateTransaction(ctx, &tx); err != nil {
		return storage.Transaction{}, err
	}
	s.observe(tx)
	s.logger.Info("transaction created", "transaction_id", tx.ID.String(), "user_id", tx.UserID.String(),
		"type", string(tx.Type), "amount", tx.Amount.String(), "currency", tx.Currency)
	return tx, nil
}

func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID) (storage.Transaction, error) {
	return s.transition(ctx, id, storage.StatusProcessing, nil)
}

// MarkCompleted completes the transaction, recording txHash when non-empty.
func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID, txHash string) (storage.Transaction, error) {
	return s.transition(ctx, id, storage.StatusCompleted, func(tx *storage.Transaction) {
		if hash := strings.TrimSpace(txHash); hash != "" {
			tx.TxHash = hash
		}
		now := s.now()
		tx.CompletedAt = &now
	})
}

func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (storage.Transaction, error) {
	return s.transition(ctx, id, storage.StatusFailed, func(tx *storage.Transaction) {
		tx.FailureReason = reason
	})
}

func (s *Service) MarkCancelled(ctx context.Context, id uuid.UUID) (storage.Transaction, error) {
	return s.transition(ctx, id, storage.StatusCancelled, func(tx *storage.Transaction) {
		now := s.now()
		tx.CancelledAt = &now
	})
}

func (s *Service) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (storage.Transaction, error) {
	return s.transition(ctx, id, storage.StatusRejected, func(tx *storage.Transaction) {
		tx.FailureReason = reason
	})
}

// AttachReference stores collaborator identifiers on a live transaction.
func (s *Service) AttachReference(ctx context.Context, id uuid.UUID, externalRef, txHash string, confirmations int) (storage.Transaction, error) {
	return s.store.UpdateTransaction(ctx, id, func(tx *storage.Transaction) error {
		if err := checkLive(tx); err != nil {
			return err
		}
		if externalRef != "" {
			tx.ExternalRef = externalRef
		}
		if txHash != "" {
			tx.TxHash = txHash
		}
		if confirmations > tx.Confirmations {
			tx.Confirmations = confirmations
		}
		return nil
	})
}

// SetFees replaces the fee fields of a live transaction and recomputes its
// net amount.
func (s *Service) SetFees(ctx context.Context, id uuid.UUID, networkFee, platformFee decimal.Decimal) (storage.Transaction, error) {
	return s.store.UpdateTransaction(ctx, id, func(tx *storage.Transaction) error {
		if err := checkLive(tx); err != nil {
			return err
		}
		tx.NetworkFee = networkFee
		tx.PlatformFee = platformFee
		tx.RecomputeNetAmount()
		return nil
	})
}

// Reprice replaces the amount and fees of a live transaction, for transfers
// whose settled amount differs from the one requested.
func (s *Service) Reprice(ctx context.Context, id uuid.UUID, amount, networkFee, platformFee decimal.Decimal) (storage.Transaction, error) {
	if !amount.IsPositive() {
		return storage.Transaction{}, fmt.Errorf("amount %s: %w", amount, walleterr.ErrInvalidAmount)
	}
	return s.store.UpdateTransaction(ctx, id, func(tx *storage.Transaction) error {
		if err := checkLive(tx); err != nil {
			return err
		}
		tx.Amount = amount
		tx.NetworkFee = networkFee
		tx.PlatformFee = platformFee
		tx.RecomputeNetAmount()
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (storage.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *Service) GetByReference(ctx context.Context, ref string) (storage.Transaction, error) {
	return s.store.GetTransactionByExternalRef(ctx, ref)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, filter storage.TransactionFilter) ([]storage.Transaction, error) {
	filter.UserID = userID
	return s.store.ListTransactions(ctx, filter)
}

// ListStale returns pending and processing transactions untouched for at
// least olderThan.
func (s *Service) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]storage.Transaction, error) {
	return s.store.ListStaleTransactions(ctx,
		[]storage.TransactionStatus{storage.StatusPending, storage.StatusProcessing},
		s.now().Add(-olderThan), limit)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to storage.TransactionStatus, apply func(*storage.Transaction)) (storage.Transaction, error) {
	var from storage.TransactionStatus
	tx, err := s.store.UpdateTransaction(ctx, id, func(tx *storage.Transaction) error {
		if err := checkTransition(tx.Status, to); err != nil {
			return err
		}
		from = tx.Status
		tx.Status = to
		if apply != nil {
			apply(tx)
		}
		tx.RecomputeNetAmount()
		return nil
	})
	if err != nil {
		return storage.Transaction{}, err
	}
	s.observe(tx)
	s.logger.Info("transaction status changed", "transaction_id", id.String(), "from", string(from), "to", string(to))
	return tx, nil
}

func (s *Service) observe(tx storage.Transaction) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(tx.Type), string(tx.Status))
	}
}

func checkLive(tx *storage.Transaction) error {
	if IsTerminal(tx.Status) {
		return fmt.Errorf("%s transaction is final: %w", tx.Status, walleterr.ErrInvalidStateTransition)
	}
	return nil
}
