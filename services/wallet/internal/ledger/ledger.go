// Package ledger moves funds between the available and locked parts of a
// wallet balance. Available is gross; Locked is the reserved subset of it.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (storage.Wallet, error)
	GetBalance(ctx context.Context, userID uuid.UUID, currency string) (storage.Balance, error)
	UpdateBalance(ctx context.Context, userID uuid.UUID, currency string, fn func(*storage.Balance) error) (storage.Balance, error)
}

type Metrics interface {
	ObserveLedgerOp(op, status string)
}

const (
	opAdd    = "add"
	opDeduct = "deduct"
	opLock   = "lock"
	opUnlock = "unlock"
	opSettle = "settle"
)

type Ledger struct {
	store   Store
	logger  *slog.Logger
	metrics Metrics
}

func New(store Store, logger *slog.Logger, metrics Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger, metrics: metrics}
}

func (l *Ledger) AddFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error) {
	return l.mutate(ctx, opAdd, userID, cur, amount, func(b *storage.Balance) error {
		b.Available = b.Available.Add(amount)
		return nil
	})
}

func (l *Ledger) DeductFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error) {
	return l.mutate(ctx, opDeduct, userID, cur, amount, func(b *storage.Balance) error {
		if b.Spendable().LessThan(amount) {
			return insufficient(b, amount)
		}
		b.Available = b.Available.Sub(amount)
		return nil
	})
}

func (l *Ledger) LockFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error) {
	return l.mutate(ctx, opLock, userID, cur, amount, func(b *storage.Balance) error {
		if b.Spendable().LessThan(amount) {
			return insufficient(b, amount)
		}
		b.Locked = b.Locked.Add(amount)
		return nil
	})
}

func (l *Ledger) UnlockFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error) {
	return l.mutate(ctx, opUnlock, userID, cur, amount, func(b *storage.Balance) error {
		if b.Locked.LessThan(amount) {
			return fmt.Errorf("unlock %s of %s locked: %w", amount, b.Locked, walleterr.ErrOverUnlock)
		}
		b.Locked = floorZero(b.Locked.Sub(amount))
		return nil
	})
}

// SettleLocked releases amount from Locked and removes it from Available in
// one critical section. Used when a reserved withdrawal leaves the wallet.
func (l *Ledger) SettleLocked(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (storage.Balance, error) {
	return l.mutate(ctx, opSettle, userID, cur, amount, func(b *storage.Balance) error {
		if b.Locked.LessThan(amount) {
			return fmt.Errorf("settle %s of %s locked: %w", amount, b.Locked, walleterr.ErrOverUnlock)
		}
		b.Locked = floorZero(b.Locked.Sub(amount))
		b.Available = b.Available.Sub(amount)
		return nil
	})
}

// GetAvailableBalance returns spendable funds: available minus locked.
func (l *Ledger) GetAvailableBalance(ctx context.Context, userID uuid.UUID, cur string) (decimal.Decimal, error) {
	bal, err := l.GetBalance(ctx, userID, cur)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Spendable(), nil
}

func (l *Ledger) HasSufficientFunds(ctx context.Context, userID uuid.UUID, cur string, amount decimal.Decimal) (bool, error) {
	spendable, err := l.GetAvailableBalance(ctx, userID, cur)
	if err != nil {
		return false, err
	}
	return spendable.GreaterThanOrEqual(amount), nil
}

func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID, cur string) (storage.Balance, error) {
	code, err := currency.Normalize(cur)
	if err != nil {
		return storage.Balance{}, err
	}
	return l.store.GetBalance(ctx, userID, code)
}

func (l *Ledger) GetWallet(ctx context.Context, userID uuid.UUID) (storage.Wallet, error) {
	return l.store.GetOrCreateWallet(ctx, userID)
}

func (l *Ledger) mutate(ctx context.Context, op string, userID uuid.UUID, cur string, amount decimal.Decimal, fn func(*storage.Balance) error) (storage.Balance, error) {
	code, err := currency.Normalize(cur)
	if err != nil {
		l.observe(op, "rejected")
		return storage.Balance{}, err
	}
	if err := currency.ValidAmount(amount); err != nil {
		l.observe(op, "rejected")
		return storage.Balance{}, err
	}

	bal, err := l.store.UpdateBalance(ctx, userID, code, fn)
	if err != nil {
		if walleterr.IsClientError(err) {
			l.observe(op, "rejected")
		} else {
			l.observe(op, "error")
			l.logger.Error("ledger update failed", "op", op, "user_id", userID.String(), "currency", code, "error", err)
		}
		return storage.Balance{}, err
	}
	l.observe(op, "success")
	l.logger.Debug("ledger updated", "op", op, "user_id", userID.String(), "currency", code,
		"amount", amount.String(), "available", bal.Available.String(), "locked", bal.Locked.String())
	return bal, nil
}

func (l *Ledger) observe(op, status string) {
	if l.metrics != nil {
		l.metrics.ObserveLedgerOp(op, status)
	}
}

func insufficient(b *storage.Balance, amount decimal.Decimal) error {
	return fmt.Errorf("need %s %s, spendable %s: %w", amount, b.Currency, b.Spendable(), walleterr.ErrInsufficientFunds)
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
