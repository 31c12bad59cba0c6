package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestMemoryUpdateBalanceSerialisesPerKey(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateBalance(ctx, userID, "USD", func(b *Balance) error {
				b.Available = b.Available.Add(decimal.NewFromInt(2))
				return nil
			})
			if err != nil {
				t.Errorf("update balance: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, err := store.GetBalance(ctx, userID, "USD")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.Available.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 100, got %s", bal.Available)
	}
}

func TestMemoryUpdateBalanceRejectsInvariantViolation(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	_, err := store.UpdateBalance(ctx, userID, "USD", func(b *Balance) error {
		b.Locked = decimal.NewFromInt(5)
		return nil
	})
	if !errors.Is(err, ErrBalanceInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	bal, _ := store.GetBalance(ctx, userID, "USD")
	if !bal.Locked.IsZero() {
		t.Fatalf("expected rejected update to leave balance untouched, got locked %s", bal.Locked)
	}
}

func TestMemoryUpdateBalanceKeepsStateOnError(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	userID := uuid.New()
	sentinel := errors.New("stop")

	if _, err := store.UpdateBalance(ctx, userID, "BTC", func(b *Balance) error {
		b.Available = decimal.NewFromInt(1)
		return nil
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if _, err := store.UpdateBalance(ctx, userID, "BTC", func(b *Balance) error {
		b.Available = decimal.Zero
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	bal, _ := store.GetBalance(ctx, userID, "BTC")
	if !bal.Available.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1, got %s", bal.Available)
	}
}

func TestMemoryDuplicateTxHash(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first := &Transaction{UserID: uuid.New(), Type: TxDeposit, Status: StatusCompleted, TxHash: "0xabc"}
	if err := store.CreateTransaction(ctx, first); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	second := &Transaction{UserID: uuid.New(), Type: TxDeposit, Status: StatusPending}
	if err := store.CreateTransaction(ctx, second); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	_, err := store.UpdateTransaction(ctx, second.ID, func(tx *Transaction) error {
		tx.TxHash = "0xabc"
		return nil
	})
	if !errors.Is(err, walleterr.ErrDuplicateTxHash) {
		t.Fatalf("expected duplicate tx hash, got %v", err)
	}

	dup := &Transaction{UserID: uuid.New(), TxHash: "0xabc"}
	if err := store.CreateTransaction(ctx, dup); !errors.Is(err, walleterr.ErrDuplicateTxHash) {
		t.Fatalf("expected duplicate tx hash on create, got %v", err)
	}
}

func TestMemoryListTransactionsOrdersNewestFirst(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemory().WithClock(func() time.Time { return clock })
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Minute)
		if err := store.CreateTransaction(ctx, &Transaction{UserID: userID, Type: TxDeposit, Status: StatusPending}); err != nil {
			t.Fatalf("create transaction: %v", err)
		}
	}
	if err := store.CreateTransaction(ctx, &Transaction{UserID: uuid.New(), Type: TxDeposit}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	txs, err := store.ListTransactions(ctx, TransactionFilter{UserID: userID, Limit: 2})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if !txs[0].CreatedAt.After(txs[1].CreatedAt) {
		t.Fatalf("expected newest first, got %s then %s", txs[0].CreatedAt, txs[1].CreatedAt)
	}

	older, err := store.ListTransactions(ctx, TransactionFilter{UserID: userID, Before: txs[1].CreatedAt})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(older) != 1 {
		t.Fatalf("expected 1 older transaction, got %d", len(older))
	}
}

func TestMemoryListMaturable(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	due := &Investment{UserID: uuid.New(), Status: InvestmentActive, EndDate: now.Add(-time.Hour)}
	later := &Investment{UserID: uuid.New(), Status: InvestmentActive, EndDate: now.Add(time.Hour)}
	done := &Investment{UserID: uuid.New(), Status: InvestmentCompleted, EndDate: now.Add(-time.Hour)}
	for _, inv := range []*Investment{due, later, done} {
		if err := store.CreateInvestment(ctx, inv); err != nil {
			t.Fatalf("create investment: %v", err)
		}
	}

	got, err := store.ListMaturable(ctx, now, 10)
	if err != nil {
		t.Fatalf("list maturable: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("expected only the due investment, got %d", len(got))
	}
}

func TestGetMissingRecords(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if _, err := store.GetTransaction(ctx, uuid.New()); !errors.Is(err, walleterr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetInvestment(ctx, uuid.New()); !errors.Is(err, walleterr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetTransactionByExternalRef(ctx, ""); !errors.Is(err, walleterr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecomputeHelpers(t *testing.T) {
	tx := Transaction{
		Amount:      decimal.RequireFromString("1000"),
		PlatformFee: decimal.RequireFromString("29"),
		NetworkFee:  decimal.RequireFromString("1"),
	}
	tx.RecomputeNetAmount()
	if !tx.NetAmount.Equal(decimal.RequireFromString("970")) {
		t.Fatalf("expected 970, got %s", tx.NetAmount)
	}

	inv := Investment{
		Amount:               decimal.RequireFromString("1000"),
		ActualProfit:         decimal.RequireFromString("120"),
		ManagementFeeAmount:  decimal.RequireFromString("15"),
		PerformanceFeeAmount: decimal.RequireFromString("18"),
	}
	inv.Recompute()
	if !inv.TotalFees.Equal(decimal.RequireFromString("33")) {
		t.Fatalf("expected total fees 33, got %s", inv.TotalFees)
	}
	if !inv.NetAmount.Equal(decimal.RequireFromString("1087")) {
		t.Fatalf("expected net 1087, got %s", inv.NetAmount)
	}
}
