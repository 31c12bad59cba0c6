package transactions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AfshinJalili/goinvest/libs/logging"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newService() (*Service, *storage.Memory) {
	store := storage.NewMemory()
	return NewService(store, logging.Discard(), nil), store
}

func createDeposit(t *testing.T, svc *Service) storage.Transaction {
	t.Helper()
	tx, err := svc.Create(context.Background(), Draft{
		UserID:      uuid.New(),
		Type:        storage.TxDeposit,
		Method:      storage.MethodCreditCard,
		Amount:      decimal.RequireFromString("1000"),
		Currency:    "usd",
		PlatformFee: decimal.RequireFromString("29"),
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func TestCreateStartsPendingWithNetAmount(t *testing.T) {
	svc, _ := newService()
	tx := createDeposit(t, svc)
	if tx.Status != storage.StatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
	if tx.Currency != "USD" {
		t.Fatalf("expected normalised currency, got %s", tx.Currency)
	}
	if !tx.NetAmount.Equal(decimal.RequireFromString("971")) {
		t.Fatalf("expected net 971, got %s", tx.NetAmount)
	}
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	ctx := context.Background()
	terminal := map[string]func(*Service, uuid.UUID) error{
		"completed": func(s *Service, id uuid.UUID) error { _, err := s.MarkCompleted(ctx, id, ""); return err },
		"failed":    func(s *Service, id uuid.UUID) error { _, err := s.MarkFailed(ctx, id, "declined"); return err },
		"cancelled": func(s *Service, id uuid.UUID) error { _, err := s.MarkCancelled(ctx, id); return err },
	}

	for name, finish := range terminal {
		t.Run(name, func(t *testing.T) {
			svc, _ := newService()
			tx := createDeposit(t, svc)
			if err := finish(svc, tx.ID); err != nil {
				t.Fatalf("first transition: %v", err)
			}
			for next, again := range terminal {
				if err := again(svc, tx.ID); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
					t.Fatalf("%s -> %s: expected invalid transition, got %v", name, next, err)
				}
			}
			if _, err := svc.MarkProcessing(ctx, tx.ID); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
				t.Fatalf("expected invalid transition to processing, got %v", err)
			}
		})
	}
}

func TestProcessingCanComplete(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tx := createDeposit(t, svc)

	if _, err := svc.MarkProcessing(ctx, tx.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	done, err := svc.MarkCompleted(ctx, tx.ID, "0xfeed")
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if done.TxHash != "0xfeed" || done.CompletedAt == nil {
		t.Fatalf("expected hash and completion time, got %+v", done)
	}
}

func TestPendingCannotBeRejected(t *testing.T) {
	svc, _ := newService()
	tx := createDeposit(t, svc)
	if _, err := svc.MarkRejected(context.Background(), tx.ID, "aml"); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestDuplicateTxHashOnComplete(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	first := createDeposit(t, svc)
	second := createDeposit(t, svc)

	if _, err := svc.MarkCompleted(ctx, first.ID, "0xabc"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if _, err := svc.MarkCompleted(ctx, second.ID, "0xabc"); !errors.Is(err, walleterr.ErrDuplicateTxHash) {
		t.Fatalf("expected duplicate tx hash, got %v", err)
	}
	got, _ := svc.Get(ctx, second.ID)
	if got.Status != storage.StatusPending {
		t.Fatalf("expected second to stay pending, got %s", got.Status)
	}
}

func TestSetFeesRecomputesNet(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tx := createDeposit(t, svc)

	updated, err := svc.SetFees(ctx, tx.ID, decimal.RequireFromString("1"), decimal.RequireFromString("10"))
	if err != nil {
		t.Fatalf("set fees: %v", err)
	}
	if !updated.NetAmount.Equal(decimal.RequireFromString("989")) {
		t.Fatalf("expected 989, got %s", updated.NetAmount)
	}

	if _, err := svc.MarkFailed(ctx, tx.ID, "declined"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := svc.AttachReference(ctx, tx.ID, "ref", "", 0); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
		t.Fatalf("expected final transaction to reject updates, got %v", err)
	}
}

func TestRepriceReplacesAmountAndFees(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	tx := createDeposit(t, svc)

	updated, err := svc.Reprice(ctx, tx.ID, decimal.RequireFromString("500"), decimal.RequireFromString("1"), decimal.RequireFromString("14.5"))
	if err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if !updated.Amount.Equal(decimal.RequireFromString("500")) || !updated.NetAmount.Equal(decimal.RequireFromString("484.5")) {
		t.Fatalf("expected 500 with net 484.5, got %s net %s", updated.Amount, updated.NetAmount)
	}
	if _, err := svc.Reprice(ctx, tx.ID, decimal.Zero, decimal.Zero, decimal.Zero); !errors.Is(err, walleterr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	if _, err := svc.MarkCancelled(ctx, tx.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Reprice(ctx, tx.ID, decimal.RequireFromString("10"), decimal.Zero, decimal.Zero); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
		t.Fatalf("expected final transaction to reject repricing, got %v", err)
	}
}

func TestListStale(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory().WithClock(func() time.Time { return clock })
	svc := NewService(store, logging.Discard(), nil).WithClock(func() time.Time { return clock })
	ctx := context.Background()

	old := createDeposit(t, svc)
	clock = clock.Add(time.Hour)
	fresh := createDeposit(t, svc)
	_ = fresh

	stale, err := svc.ListStale(ctx, 30*time.Minute, 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the old transaction, got %d", len(stale))
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, Draft{UserID: uuid.New(), Type: storage.TxDeposit, Amount: decimal.Zero, Currency: "USD"}); !errors.Is(err, walleterr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := svc.Create(ctx, Draft{UserID: uuid.New(), Type: storage.TxDeposit, Amount: decimal.NewFromInt(1), Currency: "ABC"}); !errors.Is(err, walleterr.ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
}
