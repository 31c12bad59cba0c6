package funding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AfshinJalili/goinvest/libs/logging"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/blockchain"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/gateway"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/ledger"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/settlement"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/transactions"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fixture struct {
	store  *storage.Memory
	ledger *ledger.Ledger
	txs    *transactions.Service
	gw     *gateway.Sandbox
	chain  *blockchain.Sandbox
	queue  *settlement.MemoryQueue
	svc    *Service
}

type compensationCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *compensationCounter) ObserveCompensation(flow string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	if ok {
		c.counts[flow]++
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T, timeout time.Duration, gwOpts ...gateway.SandboxOption) *fixture {
	t.Helper()
	store := storage.NewMemory()
	f := &fixture{
		store:  store,
		ledger: ledger.New(store, logging.Discard(), nil),
		txs:    transactions.NewService(store, logging.Discard(), nil),
		gw:     gateway.NewSandbox(gwOpts...),
		chain:  blockchain.NewSandbox(),
		queue:  settlement.NewMemoryQueue(),
	}
	f.svc = NewService(Deps{
		Ledger:       f.ledger,
		Transactions: f.txs,
		Gateway:      f.gw,
		Chain:        f.chain,
		Queue:        f.queue,
	}, Options{CallTimeout: timeout}, logging.Discard(), &compensationCounter{})
	return f
}

func (f *fixture) fund(t *testing.T, user uuid.UUID, cur, amount string) {
	t.Helper()
	if _, err := f.ledger.AddFunds(context.Background(), user, cur, dec(amount)); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, user uuid.UUID, cur string) storage.Balance {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), user, cur)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (f *fixture) btcAddress(t *testing.T) string {
	t.Helper()
	addr, err := f.chain.DepositAddress(context.Background(), uuid.New(), "BTC")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return addr
}

func TestCardDepositSettlesThroughGateway(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("100"), Currency: "usd", Method: storage.MethodCreditCard})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tx := res.Transaction
	if tx.Status != storage.StatusPending {
		t.Fatalf("expected pending deposit, got %s", tx.Status)
	}
	if tx.ExternalRef == "" {
		t.Fatalf("expected gateway reference")
	}
	if !tx.NetAmount.Equal(dec("97.10")) {
		t.Fatalf("expected net 97.10, got %s", tx.NetAmount)
	}
	if !f.balance(t, user, "USD").Available.IsZero() {
		t.Fatalf("expected no credit before confirmation")
	}

	jobs, _ := f.queue.ClaimDue(ctx, time.Now().Add(time.Hour), 10)
	if len(jobs) != 1 || jobs[0].Kind != settlement.KindDepositCheck {
		t.Fatalf("expected one deposit check, got %+v", jobs)
	}
	if err := f.svc.Check(ctx, jobs[0]); !errors.Is(err, settlement.ErrNotSettled) {
		t.Fatalf("expected not settled, got %v", err)
	}

	if err := f.gw.Complete(tx.ExternalRef); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.svc.Check(ctx, jobs[0]); err != nil {
		t.Fatalf("check: %v", err)
	}

	got, _ := f.txs.Get(ctx, tx.ID)
	if got.Status != storage.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if b := f.balance(t, user, "USD"); !b.Available.Equal(dec("97.10")) {
		t.Fatalf("expected available 97.10, got %s", b.Available)
	}
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("0.0003"), Currency: "BTC", Method: storage.MethodCrypto})
	if !errors.Is(err, walleterr.ErrAmountTooSmall) {
		t.Fatalf("expected amount too small, got %v", err)
	}
	_, err = f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("10"), Currency: "USD", Method: storage.MethodCrypto})
	if !errors.Is(err, walleterr.ErrInvalidMethod) {
		t.Fatalf("expected invalid method, got %v", err)
	}
	_, err = f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("10"), Currency: "DOGE", Method: storage.MethodCrypto})
	if !errors.Is(err, walleterr.ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
	_, err = f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("-5"), Currency: "USD", Method: storage.MethodBankTransfer})
	if !errors.Is(err, walleterr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	txs, _ := f.txs.ListByUser(ctx, user, storage.TransactionFilter{})
	if len(txs) != 0 {
		t.Fatalf("expected no transactions for rejected deposits, got %d", len(txs))
	}
}

func TestDeclinedChargeFailsDeposit(t *testing.T) {
	f := newFixture(t, time.Second, gateway.WithDeclineOver(dec("1000")))
	res, err := f.svc.Deposit(context.Background(), DepositInput{
		UserID: uuid.New(), Amount: dec("5000"), Currency: "USD", Method: storage.MethodCreditCard,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Transaction.Status != storage.StatusFailed {
		t.Fatalf("expected failed deposit, got %s", res.Transaction.Status)
	}
	if res.Transaction.FailureReason == "" {
		t.Fatalf("expected failure reason")
	}
}

func TestGatewayTimeoutLeavesDepositPending(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, gateway.WithLatency(200*time.Millisecond))
	f.store.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	ctx := context.Background()
	user := uuid.New()

	res, err := f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("50"), Currency: "EUR", Method: storage.MethodBankTransfer})
	if err != nil {
		t.Fatalf("expected timeout to be absorbed, got %v", err)
	}
	if res.Transaction.Status != storage.StatusPending {
		t.Fatalf("expected pending, got %s", res.Transaction.Status)
	}

	report, err := f.svc.Reconcile(ctx, time.Minute, 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 1 || report.Failed != 1 {
		t.Fatalf("expected the unreferenced deposit to fail, got %+v", report)
	}
}

func TestCryptoDepositConfirmsOnChain(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("0.01"), Currency: "BTC", Method: storage.MethodCrypto})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := blockchain.ValidateAddress("BTC", res.DepositAddress); err != nil {
		t.Fatalf("expected valid deposit address, got %v", err)
	}
	tx := res.Transaction
	if !tx.NetAmount.Equal(dec("0.00949")) {
		t.Fatalf("expected net 0.00949, got %s", tx.NetAmount)
	}

	job := settlement.NewJob(settlement.KindDepositCheck, tx.ID, time.Now())
	if err := f.svc.Check(ctx, job); !errors.Is(err, settlement.ErrNotSettled) {
		t.Fatalf("expected not settled before the transfer is seen, got %v", err)
	}

	hash := "0xinbound"
	if _, err := f.svc.HandlePaymentEvent(ctx, PaymentEvent{TransactionID: tx.ID, TxHash: hash, Status: "pending"}); err != nil {
		t.Fatalf("report hash: %v", err)
	}
	f.chain.Observe(hash, dec("0.01"), 2)

	if err := f.svc.Check(ctx, job); err != nil {
		t.Fatalf("check: %v", err)
	}
	got, _ := f.txs.Get(ctx, tx.ID)
	if got.Status != storage.StatusCompleted || got.TxHash != hash {
		t.Fatalf("expected completed with hash, got %s %q", got.Status, got.TxHash)
	}
	if b := f.balance(t, user, "BTC"); !b.Available.Equal(dec("0.00949")) {
		t.Fatalf("expected 0.00949 BTC, got %s", b.Available)
	}
}

func TestCryptoDepositCreditsObservedAmount(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("0.01"), Currency: "BTC", Method: storage.MethodCrypto})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tx := res.Transaction
	hash := "0xlarger"
	if _, err := f.svc.HandlePaymentEvent(ctx, PaymentEvent{TransactionID: tx.ID, TxHash: hash, Status: "pending"}); err != nil {
		t.Fatalf("report hash: %v", err)
	}
	f.chain.Observe(hash, dec("0.02"), 2)

	if err := f.svc.Check(ctx, settlement.NewJob(settlement.KindDepositCheck, tx.ID, time.Now())); err != nil {
		t.Fatalf("check: %v", err)
	}
	got, _ := f.txs.Get(ctx, tx.ID)
	if got.Status != storage.StatusCompleted || !got.Amount.Equal(dec("0.02")) {
		t.Fatalf("expected completed at 0.02, got %s %s", got.Status, got.Amount)
	}
	// 0.02 less the 0.0005 network fee and the 0.1% platform fee.
	if !got.NetAmount.Equal(dec("0.01948")) {
		t.Fatalf("expected net 0.01948, got %s", got.NetAmount)
	}
	if b := f.balance(t, user, "BTC"); !b.Available.Equal(dec("0.01948")) {
		t.Fatalf("expected 0.01948 BTC credited, got %s", b.Available)
	}
}

func TestCryptoDepositBelowFeesFails(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("0.01"), Currency: "BTC", Method: storage.MethodCrypto})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	failed, err := f.svc.HandlePaymentEvent(ctx, PaymentEvent{TransactionID: res.Transaction.ID, TxHash: "0xdust", Status: "succeeded", Amount: dec("0.0003")})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if failed.Status != storage.StatusFailed {
		t.Fatalf("expected failed deposit, got %s", failed.Status)
	}
	if b := f.balance(t, user, "BTC"); !b.Available.IsZero() {
		t.Fatalf("expected nothing credited, got %s", b.Available)
	}
}

func TestCryptoWithdrawalLifecycle(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "BTC", "1")

	res, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("0.5"), Currency: "BTC", Method: storage.MethodCrypto, ToAddress: f.btcAddress(t)})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	tx := res.Transaction
	if tx.Status != storage.StatusProcessing || tx.TxHash == "" {
		t.Fatalf("expected processing with hash, got %s %q", tx.Status, tx.TxHash)
	}
	b := f.balance(t, user, "BTC")
	if !b.Locked.Equal(dec("0.5")) || !b.Spendable().Equal(dec("0.5")) {
		t.Fatalf("expected 0.5 locked and 0.5 spendable, got %s/%s", b.Locked, b.Spendable())
	}

	job := settlement.NewJob(settlement.KindWithdrawalCheck, tx.ID, time.Now())
	var checkErr error
	for i := 0; i < blockchain.RequiredConfirmations("BTC"); i++ {
		checkErr = f.svc.Check(ctx, job)
	}
	if checkErr != nil {
		t.Fatalf("expected settled after required confirmations, got %v", checkErr)
	}

	got, _ := f.txs.Get(ctx, tx.ID)
	if got.Status != storage.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	b = f.balance(t, user, "BTC")
	if !b.Available.Equal(dec("0.5")) || !b.Locked.IsZero() {
		t.Fatalf("expected 0.5 available and nothing locked, got %s/%s", b.Available, b.Locked)
	}
}

func TestWithdrawalRejections(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "BTC", "1")

	_, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("0.1"), Currency: "BTC", Method: storage.MethodCrypto, ToAddress: "not-an-address"})
	if !errors.Is(err, walleterr.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	_, err = f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("0.0003"), Currency: "BTC", Method: storage.MethodCrypto, ToAddress: f.btcAddress(t)})
	if !errors.Is(err, walleterr.ErrAmountTooSmall) {
		t.Fatalf("expected amount too small, got %v", err)
	}
	_, err = f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("2"), Currency: "BTC", Method: storage.MethodCrypto, ToAddress: f.btcAddress(t)})
	if !errors.Is(err, walleterr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	_, err = f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("10"), Currency: "USD", Method: storage.MethodBankTransfer})
	if !errors.Is(err, walleterr.ErrInvalidAddress) {
		t.Fatalf("expected missing destination to be rejected, got %v", err)
	}

	if b := f.balance(t, user, "BTC"); !b.Locked.IsZero() {
		t.Fatalf("expected nothing locked after rejections, got %s", b.Locked)
	}
}

func TestBroadcastFailureReleasesFunds(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "ETH", "2")
	f.chain.FailBroadcasts(errors.New("node unavailable"))

	_, err := f.svc.Withdraw(ctx, WithdrawInput{
		UserID: user, Amount: dec("1"), Currency: "ETH", Method: storage.MethodCrypto,
		ToAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
	})
	if !errors.Is(err, walleterr.ErrExternalService) {
		t.Fatalf("expected external service failure, got %v", err)
	}
	if b := f.balance(t, user, "ETH"); !b.Locked.IsZero() || !b.Spendable().Equal(dec("2")) {
		t.Fatalf("expected reservation released, got locked %s", b.Locked)
	}
	txs, _ := f.txs.ListByUser(ctx, user, storage.TransactionFilter{})
	if len(txs) != 1 || txs[0].Status != storage.StatusFailed {
		t.Fatalf("expected one failed withdrawal, got %+v", txs)
	}
}

func TestConcurrentWithdrawalsExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "BTC", "1")
	addr := f.btcAddress(t)

	var wg sync.WaitGroup
	var ok, insufficient atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("0.8"), Currency: "BTC", Method: storage.MethodCrypto, ToAddress: addr})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, walleterr.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || insufficient.Load() != 9 {
		t.Fatalf("expected exactly one success, got %d ok / %d insufficient", ok.Load(), insufficient.Load())
	}
	if b := f.balance(t, user, "BTC"); !b.Locked.Equal(dec("0.8")) {
		t.Fatalf("expected 0.8 locked, got %s", b.Locked)
	}
}

func TestCancelPendingWithdrawalUnlocks(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "USD", "500")

	// Recorded and reserved but never handed to the gateway.
	if _, err := f.ledger.LockFunds(ctx, user, "USD", dec("200")); err != nil {
		t.Fatalf("lock: %v", err)
	}
	tx, err := f.txs.Create(ctx, transactions.Draft{
		UserID: user, Type: storage.TxWithdrawal, Method: storage.MethodBankTransfer,
		Amount: dec("200"), Currency: "USD", ToAddress: "DE89370400440532013000",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.CancelPending(ctx, uuid.New(), tx.ID); !errors.Is(err, walleterr.ErrNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	cancelled, err := f.svc.CancelPending(ctx, user, tx.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != storage.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled transaction, got %s", cancelled.Status)
	}
	if b := f.balance(t, user, "USD"); !b.Locked.IsZero() {
		t.Fatalf("expected lock released, got %s", b.Locked)
	}
	if _, err := f.svc.CancelPending(ctx, user, tx.ID); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
		t.Fatalf("expected second cancel to be rejected, got %v", err)
	}
}

func TestTimedOutPayoutCannotBeCancelled(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, gateway.WithLatency(200*time.Millisecond))
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "USD", "500")

	res, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("200"), Currency: "USD", Method: storage.MethodBankTransfer, ToAddress: "DE89370400440532013000"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Transaction.Status != storage.StatusProcessing {
		t.Fatalf("expected processing after payout timeout, got %s", res.Transaction.Status)
	}
	if _, err := f.svc.CancelPending(ctx, user, res.Transaction.ID); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
		t.Fatalf("expected cancel of a sent payout to be rejected, got %v", err)
	}
	if b := f.balance(t, user, "USD"); !b.Locked.Equal(dec("200")) || !b.Spendable().Equal(dec("300")) {
		t.Fatalf("expected 200 still reserved, got locked %s spendable %s", b.Locked, b.Spendable())
	}
	if f.queue.Len() != 1 {
		t.Fatalf("expected a withdrawal check queued, got %d", f.queue.Len())
	}
}

// lateChain broadcasts and then reports a timeout on the first call, like
// a node that accepted the transfer but answered too late.
type lateChain struct {
	*blockchain.Sandbox
	timedOut atomic.Bool
}

func (c *lateChain) Broadcast(ctx context.Context, req blockchain.BroadcastRequest) (string, error) {
	hash, err := c.Sandbox.Broadcast(ctx, req)
	if err != nil {
		return "", err
	}
	if c.timedOut.CompareAndSwap(false, true) {
		return "", context.DeadlineExceeded
	}
	return hash, nil
}

func TestBroadcastTimeoutKeepsReservation(t *testing.T) {
	f := newFixture(t, time.Second)
	chain := &lateChain{Sandbox: f.chain}
	svc := NewService(Deps{
		Ledger:       f.ledger,
		Transactions: f.txs,
		Gateway:      f.gw,
		Chain:        chain,
		Queue:        f.queue,
	}, Options{CallTimeout: time.Second}, logging.Discard(), nil)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "BTC", "1")

	res, err := svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("0.5"), Currency: "BTC", Method: storage.MethodCrypto, ToAddress: f.btcAddress(t)})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	tx := res.Transaction
	if tx.Status != storage.StatusProcessing || tx.TxHash != "" {
		t.Fatalf("expected processing without hash, got %s %q", tx.Status, tx.TxHash)
	}

	if _, err := svc.CancelPending(ctx, user, tx.ID); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
		t.Fatalf("expected cancel to be rejected, got %v", err)
	}
	if b := f.balance(t, user, "BTC"); !b.Locked.Equal(dec("0.5")) || !b.Spendable().Equal(dec("0.5")) {
		t.Fatalf("expected 0.5 still reserved, got locked %s spendable %s", b.Locked, b.Spendable())
	}

	job := settlement.NewJob(settlement.KindWithdrawalCheck, tx.ID, time.Now())
	var checkErr error
	for i := 0; i < blockchain.RequiredConfirmations("BTC"); i++ {
		checkErr = svc.Check(ctx, job)
	}
	if checkErr != nil {
		t.Fatalf("expected settled after required confirmations, got %v", checkErr)
	}
	got, _ := f.txs.Get(ctx, tx.ID)
	if got.Status != storage.StatusCompleted || got.TxHash == "" {
		t.Fatalf("expected completed with recovered hash, got %s %q", got.Status, got.TxHash)
	}
	if b := f.balance(t, user, "BTC"); !b.Available.Equal(dec("0.5")) || !b.Locked.IsZero() {
		t.Fatalf("expected 0.5 available and nothing locked, got %s/%s", b.Available, b.Locked)
	}
}

func TestPaymentEventsAreIdempotent(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.svc.Deposit(ctx, DepositInput{UserID: user, Amount: dec("100"), Currency: "USD", Method: storage.MethodBankTransfer})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	evt := PaymentEvent{Reference: res.Transaction.ExternalRef, Status: "succeeded"}
	for i := 0; i < 2; i++ {
		tx, err := f.svc.HandlePaymentEvent(ctx, evt)
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if tx.Status != storage.StatusCompleted {
			t.Fatalf("expected completed, got %s", tx.Status)
		}
	}
	if b := f.balance(t, user, "USD"); !b.Available.Equal(dec("99")) {
		t.Fatalf("expected a single credit of 99, got %s", b.Available)
	}

	if _, err := f.svc.HandlePaymentEvent(ctx, PaymentEvent{Reference: res.Transaction.ExternalRef, Status: "failed"}); !errors.Is(err, walleterr.ErrInvalidStateTransition) {
		t.Fatalf("expected failing a completed deposit to be rejected, got %v", err)
	}
	if _, err := f.svc.HandlePaymentEvent(ctx, PaymentEvent{Reference: "ch_missing", Status: "succeeded"}); !errors.Is(err, walleterr.ErrNotFound) {
		t.Fatalf("expected unknown reference to be not found, got %v", err)
	}
}

func TestFailedPayoutEventReleasesFunds(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, "GBP", "300")

	res, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: user, Amount: dec("100"), Currency: "GBP", Method: storage.MethodBankTransfer, ToAddress: "GB29NWBK60161331926819"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Transaction.Status != storage.StatusProcessing {
		t.Fatalf("expected processing, got %s", res.Transaction.Status)
	}
	if !res.Transaction.NetAmount.Equal(dec("98")) {
		t.Fatalf("expected net 98, got %s", res.Transaction.NetAmount)
	}

	tx, err := f.svc.HandlePaymentEvent(ctx, PaymentEvent{Reference: res.Transaction.ExternalRef, Status: "failed", Reason: "account closed"})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if tx.Status != storage.StatusFailed || tx.FailureReason != "account closed" {
		t.Fatalf("expected failed with reason, got %s %q", tx.Status, tx.FailureReason)
	}
	if b := f.balance(t, user, "GBP"); !b.Locked.IsZero() || !b.Available.Equal(dec("300")) {
		t.Fatalf("expected funds released, got %s/%s", b.Available, b.Locked)
	}
}

func TestQuoteChecksMethod(t *testing.T) {
	f := newFixture(t, time.Second)
	q, err := f.svc.Quote("withdrawal", storage.MethodCrypto, dec("1"), "eth")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.TotalFee.Equal(dec("0.01")) {
		t.Fatalf("expected total fee 0.01, got %s", q.TotalFee)
	}
	if _, err := f.svc.Quote("deposit", storage.MethodCreditCard, dec("1"), "ETH"); !errors.Is(err, walleterr.ErrInvalidMethod) {
		t.Fatalf("expected card for ETH to be rejected, got %v", err)
	}
}
