package funding

import (
	"context"
	"errors"
	"fmt"

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

type DepositInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Method      storage.Method
	FromAddress string
}

type DepositResult struct {
	Transaction storage.Transaction
	Quote       fees.Quote
	// DepositAddress is set for crypto deposits.
	DepositAddress string
}

// Deposit opens a pending deposit. Card and bank deposits are charged
// through the gateway; crypto deposits get an address to send funds to.
// The wallet is credited with the net amount once the deposit confirms.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (DepositResult, error) {
	quote, err := s.Quote(fees.OpDeposit, in.Method, in.Amount, in.Currency)
	if err != nil {
		return DepositResult{}, err
	}

	var address string
	if in.Method == storage.MethodCrypto {
		callCtx, cancel := s.call(ctx)
		address, err = s.chain.DepositAddress(callCtx, in.UserID, quote.Currency)
		cancel()
		if err != nil {
			return DepositResult{}, external("deposit address", err)
		}
	}

	tx, err := s.txs.Create(ctx, transactions.Draft{
		UserID:      in.UserID,
		Type:        storage.TxDeposit,
		Method:      in.Method,
		Amount:      in.Amount,
		Currency:    quote.Currency,
		NetworkFee:  quote.NetworkFee,
		PlatformFee: quote.PlatformFee,
		FromAddress: in.FromAddress,
		ToAddress:   address,
	})
	if err != nil {
		return DepositResult{}, err
	}
	s.notify(notify.EventTransactionCreated, tx)
	result := DepositResult{Transaction: tx, Quote: quote, DepositAddress: address}

	if in.Method == storage.MethodCrypto {
		s.enqueueCheck(ctx, settlement.KindDepositCheck, tx)
		return result, nil
	}

	callCtx, cancel := s.call(ctx)
	charge, err := s.gateway.Charge(callCtx, gateway.ChargeRequest{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Method:        string(tx.Method),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	})
	cancel()

	bg := context.WithoutCancel(ctx)
	switch {
	case err == nil:
	case unresolved(err):
		s.logger.Warn("gateway charge unresolved", "transaction_id", tx.ID.String(), "error", err)
		s.enqueueCheck(bg, settlement.KindDepositCheck, tx)
		return result, nil
	case errors.Is(err, gateway.ErrDeclined):
		failed, ferr := s.FailDeposit(bg, tx.ID, err.Error())
		if ferr != nil {
			return DepositResult{}, ferr
		}
		result.Transaction = failed
		return result, nil
	default:
		if _, ferr := s.FailDeposit(bg, tx.ID, "gateway error"); ferr != nil {
			s.logger.Error("fail deposit after gateway error", "transaction_id", tx.ID.String(), "error", ferr)
		}
		return DepositResult{}, external("gateway charge", err)
	}

	tx, err = s.txs.AttachReference(bg, tx.ID, charge.Reference, "", 0)
	if err != nil {
		return DepositResult{}, err
	}
	result.Transaction = tx

	switch charge.Status {
	case gateway.StatusSucceeded:
		completed, err := s.ConfirmDeposit(bg, tx.ID, "")
		if err != nil {
			return DepositResult{}, err
		}
		result.Transaction = completed
	case gateway.StatusFailed:
		failed, err := s.FailDeposit(bg, tx.ID, charge.Reason)
		if err != nil {
			return DepositResult{}, err
		}
		result.Transaction = failed
	default:
		s.enqueueCheck(bg, settlement.KindDepositCheck, tx)
	}
	return result, nil
}

// ConfirmDeposit credits the net amount and completes the deposit.
// Confirming a completed deposit again is a no-op.
func (s *Service) ConfirmDeposit(ctx context.Context, txID uuid.UUID, txHash string) (storage.Transaction, error) {
	tx, err := s.depositFor(ctx, txID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Status == storage.StatusCompleted {
		return tx, nil
	}
	if transactions.IsTerminal(tx.Status) {
		return storage.Transaction{}, fmt.Errorf("confirm %s deposit: %w", tx.Status, walleterr.ErrInvalidStateTransition)
	}

	if _, err := s.ledger.AddFunds(ctx, tx.UserID, tx.Currency, tx.NetAmount); err != nil {
		return storage.Transaction{}, err
	}
	completed, err := s.txs.MarkCompleted(ctx, tx.ID, txHash)
	if err != nil {
		_, derr := s.ledger.DeductFunds(context.WithoutCancel(ctx), tx.UserID, tx.Currency, tx.NetAmount)
		s.compensated("debit", tx, derr)
		return storage.Transaction{}, err
	}
	s.logger.Info("deposit credited", "transaction_id", tx.ID.String(), "user_id", tx.UserID.String(),
		"net_amount", tx.NetAmount.String(), "currency", tx.Currency)
	s.notify(notify.EventTransactionCompleted, completed)
	return completed, nil
}

// FailDeposit marks the deposit failed. Nothing was credited so there is
// nothing to release.
func (s *Service) FailDeposit(ctx context.Context, txID uuid.UUID, reason string) (storage.Transaction, error) {
	tx, err := s.depositFor(ctx, txID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Status == storage.StatusFailed {
		return tx, nil
	}
	failed, err := s.txs.MarkFailed(ctx, tx.ID, reason)
	if err != nil {
		return storage.Transaction{}, err
	}
	s.notify(notify.EventTransactionFailed, failed)
	return failed, nil
}

// repriceObserved moves a live crypto deposit onto the amount that actually
// arrived and recomputes its fees. A zero amount keeps the declared one.
func (s *Service) repriceObserved(ctx context.Context, tx storage.Transaction, observed decimal.Decimal) (storage.Transaction, error) {
	if tx.Type != storage.TxDeposit || tx.Method != storage.MethodCrypto || transactions.IsTerminal(tx.Status) {
		return tx, nil
	}
	if observed.IsZero() || observed.Equal(tx.Amount) {
		return tx, nil
	}
	quote, err := s.schedule.Calculate(fees.Input{Operation: fees.OpDeposit, Method: tx.Method, Amount: observed, Currency: tx.Currency})
	if err != nil {
		return tx, err
	}
	repriced, err := s.txs.Reprice(ctx, tx.ID, quote.Amount, quote.NetworkFee, quote.PlatformFee)
	if err != nil {
		return tx, err
	}
	s.logger.Info("deposit repriced on observed amount", "transaction_id", tx.ID.String(),
		"declared", tx.Amount.String(), "observed", repriced.Amount.String(), "net_amount", repriced.NetAmount.String())
	return repriced, nil
}

// uncoverable reports whether err means the amount cannot pay its own fees.
func uncoverable(err error) bool {
	return errors.Is(err, walleterr.ErrAmountTooSmall) || errors.Is(err, walleterr.ErrInvalidAmount)
}

func (s *Service) depositFor(ctx context.Context, txID uuid.UUID) (storage.Transaction, error) {
	tx, err := s.txs.Get(ctx, txID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Type != storage.TxDeposit {
		return storage.Transaction{}, fmt.Errorf("transaction %s is a %s: %w", txID, tx.Type, walleterr.ErrInvalidStateTransition)
	}
	return tx, nil
}
