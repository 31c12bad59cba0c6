package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/blockchain"
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

type WithdrawInput struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Method    storage.Method
	ToAddress string
}

type WithdrawResult struct {
	Transaction storage.Transaction
	Quote       fees.Quote
}

// Withdraw reserves the gross amount and sends the net amount out. The
// reservation is settled when the transfer confirms and released when it
// fails. The withdrawal is processing before the send starts, so a send
// with an unknown outcome can no longer be cancelled by the user.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (WithdrawResult, error) {
	cur, err := checkMethod(in.Method, in.Currency)
	if err != nil {
		return WithdrawResult{}, err
	}
	dest := strings.TrimSpace(in.ToAddress)
	if in.Method == storage.MethodCrypto {
		if err := blockchain.ValidateAddress(cur, dest); err != nil {
			return WithdrawResult{}, err
		}
	} else if dest == "" {
		return WithdrawResult{}, fmt.Errorf("payout destination required: %w", walleterr.ErrInvalidAddress)
	}

	quote, err := s.schedule.Calculate(fees.Input{Operation: fees.OpWithdrawal, Method: in.Method, Amount: in.Amount, Currency: cur})
	if err != nil {
		return WithdrawResult{}, err
	}

	if _, err := s.ledger.LockFunds(ctx, in.UserID, cur, in.Amount); err != nil {
		return WithdrawResult{}, err
	}

	bg := context.WithoutCancel(ctx)
	tx, err := s.txs.Create(ctx, transactions.Draft{
		UserID:      in.UserID,
		Type:        storage.TxWithdrawal,
		Method:      in.Method,
		Amount:      in.Amount,
		Currency:    cur,
		NetworkFee:  quote.NetworkFee,
		PlatformFee: quote.PlatformFee,
		ToAddress:   dest,
	})
	if err != nil {
		_, uerr := s.ledger.UnlockFunds(bg, in.UserID, cur, in.Amount)
		s.compensated("unlock", storage.Transaction{Type: storage.TxWithdrawal, UserID: in.UserID, Amount: in.Amount, Currency: cur}, uerr)
		return WithdrawResult{}, err
	}
	s.notify(notify.EventTransactionCreated, tx)

	started, err := s.txs.MarkProcessing(bg, tx.ID)
	if err != nil {
		// A cancel that won the race has already released the reservation.
		if _, ferr := s.FailWithdrawal(bg, tx.ID, "withdrawal not started"); ferr != nil {
			s.logger.Warn("fail unstarted withdrawal", "transaction_id", tx.ID.String(), "error", ferr)
		}
		return WithdrawResult{}, err
	}
	tx = started
	result := WithdrawResult{Transaction: tx, Quote: quote}

	ref, err := s.send(ctx, tx)
	switch {
	case err == nil:
	case unresolved(err):
		s.logger.Warn("withdrawal send unresolved", "transaction_id", tx.ID.String(), "error", err)
		s.enqueueCheck(bg, settlement.KindWithdrawalCheck, tx)
		return result, nil
	default:
		if _, ferr := s.FailWithdrawal(bg, tx.ID, err.Error()); ferr != nil {
			s.logger.Error("fail withdrawal after send error", "transaction_id", tx.ID.String(), "error", ferr)
		}
		if errors.Is(err, walleterr.ErrInvalidAddress) {
			return WithdrawResult{}, err
		}
		return WithdrawResult{}, external("withdrawal send", err)
	}

	if tx, err = s.markSent(bg, tx, ref); err != nil {
		return WithdrawResult{}, err
	}
	result.Transaction = tx
	s.enqueueCheck(bg, settlement.KindWithdrawalCheck, tx)
	return result, nil
}

// send hands the net amount to the chain or the gateway and returns the
// hash or payout reference.
func (s *Service) send(ctx context.Context, tx storage.Transaction) (string, error) {
	callCtx, cancel := s.call(ctx)
	defer cancel()

	if tx.Method == storage.MethodCrypto {
		return s.chain.Broadcast(callCtx, blockchain.BroadcastRequest{
			Reference: tx.ID.String(),
			Currency:  tx.Currency,
			ToAddress: tx.ToAddress,
			Amount:    tx.NetAmount,
		})
	}
	res, err := s.gateway.Payout(callCtx, gateway.PayoutRequest{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Method:        string(tx.Method),
		Amount:        tx.NetAmount,
		Currency:      tx.Currency,
		Destination:   tx.ToAddress,
	})
	if err != nil {
		return "", err
	}
	if res.Status == gateway.StatusFailed {
		return "", fmt.Errorf("payout %s: %s: %w", res.Reference, res.Reason, gateway.ErrDeclined)
	}
	return res.Reference, nil
}

func (s *Service) markSent(ctx context.Context, tx storage.Transaction, ref string) (storage.Transaction, error) {
	var err error
	if tx.Method == storage.MethodCrypto {
		tx, err = s.txs.AttachReference(ctx, tx.ID, "", ref, 0)
	} else {
		tx, err = s.txs.AttachReference(ctx, tx.ID, ref, "", 0)
	}
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Status == storage.StatusPending {
		return s.txs.MarkProcessing(ctx, tx.ID)
	}
	return tx, nil
}

// ConfirmWithdrawal settles the reservation and completes the withdrawal.
func (s *Service) ConfirmWithdrawal(ctx context.Context, txID uuid.UUID, txHash string) (storage.Transaction, error) {
	tx, err := s.withdrawalFor(ctx, txID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Status == storage.StatusCompleted {
		return tx, nil
	}
	if transactions.IsTerminal(tx.Status) {
		return storage.Transaction{}, fmt.Errorf("confirm %s withdrawal: %w", tx.Status, walleterr.ErrInvalidStateTransition)
	}

	if _, err := s.ledger.SettleLocked(ctx, tx.UserID, tx.Currency, tx.Amount); err != nil {
		return storage.Transaction{}, err
	}
	completed, err := s.txs.MarkCompleted(ctx, tx.ID, txHash)
	if err != nil {
		bg := context.WithoutCancel(ctx)
		_, aerr := s.ledger.AddFunds(bg, tx.UserID, tx.Currency, tx.Amount)
		if aerr == nil {
			s.relock(bg, tx)
		} else {
			s.compensated("restore", tx, aerr)
		}
		return storage.Transaction{}, err
	}
	s.logger.Info("withdrawal settled", "transaction_id", tx.ID.String(), "user_id", tx.UserID.String(),
		"amount", tx.Amount.String(), "currency", tx.Currency)
	s.notify(notify.EventTransactionCompleted, completed)
	return completed, nil
}

// FailWithdrawal releases the reservation and marks the withdrawal failed.
func (s *Service) FailWithdrawal(ctx context.Context, txID uuid.UUID, reason string) (storage.Transaction, error) {
	tx, err := s.withdrawalFor(ctx, txID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Status == storage.StatusFailed {
		return tx, nil
	}
	if transactions.IsTerminal(tx.Status) {
		return storage.Transaction{}, fmt.Errorf("fail %s withdrawal: %w", tx.Status, walleterr.ErrInvalidStateTransition)
	}

	if _, err := s.ledger.UnlockFunds(ctx, tx.UserID, tx.Currency, tx.Amount); err != nil {
		return storage.Transaction{}, err
	}
	failed, err := s.txs.MarkFailed(ctx, tx.ID, reason)
	if err != nil {
		s.relock(context.WithoutCancel(ctx), tx)
		return storage.Transaction{}, err
	}
	s.notify(notify.EventTransactionFailed, failed)
	return failed, nil
}

func (s *Service) withdrawalFor(ctx context.Context, txID uuid.UUID) (storage.Transaction, error) {
	tx, err := s.txs.Get(ctx, txID)
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Type != storage.TxWithdrawal {
		return storage.Transaction{}, fmt.Errorf("transaction %s is a %s: %w", txID, tx.Type, walleterr.ErrInvalidStateTransition)
	}
	return tx, nil
}
