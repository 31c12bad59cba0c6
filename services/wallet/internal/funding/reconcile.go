package funding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/blockchain"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/gateway"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/settlement"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/transactions"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type outcome int

const (
	outcomePending outcome = iota
	outcomeCompleted
	outcomeFailed
)

type ReconcileReport struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Check is the settlement worker handler for deposit and withdrawal checks.
func (s *Service) Check(ctx context.Context, job settlement.Job) error {
	tx, err := s.txs.Get(ctx, job.TransactionID)
	if err != nil {
		if errors.Is(err, walleterr.ErrNotFound) {
			return nil
		}
		return err
	}
	if transactions.IsTerminal(tx.Status) {
		return nil
	}
	out, err := s.resolve(ctx, tx)
	if err != nil {
		return err
	}
	if out == outcomePending {
		return settlement.ErrNotSettled
	}
	return nil
}

// Reconcile resolves deposits and withdrawals that have been pending or
// processing for at least olderThan. Transactions whose outcome is still
// unknown stay as they are.
func (s *Service) Reconcile(ctx context.Context, olderThan time.Duration, limit int) (ReconcileReport, error) {
	stale, err := s.txs.ListStale(ctx, olderThan, limit)
	if err != nil {
		return ReconcileReport{}, err
	}
	var report ReconcileReport
	for _, tx := range stale {
		if tx.Type != storage.TxDeposit && tx.Type != storage.TxWithdrawal {
			continue
		}
		report.Checked++
		out, err := s.resolve(ctx, tx)
		if err != nil {
			report.Errors++
			s.logger.Warn("reconcile transaction failed", "transaction_id", tx.ID.String(), "error", err)
			continue
		}
		switch out {
		case outcomeCompleted:
			report.Completed++
		case outcomeFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}
	if report.Checked > 0 {
		s.logger.Info("reconcile finished", "checked", report.Checked, "completed", report.Completed,
			"failed", report.Failed, "pending", report.Pending, "errors", report.Errors)
	}
	return report, nil
}

func (s *Service) resolve(ctx context.Context, tx storage.Transaction) (outcome, error) {
	if tx.Method == storage.MethodCrypto {
		return s.resolveChain(ctx, tx)
	}
	return s.resolveGateway(ctx, tx)
}

func (s *Service) resolveChain(ctx context.Context, tx storage.Transaction) (outcome, error) {
	hash := tx.TxHash
	if hash == "" {
		if tx.Type == storage.TxDeposit {
			// Nothing reported on chain yet.
			return outcomePending, nil
		}
		// The broadcast timed out. Broadcasting the same reference again is
		// idempotent and recovers the hash.
		ref, err := s.send(ctx, tx)
		if err != nil {
			if unresolved(err) {
				return outcomePending, nil
			}
			_, ferr := s.FailWithdrawal(ctx, tx.ID, err.Error())
			return outcomeFailed, ferr
		}
		if _, err := s.markSent(ctx, tx, ref); err != nil {
			return outcomePending, err
		}
		hash = ref
	}

	callCtx, cancel := s.call(ctx)
	status, err := s.chain.Status(callCtx, hash)
	cancel()
	if err != nil {
		if errors.Is(err, blockchain.ErrUnknownTx) {
			return s.fail(ctx, tx, "transaction not found on chain")
		}
		if unresolved(err) {
			return outcomePending, nil
		}
		return outcomePending, external("chain status", err)
	}
	if status.Failed {
		return s.fail(ctx, tx, status.Reason)
	}
	if status.Confirmations < blockchain.RequiredConfirmations(tx.Currency) {
		if _, err := s.txs.AttachReference(ctx, tx.ID, "", "", status.Confirmations); err != nil {
			return outcomePending, err
		}
		return outcomePending, nil
	}
	if _, err := s.repriceObserved(ctx, tx, status.Amount); err != nil {
		if uncoverable(err) {
			return s.fail(ctx, tx, "observed amount does not cover fees")
		}
		return outcomePending, err
	}
	return s.complete(ctx, tx, hash)
}

func (s *Service) resolveGateway(ctx context.Context, tx storage.Transaction) (outcome, error) {
	if tx.ExternalRef == "" {
		if tx.Type == storage.TxDeposit {
			// The charge never returned a reference, so nothing was taken.
			return s.fail(ctx, tx, "gateway reference missing")
		}
		s.logger.Warn("withdrawal without payout reference needs review", "transaction_id", tx.ID.String())
		return outcomePending, nil
	}

	callCtx, cancel := s.call(ctx)
	res, err := s.gateway.Status(callCtx, tx.ExternalRef)
	cancel()
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownPayment) {
			return s.fail(ctx, tx, "payment not found at gateway")
		}
		if unresolved(err) {
			return outcomePending, nil
		}
		return outcomePending, external("gateway status", err)
	}
	switch res.Status {
	case gateway.StatusSucceeded:
		return s.complete(ctx, tx, "")
	case gateway.StatusFailed:
		return s.fail(ctx, tx, res.Reason)
	}
	return outcomePending, nil
}

func (s *Service) complete(ctx context.Context, tx storage.Transaction, hash string) (outcome, error) {
	var err error
	if tx.Type == storage.TxDeposit {
		_, err = s.ConfirmDeposit(ctx, tx.ID, hash)
	} else {
		_, err = s.ConfirmWithdrawal(ctx, tx.ID, hash)
	}
	if err != nil {
		return outcomePending, err
	}
	return outcomeCompleted, nil
}

func (s *Service) fail(ctx context.Context, tx storage.Transaction, reason string) (outcome, error) {
	if reason == "" {
		reason = "rejected by collaborator"
	}
	var err error
	if tx.Type == storage.TxDeposit {
		_, err = s.FailDeposit(ctx, tx.ID, reason)
	} else {
		_, err = s.FailWithdrawal(ctx, tx.ID, reason)
	}
	if err != nil {
		return outcomePending, err
	}
	return outcomeFailed, nil
}

// PaymentEvent is a settlement notice from the gateway or the chain
// watcher. Reference identifies gateway payments; TransactionID and TxHash
// identify on-chain transfers.
type PaymentEvent struct {
	Reference     string
	TransactionID uuid.UUID
	TxHash        string
	Status        string
	Reason        string
	// Amount is the settled amount of a crypto deposit. Zero keeps the
	// declared amount.
	Amount        decimal.Decimal
}

// HandlePaymentEvent applies a settlement notice. Replays of an already
// applied outcome return the transaction unchanged.
func (s *Service) HandlePaymentEvent(ctx context.Context, evt PaymentEvent) (storage.Transaction, error) {
	tx, err := s.eventTransaction(ctx, evt)
	if err != nil {
		return storage.Transaction{}, err
	}

	switch gateway.Status(strings.ToLower(evt.Status)) {
	case gateway.StatusSucceeded:
		if tx.Type == storage.TxDeposit {
			if _, err := s.repriceObserved(ctx, tx, evt.Amount); err != nil {
				if uncoverable(err) {
					return s.FailDeposit(ctx, tx.ID, "settled amount does not cover fees")
				}
				return storage.Transaction{}, err
			}
			return s.ConfirmDeposit(ctx, tx.ID, evt.TxHash)
		}
		return s.ConfirmWithdrawal(ctx, tx.ID, evt.TxHash)
	case gateway.StatusFailed:
		reason := evt.Reason
		if reason == "" {
			reason = "reported failed"
		}
		if tx.Type == storage.TxDeposit {
			return s.FailDeposit(ctx, tx.ID, reason)
		}
		return s.FailWithdrawal(ctx, tx.ID, reason)
	case gateway.StatusPending:
		if evt.TxHash != "" && tx.TxHash == "" {
			return s.txs.AttachReference(ctx, tx.ID, "", evt.TxHash, 0)
		}
		return tx, nil
	}
	return storage.Transaction{}, fmt.Errorf("payment status %q: %w", evt.Status, walleterr.ErrInvalidStateTransition)
}

func (s *Service) eventTransaction(ctx context.Context, evt PaymentEvent) (storage.Transaction, error) {
	var (
		tx  storage.Transaction
		err error
	)
	switch {
	case evt.Reference != "":
		tx, err = s.txs.GetByReference(ctx, evt.Reference)
	case evt.TransactionID != uuid.Nil:
		tx, err = s.txs.Get(ctx, evt.TransactionID)
	default:
		return storage.Transaction{}, fmt.Errorf("payment event needs a reference or transaction id: %w", walleterr.ErrNotFound)
	}
	if err != nil {
		return storage.Transaction{}, err
	}
	if tx.Type != storage.TxDeposit && tx.Type != storage.TxWithdrawal {
		return storage.Transaction{}, fmt.Errorf("transaction %s is a %s: %w", tx.ID, tx.Type, walleterr.ErrInvalidStateTransition)
	}
	return tx, nil
}
