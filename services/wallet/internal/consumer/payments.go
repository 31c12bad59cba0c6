// Package consumer applies events from other services to the wallet.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/goinvest/libs/kafka"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/funding"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const paymentsConfirmedEventType = "payments.confirmed"

// PaymentConfirmedEvent is published by the payment gateway adapter and the
// chain watcher when a charge, payout or transfer settles.
type PaymentConfirmedEvent struct {
	kafka.Envelope
	Reference     string `json:"reference,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Amount        string `json:"amount,omitempty"`
}

func (e PaymentConfirmedEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != paymentsConfirmedEventType {
		return fmt.Errorf("unexpected event_type %q", e.EventType)
	}
	if e.Reference == "" && e.TransactionID == "" {
		return fmt.Errorf("reference or transaction_id is required")
	}
	if strings.TrimSpace(e.Status) == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

type PaymentApplier interface {
	HandlePaymentEvent(ctx context.Context, evt funding.PaymentEvent) (storage.Transaction, error)
}

type PaymentConsumer struct {
	payments PaymentApplier
	logger   *slog.Logger
}

func NewPaymentConsumer(payments PaymentApplier, logger *slog.Logger) *PaymentConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentConsumer{payments: payments, logger: logger}
}

// HandleMessage applies one payments.confirmed event. Events that can never
// apply go to the dead letter topic; storage errors are retried.
func (c *PaymentConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return kafka.DLQ(fmt.Errorf("nil kafka message"), kafka.ReasonDecode)
	}
	var event PaymentConfirmedEvent
	if err := kafka.DecodeEvent(msg.Value, &event); err != nil {
		return err
	}

	var txID uuid.UUID
	if event.TransactionID != "" {
		parsed, err := uuid.Parse(event.TransactionID)
		if err != nil {
			return kafka.DLQ(fmt.Errorf("invalid transaction_id: %w", err), kafka.ReasonValidate)
		}
		txID = parsed
	}
	var amount decimal.Decimal
	if event.Amount != "" {
		parsed, err := decimal.NewFromString(event.Amount)
		if err != nil || parsed.IsNegative() {
			return kafka.DLQ(fmt.Errorf("invalid amount %q", event.Amount), kafka.ReasonValidate)
		}
		amount = parsed
	}

	tx, err := c.payments.HandlePaymentEvent(ctx, funding.PaymentEvent{
		Reference:     event.Reference,
		TransactionID: txID,
		TxHash:        event.TxHash,
		Status:        event.Status,
		Reason:        event.Reason,
		Amount:        amount,
	})
	if err != nil {
		if walleterr.IsClientError(err) {
			c.logger.Warn("payment event rejected", "event_id", event.EventID, "reference", event.Reference,
				"transaction_id", event.TransactionID, "status", event.Status, "error", err)
			return kafka.DLQ(err, walleterr.Code(err))
		}
		return fmt.Errorf("apply payment event %s: %w", event.EventID, err)
	}

	c.logger.Info("payment event applied", "event_id", event.EventID, "transaction_id", tx.ID.String(), "status", string(tx.Status))
	return nil
}
