package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/AfshinJalili/goinvest/libs/kafka"
	"github.com/AfshinJalili/goinvest/libs/logging"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/funding"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

type stubPayments struct {
	events []funding.PaymentEvent
	err    error
}

func (s *stubPayments) HandlePaymentEvent(_ context.Context, evt funding.PaymentEvent) (storage.Transaction, error) {
	s.events = append(s.events, evt)
	if s.err != nil {
		return storage.Transaction{}, s.err
	}
	return storage.Transaction{ID: evt.TransactionID, Status: storage.StatusCompleted}, nil
}

func paymentMessage(t *testing.T, mutate func(*PaymentConfirmedEvent)) *sarama.ConsumerMessage {
	t.Helper()
	env, err := kafka.NewEnvelope(paymentsConfirmedEventType, 1, "corr-1")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	evt := PaymentConfirmedEvent{Envelope: env, Reference: "ch_123", Status: "succeeded"}
	if mutate != nil {
		mutate(&evt)
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: kafka.TopicPaymentsConfirmed, Value: raw}
}

func TestPaymentConsumerAppliesEvent(t *testing.T) {
	payments := &stubPayments{}
	c := NewPaymentConsumer(payments, logging.Discard())

	txID := uuid.New()
	msg := paymentMessage(t, func(e *PaymentConfirmedEvent) {
		e.Reference = ""
		e.TransactionID = txID.String()
		e.TxHash = "0xabc"
		e.Amount = "0.25"
	})
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(payments.events) != 1 {
		t.Fatalf("expected 1 applied event, got %d", len(payments.events))
	}
	got := payments.events[0]
	if got.TransactionID != txID || got.TxHash != "0xabc" || got.Status != "succeeded" || got.Amount.String() != "0.25" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestPaymentConsumerSendsBadEventsToDLQ(t *testing.T) {
	c := NewPaymentConsumer(&stubPayments{}, logging.Discard())

	cases := map[string]*sarama.ConsumerMessage{
		"garbage":        {Value: []byte("{not json")},
		"missing target": paymentMessage(t, func(e *PaymentConfirmedEvent) { e.Reference = "" }),
		"bad uuid":       paymentMessage(t, func(e *PaymentConfirmedEvent) { e.Reference = ""; e.TransactionID = "nope" }),
		"wrong type":     paymentMessage(t, func(e *PaymentConfirmedEvent) { e.EventType = "orders.created" }),
		"bad amount":     paymentMessage(t, func(e *PaymentConfirmedEvent) { e.Amount = "lots" }),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			err := c.HandleMessage(context.Background(), msg)
			var dlq *kafka.DLQError
			if !errors.As(err, &dlq) {
				t.Fatalf("expected DLQ error, got %v", err)
			}
		})
	}
}

func TestPaymentConsumerClassifiesApplyErrors(t *testing.T) {
	rejected := NewPaymentConsumer(&stubPayments{err: fmt.Errorf("ref: %w", walleterr.ErrNotFound)}, logging.Discard())
	err := rejected.HandleMessage(context.Background(), paymentMessage(t, nil))
	var dlq *kafka.DLQError
	if !errors.As(err, &dlq) {
		t.Fatalf("expected unknown reference to dead letter, got %v", err)
	}

	transient := NewPaymentConsumer(&stubPayments{err: errors.New("connection reset")}, logging.Discard())
	err = transient.HandleMessage(context.Background(), paymentMessage(t, nil))
	if err == nil || errors.As(err, &dlq) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
