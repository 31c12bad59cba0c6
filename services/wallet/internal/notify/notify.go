// Package notify publishes wallet and investment milestones. Delivery is
// fire-and-forget: callers never wait on it and failures are only logged.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AfshinJalili/goinvest/libs/kafka"
	"github.com/google/uuid"
)

const (
	EventTransactionCreated   = "wallet.transaction.created"
	EventTransactionCompleted = "wallet.transaction.completed"
	EventTransactionFailed    = "wallet.transaction.failed"
	EventInvestmentCreated    = "wallet.investment.created"
	EventInvestmentCancelled  = "wallet.investment.cancelled"
	EventInvestmentMatured    = "wallet.investment.matured"
)

const eventVersion = 1

type Event struct {
	kafka.Envelope
	UserID   string            `json:"user_id"`
	EntityID string            `json:"entity_id"`
	Amount   string            `json:"amount,omitempty"`
	Currency string            `json:"currency,omitempty"`
	Status   string            `json:"status,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

func (e Event) Validate() error {
	return e.Envelope.Validate()
}

type Notifier interface {
	Notify(eventType string, userID, entityID uuid.UUID, fields Fields)
}

type Fields struct {
	Amount   string
	Currency string
	Status   string
	Details  map[string]string
}

type Metrics interface {
	ObserveNotification(eventType, status string)
}

// KafkaNotifier publishes each event on its own goroutine with a detached
// deadline so a cancelled request does not drop its notification.
type KafkaNotifier struct {
	publisher kafka.Publisher
	logger    *slog.Logger
	metrics   Metrics
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewKafkaNotifier(publisher kafka.Publisher, logger *slog.Logger, metrics Metrics) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		timeout:   5 * time.Second,
	}
}

func (n *KafkaNotifier) Notify(eventType string, userID, entityID uuid.UUID, fields Fields) {
	env, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(eventType, entityID.String(), fields.Status),
		eventType, eventVersion, entityID.String(),
	)
	if err != nil {
		n.logger.Error("build notification failed", "event_type", eventType, "error", err)
		return
	}
	evt := Event{
		Envelope: env,
		UserID:   userID.String(),
		EntityID: entityID.String(),
		Amount:   fields.Amount,
		Currency: fields.Currency,
		Status:   fields.Status,
		Details:  fields.Details,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		status := "success"
		if _, _, err := n.publisher.PublishJSON(ctx, topicFor(eventType), evt.UserID, evt); err != nil {
			status = "error"
			n.logger.Warn("notification publish failed", "event_type", eventType, "entity_id", evt.EntityID, "error", err)
		}
		if n.metrics != nil {
			n.metrics.ObserveNotification(eventType, status)
		}
	}()
}

// Close waits for in-flight notifications.
func (n *KafkaNotifier) Close() {
	n.wg.Wait()
}

func topicFor(eventType string) string {
	switch eventType {
	case EventInvestmentCreated, EventInvestmentCancelled, EventInvestmentMatured:
		return kafka.TopicInvestmentEvents
	}
	return kafka.TopicTransactionEvents
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, uuid.UUID, uuid.UUID, Fields) {}
