package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AfshinJalili/goinvest/libs/kafka"
	"github.com/AfshinJalili/goinvest/libs/logging"
	"github.com/google/uuid"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	events []Event
	err    error
}

func (c *capturePublisher) PublishJSON(_ context.Context, topic, _ string, value any) (int32, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	if evt, ok := value.(Event); ok {
		c.events = append(c.events, evt)
	}
	return 0, 0, c.err
}

func (c *capturePublisher) Close() error { return nil }

type statusMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *statusMetrics) ObserveNotification(_ string, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[status]++
}

func TestKafkaNotifierPublishes(t *testing.T) {
	pub := &capturePublisher{}
	n := NewKafkaNotifier(pub, logging.Discard(), nil)

	user, inv := uuid.New(), uuid.New()
	n.Notify(EventInvestmentCreated, user, inv, Fields{Amount: "1000", Currency: "USD", Status: "active"})
	n.Notify(EventTransactionCompleted, user, uuid.New(), Fields{Status: "completed"})
	n.Close()

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	topics := map[string]bool{}
	for _, topic := range pub.topics {
		topics[topic] = true
	}
	if !topics[kafka.TopicInvestmentEvents] || !topics[kafka.TopicTransactionEvents] {
		t.Fatalf("expected both topics, got %v", pub.topics)
	}
	for _, evt := range pub.events {
		if err := evt.Validate(); err != nil {
			t.Fatalf("invalid event: %v", err)
		}
		if evt.UserID != user.String() {
			t.Fatalf("expected user id %s, got %s", user, evt.UserID)
		}
	}
}

func TestKafkaNotifierSwallowsErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	metrics := &statusMetrics{}
	n := NewKafkaNotifier(pub, logging.Discard(), metrics)

	n.Notify(EventTransactionFailed, uuid.New(), uuid.New(), Fields{Status: "failed"})
	n.Close()

	if metrics.counts["error"] != 1 {
		t.Fatalf("expected one failed notification, got %v", metrics.counts)
	}
}

func TestEventIDsAreStable(t *testing.T) {
	pub := &capturePublisher{}
	n := NewKafkaNotifier(pub, logging.Discard(), nil)
	inv := uuid.New()
	n.Notify(EventInvestmentMatured, uuid.New(), inv, Fields{Status: "completed"})
	n.Notify(EventInvestmentMatured, uuid.New(), inv, Fields{Status: "completed"})
	n.Close()

	if pub.events[0].EventID != pub.events[1].EventID {
		t.Fatalf("expected replayed milestone to reuse event id")
	}
}
