/**
 * @description
 * This file defines how admission lifecycle notifications leave the service. A Sink
 * receives individual notification events; the publisher-backed sink routes them to
 * RabbitMQ, and the batch notifier collects events raised while an event lock is held
 * so they can be flushed after the lock is released.
 */

package app

import (
	"context"
	"log"
	"sync"

	"github.com/esupa/admission-service/internal/domain"
	"github.com/esupa/admission-service/pkg/rabbitmq"
)

// Sink delivers a single notification event to its transport.
type Sink interface {
	Notify(ctx context.Context, event domain.NotificationEvent) error
}

// PublisherSink forwards notification events to a RabbitMQ publisher, routed by
// notification kind.
type PublisherSink struct {
	publisher rabbitmq.Publisher
	exchange  string
}

// NewPublisherSink creates a Sink backed by the given publisher.
func NewPublisherSink(publisher rabbitmq.Publisher, exchange string) *PublisherSink {
	if exchange == "" {
		exchange = rabbitmq.SubscriptionEventsExchange
	}
	return &PublisherSink{publisher: publisher, exchange: exchange}
}

func (s *PublisherSink) Notify(ctx context.Context, event domain.NotificationEvent) error {
	// Subscription lifecycle kinds address one subscriber; sales_closed addresses the
	// event as a whole and routes under its own prefix.
	scope := "subscription."
	if event.Kind == domain.NotifySalesClosed {
		scope = "event."
	}
	return s.publisher.Publish(ctx, s.exchange, scope+string(event.Kind), event)
}

// BatchNotifier buffers notification events until Flush. Admission decisions run
// under a per-event lock; buffering keeps publisher latency outside that lock.
type BatchNotifier struct {
	sink Sink

	mu     sync.Mutex
	queued []domain.NotificationEvent
}

// NewBatchNotifier creates a BatchNotifier forwarding to sink on Flush.
func NewBatchNotifier(sink Sink) *BatchNotifier {
	return &BatchNotifier{sink: sink}
}

// Notify buffers the event. It never fails; deliveries happen at Flush.
func (b *BatchNotifier) Notify(ctx context.Context, event domain.NotificationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued = append(b.queued, event)
	return nil
}

// Flush delivers every buffered event in order. Delivery failures are logged and do
// not stop the remaining events; notifications are best-effort.
func (b *BatchNotifier) Flush(ctx context.Context) {
	b.mu.Lock()
	pending := b.queued
	b.queued = nil
	b.mu.Unlock()

	for _, event := range pending {
		if err := b.sink.Notify(ctx, event); err != nil {
			log.Printf("level=warn component=notifier msg=\"notification delivery failed\" kind=%s subscription_id=%d err=%v",
				event.Kind, event.SubscriptionID, err)
		}
	}
}
