package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ReviewEvent is published when a succeeded charge carries an amount that
// maps to no known tier. A human resolves it; the core never guesses.
type ReviewEvent struct {
	SubscriberID int64     `json:"subscriber_id"`
	ChargeID     string    `json:"charge_id"`
	AmountMinor  int64     `json:"amount_minor"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type ReviewPublisher struct {
	ch *amqp.Channel
}

func NewReviewPublisher(mq *RabbitMQ) *ReviewPublisher {
	if mq == nil {
		return nil
	}
	return &ReviewPublisher{ch: mq.ch}
}

func (p *ReviewPublisher) PublishReview(ctx context.Context, event ReviewEvent) error {
	if p == nil || p.ch == nil {
		return fmt.Errorf("review publisher is not initialized")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal review event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		exchangeName,
		reviewKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("publish review event: %w", err)
	}

	return nil
}

// NoopReviewPublisher is selected at startup when no AMQP broker is
// configured. Review events are then only visible in the logs.
type NoopReviewPublisher struct{}

func (NoopReviewPublisher) PublishReview(context.Context, ReviewEvent) error {
	return nil
}
