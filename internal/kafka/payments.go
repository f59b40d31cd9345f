package kafka

import (
	"context"
	"fmt"

	"ms-commerce/internal/config"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
)

// PaymentPublisher streams payment events: every event goes to the main
// payment-events feed, and finalized outcomes additionally land on their
// status topic so downstream consumers can subscribe to just one outcome.
type PaymentPublisher struct {
	producer *Producer
	topics   config.TopicConfig
	log      *logger.Logger
}

func NewPaymentPublisher(producer *Producer, topics config.TopicConfig, log *logger.Logger) *PaymentPublisher {
	return &PaymentPublisher{producer: producer, topics: topics, log: log}
}

// PublishPaymentEvent implements the processor's publisher contract.
func (p *PaymentPublisher) PublishPaymentEvent(event models.PaymentEvent) error {
	ctx := context.Background()

	if err := p.producer.Publish(ctx, p.topics.PaymentEvents, event.TransactionID, event); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	statusTopic := p.statusTopicFor(event.Type)
	if statusTopic == "" {
		return nil
	}
	if err := p.producer.Publish(ctx, statusTopic, event.TransactionID, event); err != nil {
		return fmt.Errorf("publish %s to status topic: %w", event.Type, err)
	}
	return nil
}

func (p *PaymentPublisher) statusTopicFor(eventType string) string {
	switch eventType {
	case models.EventPaymentCompleted:
		return p.topics.PaymentSuccess
	case models.EventPaymentFailed:
		return p.topics.PaymentFailed
	case models.EventPaymentRefunded:
		return p.topics.PaymentRefunded
	default:
		// pending settlement only appears on the main feed
		return ""
	}
}
