package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start consumes payment events until the context is cancelled. Malformed
// messages are logged and skipped; the loop never dies on a bad payload.
func (c *Consumer) Start(ctx context.Context, handler func(event models.PaymentEvent)) {
	c.log.Info("KAFKA", "payment event consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("KAFKA", "payment event consumer stopped")
				return
			}
			c.log.Error("KAFKA", fmt.Sprintf("read message: %v", err))
			continue
		}

		var event models.PaymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("skipping malformed payment event: %v", err))
			continue
		}

		c.log.LogKafka("CONSUME", msg.Topic, fmt.Sprintf("received %s for transaction %s", event.Type, event.TransactionID))
		handler(event)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
