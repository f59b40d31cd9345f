package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-commerce/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Producer writes JSON payloads to a fixed set of topics, one writer per
// topic.
type Producer struct {
	writers map[string]*kafka.Writer
	log     *logger.Logger
}

func NewProducer(brokers []string, topics []string, log *logger.Logger) *Producer {
	writers := make(map[string]*kafka.Writer, len(topics))
	for _, topic := range topics {
		writers[topic] = kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   topic,
		})
	}
	return &Producer{writers: writers, log: log}
}

// Publish marshals the payload and writes it to the topic, keyed for
// per-entity ordering.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	writer, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("no writer for topic %s", topic)
	}

	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for topic %s: %w", topic, err)
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("write to topic %s: %w", topic, err)
	}

	p.log.LogKafka("PUBLISH", topic, fmt.Sprintf("%d bytes for key %s", len(msgBytes), key))
	return nil
}

// Close shuts down every writer, returning the first error.
func (p *Producer) Close() error {
	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer for topic %s: %w", topic, err)
		}
	}
	return firstErr
}
