// Package events publishes loan domain events after state changes commit.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/utils"
)

// Publisher delivers loan events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event models.LoanEvent) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, models.LoanEvent) error { return nil }

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic, keyed by loan id so
// a loan's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.LoanEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.LoanID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", event.Type, p.topic, err)
	}

	utils.GetLogger().Debug("Published loan event",
		zap.String("type", event.Type),
		zap.Int64("loan_id", event.LoanID),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// PublishAll publishes each event, logging rather than returning failures.
// Events describe state that has already committed, so a delivery failure
// must not undo it.
func PublishAll(ctx context.Context, pub Publisher, evts ...models.LoanEvent) {
	if pub == nil {
		return
	}
	for _, evt := range evts {
		if err := pub.Publish(ctx, evt); err != nil {
			utils.GetLogger().Warn("Failed to publish loan event",
				zap.String("type", evt.Type),
				zap.Int64("loan_id", evt.LoanID),
				zap.Error(err),
			)
		}
	}
}

// BrokerCheck reports whether any configured Kafka broker accepts a
// connection.
type BrokerCheck struct {
	Brokers []string
}

// HealthCheck dials the brokers in order and succeeds on the first that answers.
func (b BrokerCheck) HealthCheck(ctx context.Context) error {
	if len(b.Brokers) == 0 {
		return errors.New("no brokers configured")
	}
	var lastErr error
	for _, addr := range b.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no broker reachable: %w", lastErr)
}
