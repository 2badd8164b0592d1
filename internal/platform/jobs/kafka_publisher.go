package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/masar-academy/api/internal/services"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher writes domain events to a Kafka topic keyed by aggregate, so each booking
// or order lands on one partition.
type KafkaEventPublisher struct {
	writer kafkaWriter
}

var _ services.DomainEventPublisher = (*KafkaEventPublisher)(nil)

// NewKafkaEventPublisher constructs a synchronous writer for topic.
func NewKafkaEventPublisher(brokers []string, topic string) (*KafkaEventPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka event publisher: brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka event publisher: topic is required")
	}
	return newKafkaEventPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}), nil
}

func newKafkaEventPublisher(writer kafkaWriter) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

// Publish writes one message and waits for all in-sync replicas.
func (p *KafkaEventPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	data, err := encodeEvent(event)
	if err != nil {
		return err
	}
	attrs := eventAttributes(event)
	headers := make([]kafka.Header, 0, len(attrs))
	for k, v := range attrs {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	msg := kafka.Message{
		Key:     []byte(event.AggregateType + "/" + event.AggregateID),
		Value:   data,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
