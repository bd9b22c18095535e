package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by chain.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, topic: topic}
}

// Name identifies the publisher in logs.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish writes the event. Events of one namespace share a key so they
// land on one partition in chain order.
func (p *KafkaPublisher) Publish(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(evt.Table.ChainKey()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "table", Value: []byte(evt.Table.Ref())},
			{Key: "event_hash", Value: []byte(evt.Chain.EventHash)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
