package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the stream all memory lifecycle events land on.
const DefaultTopic = "engram.memory.events"

// KafkaPublisher writes events to a Kafka topic, keyed by Event.Key so a
// session's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher connects a publisher to the given brokers. An empty
// topic falls back to DefaultTopic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}, nil
}

// Publish marshals and writes the events in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...*Event) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.ID, err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(event.Key),
			Value: value,
			Time:  event.OccurredAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
