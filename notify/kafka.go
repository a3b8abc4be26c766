package notify

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"offerflow/workflow"
)

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events to one topic keyed by recipient so each
// recipient's events stay on one partition.
type KafkaNotifier struct {
	writer MessageWriter
	topic  string
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaNotifier(writer MessageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, topic: topic}
}

func (k *KafkaNotifier) Deliver(ctx context.Context, ev workflow.Event) error {
	value, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(ev.RecipientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: kafka publish %s: %w", ev.ID, err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
