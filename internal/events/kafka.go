package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON messages keyed by agent id, so one
// agent's events stay ordered within a partition. WriteMessages blocks, so
// KafkaSink should run behind Async.
type KafkaSink struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaSink creates a writer for topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	logger = logger.With("component", "kafka")
	logger.Info("kafka sink configured", "brokers", strings.Join(brokers, ","), "topic", topic)
	return &KafkaSink{writer: w, topic: topic, timeout: 5 * time.Second, logger: logger}
}

// Emit publishes e. Failures are logged; the event is not retried.
func (k *KafkaSink) Emit(e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		k.logger.Error("kafka encode failed", "type", e.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AgentID),
		Value: value,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		k.logger.Error("kafka publish failed", "topic", k.topic, "record_id", e.RecordID, "error", err)
	}
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
