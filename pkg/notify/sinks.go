package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gen2brain/beeep"
	"github.com/segmentio/kafka-go"
)

// LogSink writes alerts to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{log: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, a Alert) error {
	s.log.InfoContext(ctx, a.Title,
		"household", a.HouseholdID,
		"kind", a.Kind,
		"body", a.Body,
		"at", a.At)
	return nil
}

// DesktopSink shows alerts as desktop notifications.
type DesktopSink struct {
	AppIcon string
	notify  func(title, message, appIcon string) error
}

// NewDesktopSink creates a DesktopSink backed by beeep.
func NewDesktopSink(appIcon string) *DesktopSink {
	return &DesktopSink{AppIcon: appIcon, notify: beeep.Notify}
}

func (s *DesktopSink) Name() string { return "desktop" }

func (s *DesktopSink) Send(_ context.Context, a Alert) error {
	return s.notify(a.Title, a.Body, s.AppIcon)
}

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes alerts as JSON to a Kafka topic, keyed by household
// ID so one household's alerts stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

func (s *KafkaSink) Send(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.HouseholdID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
		},
	})
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
