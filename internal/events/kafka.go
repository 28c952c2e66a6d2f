package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roombook/internal/config"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
	HeaderSource    = "source"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder relays bus events to a Kafka topic for downstream consumers.
type KafkaForwarder struct {
	writer  messageWriter
	source  string
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewKafkaForwarder(cfg config.KafkaConfig, source string, logger *zerolog.Logger) (*KafkaForwarder, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // события одной брони попадают в одну партицию
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error().Msgf(msg, args...)
		}),
	}
	return newKafkaForwarder(writer, source, logger), nil
}

func newKafkaForwarder(w messageWriter, source string, logger *zerolog.Logger) *KafkaForwarder {
	return &KafkaForwarder{writer: w, source: source, timeout: 5 * time.Second, logger: logger}
}

// Attach subscribes the forwarder to every event on the bus.
func (f *KafkaForwarder) Attach(bus *EventBus) {
	bus.Subscribe(AllEvents, f.Handle)
}

func (f *KafkaForwarder) Handle(event *Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	key := event.Key
	if key == "" {
		key = event.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(event.ID)},
			{Key: HeaderEventType, Value: []byte(event.Type)},
			{Key: HeaderSource, Value: []byte(f.source)},
		},
	}

	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		f.logger.Error().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("kafka publish failed")
		return fmt.Errorf("publish %s to kafka: %w", event.Type, err)
	}
	return nil
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
