package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mezonai/mmn-aa/jsonx"
	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MessageWriter is the part of *kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSinkConfig struct {
	Brokers []string
	Topic   string
}

// Envelope is the JSON value of every message the sink writes
type Envelope struct {
	Type      EventType         `json:"type"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Account   string            `json:"account"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields"`
}

// KafkaSink forwards every bus event to a Kafka topic, keyed by account
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "aa-events"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return NewKafkaSinkWithWriter(writer, cfg.Topic), nil
}

func NewKafkaSinkWithWriter(writer MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic}
}

func Encode(event AccountEvent) ([]byte, error) {
	return jsonx.Marshal(Envelope{
		Type:      event.Type(),
		TxHash:    event.TxHash(),
		Account:   event.Account().Hex(),
		Timestamp: event.Timestamp(),
		Fields:    event.Fields(),
	})
}

// Publish writes one event
func (s *KafkaSink) Publish(ctx context.Context, event AccountEvent) error {
	if sc := event.SpanContext(); sc.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}
	ctx, span := telemetry.Tracer("events").Start(ctx, "events.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(event.Type())),
		attribute.String("account", event.Account().Hex()),
	)

	payload, err := Encode(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("encode %s: %w", event.Type(), err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   event.Account().Bytes(),
		Value: payload,
		Headers: telemetry.InjectKafkaHeaders(ctx, []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type())},
		}),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Run drains bus events into Kafka until ctx is done
func (s *KafkaSink) Run(ctx context.Context, bus *EventBus) {
	id, ch := bus.Subscribe(1024)
	defer bus.Unsubscribe(id)

	logx.Info("KAFKA_SINK", fmt.Sprintf("Forwarding account events to topic %s", s.topic))
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Publish(ctx, event); err != nil {
				logx.Error("KAFKA_SINK", fmt.Sprintf("failed to publish %s for %s: %v", event.Type(), event.Account().Hex(), err))
			}
		}
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
