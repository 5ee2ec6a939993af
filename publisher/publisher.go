// Package publisher moves execution traffic over Kafka: reports out, and
// optionally requests in.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"codetutor-exec/model"
)

// Report is the record published once per dispatch.
type Report struct {
	TraceID    string                 `json:"traceId"`
	Language   string                 `json:"language"`
	StatusCode int                    `json:"statusCode"`
	Outcome    model.ExecutionOutcome `json:"outcome"`
	Timestamp  time.Time              `json:"timestamp"`
}

// PublisherConfig configures the Kafka report publisher.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// Publisher publishes execution reports to Kafka.
type Publisher struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher constructs a Publisher using the supplied configuration.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}

	return newPublisher(writer), nil
}

func newPublisher(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Publish writes report keyed by its trace id.
func (p *Publisher) Publish(ctx context.Context, report Report) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(report.TraceID),
		Value: payload,
		Time:  report.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
