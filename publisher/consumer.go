package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"codetutor-exec/model"
)

// ErrMalformedRequest marks a message whose value is not an execution request.
// The consumer stays usable after it.
var ErrMalformedRequest = errors.New("malformed execution request")

// ConsumerConfig describes the Kafka topic execution requests arrive on.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// Request is an execution request read from Kafka. TraceID comes from the
// message key and is empty when the producer set none.
type Request struct {
	TraceID string
	Request model.ExecutionRequest
}

// Consumer reads execution requests from Kafka.
type Consumer struct {
	reader messageReader
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// NewConsumer builds a Consumer from cfg.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "codetutor-exec"
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024,
		MaxWait:  cfg.MaxWait,
	})
	return newConsumer(reader), nil
}

func newConsumer(reader messageReader) *Consumer {
	return &Consumer{reader: reader}
}

// Next blocks until the next request arrives or ctx is cancelled.
func (c *Consumer) Next(ctx context.Context) (Request, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return Request{}, err
	}

	var req model.ExecutionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return Request{TraceID: string(msg.Key)}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return Request{TraceID: string(msg.Key), Request: req}, nil
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
