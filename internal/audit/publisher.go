// Package audit ships ledger records out of the process: a Kafka event
// stream of terminal records and compressed S3 archives of the ledger.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// Publisher receives every ledger record that reached a terminal status.
type Publisher interface {
	Publish(ctx context.Context, rec *store.ActionRecord) error
	Close() error
}

// Nop discards records.
type Nop struct{}

func (Nop) Publish(context.Context, *store.ActionRecord) error { return nil }
func (Nop) Close() error                                       { return nil }

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	WriteTimeout time.Duration
}

// KafkaPublisher writes records as JSON, keyed by deployment id so that
// one deployment's history stays ordered within a partition.
type KafkaPublisher struct {
	writer       messageWriter
	maxAttempts  int
	writeTimeout time.Duration
}

// NewKafkaPublisher builds a publisher over a kafka-go Writer.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(w, cfg), nil
}

func newKafkaPublisher(w messageWriter, cfg KafkaConfig) *KafkaPublisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaPublisher{writer: w, maxAttempts: cfg.MaxAttempts, writeTimeout: cfg.WriteTimeout}
}

// MessageKey is the partition key for rec.
func MessageKey(rec *store.ActionRecord) []byte {
	if rec.DeploymentID != "" {
		return []byte(rec.DeploymentID)
	}
	return []byte(rec.ActionType)
}

// Publish writes rec, retrying with exponential backoff.
func (p *KafkaPublisher) Publish(ctx context.Context, rec *store.ActionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", rec.ID, err)
	}
	msg := kafka.Message{
		Key:   MessageKey(rec),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "action_type", Value: []byte(rec.ActionType)},
			{Key: "status", Value: []byte(rec.Status)},
		},
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		lastErr = p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("publish record %d failed after %d attempts: %w", rec.ID, p.maxAttempts, lastErr)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
