package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/dispatch"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DispatchMessage asks a dispatch worker to run one attempt for a notification
type DispatchMessage struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes dispatch requests to Kafka
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

var _ dispatch.Enqueuer = (*Producer)(nil)

// Consumer reads dispatch requests from Kafka and hands them to an Enqueuer
type Consumer struct {
	reader messageReader
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafka.RequireAll,
	}

	return &Producer{writer: writer, logger: logger}
}

// NewConsumer creates a new Kafka consumer in the configured group
func NewConsumer(cfg config.KafkaConfig, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{reader: reader, logger: logger}
}

// Enqueue publishes a dispatch job keyed by notification id, so every attempt
// for one notification lands on the same partition
func (p *Producer) Enqueue(ctx context.Context, job dispatch.Job) error {
	msg, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.logger.Debug("Published dispatch request", zap.String("id", job.NotificationID))
	return nil
}

// Consume forwards messages to sink until ctx is cancelled. Offsets are
// committed once sink accepted the job; undecodable messages are logged and
// committed so they cannot block the partition.
func (c *Consumer) Consume(ctx context.Context, sink dispatch.Enqueuer) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Error reading message from Kafka", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		job, err := decodeJob(msg)
		if err != nil {
			c.logger.Warn("Dropping malformed dispatch message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		} else if err := sink.Enqueue(ctx, job); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to hand over dispatch job %s: %w", job.NotificationID, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("Failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func encodeJob(job dispatch.Job) (kafka.Message, error) {
	enqueuedAt := job.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	data, err := json.Marshal(DispatchMessage{
		ID:         job.NotificationID,
		UserID:     job.UserID,
		Priority:   job.Priority,
		EnqueuedAt: enqueuedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	headers := []kafka.Header{}
	if job.Priority != "" {
		headers = append(headers, kafka.Header{Key: "priority", Value: []byte(job.Priority)})
	}
	return kafka.Message{
		Key:     []byte(job.NotificationID),
		Value:   data,
		Headers: headers,
		Time:    enqueuedAt,
	}, nil
}

func decodeJob(msg kafka.Message) (dispatch.Job, error) {
	var m DispatchMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return dispatch.Job{}, fmt.Errorf("failed to unmarshal dispatch message: %w", err)
	}
	if m.ID == "" {
		m.ID = string(msg.Key)
	}
	if m.ID == "" {
		return dispatch.Job{}, errors.New("dispatch message has no notification id")
	}
	return dispatch.Job{
		NotificationID: m.ID,
		UserID:         m.UserID,
		Priority:       m.Priority,
		EnqueuedAt:     m.EnqueuedAt,
	}, nil
}
