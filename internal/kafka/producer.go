package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/models"
)

type Config struct {
	Broker  string
	Topic   string
	GroupID string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes delivery tasks to the delivery topic. It satisfies
// notification.Dispatcher.
type Producer struct {
	writer messageWriter
	topic  string
	logger *logrus.Entry
}

func NewProducer(cfg Config, logger *logrus.Entry) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Broker),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: w, topic: cfg.Topic, logger: logger}
}

// Dispatch writes the task keyed by log id, so every attempt of one log
// lands on the same partition.
func (p *Producer) Dispatch(ctx context.Context, task models.DeliveryTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task for log %d: %w", task.LogID, err)
	}
	msg := kafka.Message{Key: []byte(strconv.FormatInt(task.LogID, 10)), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish task for log %d to %s: %w", task.LogID, p.topic, err)
	}
	p.logger.Debugf("Published task: request_id=%s log_id=%d attempt=%d", task.RequestID, task.LogID, task.Attempt)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
