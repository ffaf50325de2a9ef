package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/models"
	"alert-dispatcher/internal/notification"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Processor runs one delivery task to completion.
type Processor interface {
	Process(ctx context.Context, task models.DeliveryTask) notification.Outcome
}

// Consumer reads delivery tasks and commits each one after it has been
// processed.
type Consumer struct {
	reader messageReader
	svc    Processor
	logger *logrus.Entry
}

func NewConsumer(cfg Config, svc Processor, logger *logrus.Entry) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{cfg.Broker},
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		StartOffset: kafka.FirstOffset,
	})
	return &Consumer{reader: r, svc: svc, logger: logger}
}

func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Info("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					c.logger.Info("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				continue
			}
			c.handle(ctx, msg)
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var task models.DeliveryTask
	switch err := json.Unmarshal(msg.Value, &task); {
	case err != nil:
		c.logger.Errorf("Unmarshal message failed at offset %d: %v", msg.Offset, err)
	case task.LogID < 1:
		c.logger.Errorf("Invalid message at offset %d: missing log_id", msg.Offset)
	default:
		if task.Attempt < 1 {
			task.Attempt = 1
		}
		c.svc.Process(ctx, task)
		if ctx.Err() != nil {
			// leave uncommitted; it is redelivered after restart
			return
		}
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Errorf("Commit failed at offset %d: %v", msg.Offset, err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
