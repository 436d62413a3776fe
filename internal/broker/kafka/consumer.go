package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic and commits a record only after its handler
// succeeded.
type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		// Без группы читаем только новые изменения: старые для инвалидации кэша бесполезны.
		cfg.Topic = topic
		cfg.StartOffset = kafka.LastOffset
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			// Важно: commit делаем только при успехе, иначе потеряем сообщение.
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumeShipmentChanges decodes ShipmentChanged records for handler.
// Undecodable records and tombstones are committed and skipped so one bad
// record cannot stall the group.
func (c *Consumer) ConsumeShipmentChanges(ctx context.Context, handler func(ctx context.Context, m messages.ShipmentChanged) error) error {
	return c.Consume(ctx, func(key, value []byte) error {
		if len(value) == 0 {
			return nil
		}
		var m messages.ShipmentChanged
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip malformed shipment change", "key", string(key), "error", err.Error())
			return nil
		}
		return handler(ctx, m)
	})
}
