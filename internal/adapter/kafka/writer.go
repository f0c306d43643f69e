package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/inmet-climate-etl/internal/config"
	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
	"github.com/goccy/go-json"
	kafkago "github.com/segmentio/kafka-go"
)

// Notifier produces partition publication notices to a Kafka topic.
// It implements pipeline.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured notice topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaNotifyTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w, logger: logger}
}

// Notify publishes one notice. Notices of the same dataset and year share a
// message key, so they stay ordered on one topic partition.
func (n *Notifier) Notify(ctx context.Context, notice domain.PartitionNotice) error {
	msg, err := serializeToMessage(notice)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notice %s: %w", notice.Key(), err)
	}
	n.logger.Debug("notice published",
		"key", notice.Key(),
		"run_id", notice.RunID,
		"partitions", len(notice.Partitions),
	)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a PartitionNotice into a Kafka message.
func serializeToMessage(notice domain.PartitionNotice) (kafkago.Message, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize partition notice: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(notice.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "dataset", Value: []byte(notice.Dataset)},
			{Key: "run_id", Value: []byte(notice.RunID)},
			{Key: "published_at", Value: []byte(notice.PublishedAt.Format(time.RFC3339))},
		},
	}, nil
}
