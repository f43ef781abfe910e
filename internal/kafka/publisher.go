package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
)

// FinalizedEvent is published once per finalized item
type FinalizedEvent struct {
	EventID    string               `json:"event_id"`
	OccurredAt time.Time            `json:"occurred_at"`
	Item       domain.FinalizedItem `json:"item"`
}

// Publisher sends finalization events to Kafka
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewPublisher creates a sync producer for the finalized topic
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.FinalizedTopic, logger), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Notify publishes a finalization event keyed by item id
func (p *Publisher) Notify(ctx context.Context, item domain.FinalizedItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event := FinalizedEvent{
		EventID:    uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		Item:       item,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding finalized event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(item.ItemID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publishing finalized event: %w", err)
	}

	p.logger.Debug("published finalized event",
		"item_id", item.ItemID,
		"event_id", event.EventID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
