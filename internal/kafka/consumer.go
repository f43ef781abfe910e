package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
)

// TrackHandler starts tracking new content
type TrackHandler interface {
	Track(ctx context.Context, req domain.TrackRequest) (*domain.TrackedItem, error)
}

// Consumer consumes track requests from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       TrackHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler TrackHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.TrackTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.TrackTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are marked
// only after the batch holding the message was handed to the tracker.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.TrackRequest, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) > 0 {
			h.consumer.processBatch(batch)
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			last = message

			req, err := DecodeTrackRequest(message.Value)
			if err != nil {
				h.consumer.logger.Warn("invalid track request",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, req)
			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// processBatch tracks every request, retrying transient failures
func (c *Consumer) processBatch(batch []domain.TrackRequest) {
	tracked := 0
	for _, req := range batch {
		if err := c.track(req); err != nil {
			c.logger.Error("failed to track item",
				"item_id", req.ItemID,
				"kind", req.Kind,
				"error", err,
			)
			continue
		}
		tracked++
	}
	c.logger.Debug("processed track batch", "batch_size", len(batch), "tracked", tracked)
}

func (c *Consumer) track(req domain.TrackRequest) error {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		_, err = c.handler.Track(ctx, req)
		cancel()

		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrAlreadyTracked):
			// redelivery of a request we already accepted
			return nil
		case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrItemTooOld):
			return err
		case !domain.IsTransient(err):
			return err
		}

		select {
		case <-c.ctx.Done():
			return err
		case <-time.After(c.config.RetryDelay):
		}
	}
	return err
}

// DecodeTrackRequest parses and minimally validates a track request message
func DecodeTrackRequest(data []byte) (domain.TrackRequest, error) {
	var req domain.TrackRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if req.ItemID == "" || req.OwnerUserID == "" {
		return req, fmt.Errorf("%w: item_id and owner_user_id are required", domain.ErrInvalidRequest)
	}
	if !req.Kind.Valid() {
		return req, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidRequest, req.Kind)
	}
	return req, nil
}
