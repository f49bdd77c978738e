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

	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/domain"
)

// handleTimeout bounds one run event, which includes waiting for the
// save-session receipt
const handleTimeout = 2 * time.Minute

// RunHandler saves completed runs
type RunHandler interface {
	HandleRunEvent(ctx context.Context, event domain.RunEvent) error
}

// Consumer consumes completed-run events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       RunHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler RunHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
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
		"topic", c.config.Topic,
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

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

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

// DecodeRunEvent parses and validates a run event message
func DecodeRunEvent(data []byte) (domain.RunEvent, error) {
	var event domain.RunEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if event.EventID == "" || event.Player == "" {
		return event, fmt.Errorf("%w: event_id and player are required", domain.ErrInvalidRequest)
	}
	if event.Stage < 1 || event.Stage > domain.TotalStages {
		return event, domain.ErrInvalidStage
	}
	if event.Score < 0 || event.CoinsCollected < 0 || event.QuestionsCorrect < 0 {
		return event, domain.ErrInvalidSession
	}
	return event, nil
}

// process handles one message. Invalid messages and handler failures are
// logged and skipped so a poison message cannot stall the partition.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	event, err := DecodeRunEvent(msg.Value)
	if err != nil {
		c.logger.Warn("invalid run event",
			"error", err,
			"offset", msg.Offset,
			"partition", msg.Partition,
		)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := c.handler.HandleRunEvent(ctx, event); err != nil {
		c.logger.Error("failed to handle run event",
			"event_id", event.EventID,
			"player", event.Player,
			"error", err,
		)
		return
	}
	c.logger.Debug("handled run event", "event_id", event.EventID, "stage", event.Stage)
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

// ConsumeClaim processes messages from a topic partition one at a time,
// since every run becomes a transaction from the same wallet
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.process(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}
