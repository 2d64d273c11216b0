package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/kafka"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/auction/internal/service"
	"go.uber.org/zap"
)

const GroupID = "auction-service-group"

type Consumer struct {
	service service.OrderService
	logger  *zap.Logger
}

func NewConsumer(service service.OrderService, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled or the group fails.
func (c *Consumer) Run(ctx context.Context, brokers []string, groupID string) error {
	if groupID == "" {
		groupID = GroupID
	}

	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		[]string{generalDomain.TopicPaymentEvents},
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Debug(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
	)

	env, err := generalDomain.DecodeEnvelope(msg.Value)
	if err != nil {
		// a malformed record would block the partition forever
		mylogger.Error(ctx, c.logger, "Dropping undecodable message", zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}

	return c.HandleEnvelope(ctx, env)
}

// HandleEnvelope routes one payment event. It also serves as an in-process subscriber.
func (c *Consumer) HandleEnvelope(ctx context.Context, env *generalDomain.Envelope) error {
	switch env.EventType {
	case generalDomain.EventPaymentSucceeded:
		var event generalDomain.PaymentSucceededEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to unmarshal payload", zap.Error(err))
			return nil
		}

		if err := c.service.HandlePaymentSucceeded(ctx, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to apply payment success", zap.Int64("order_id", event.OrderID), zap.Error(err))
			return fmt.Errorf("handle %s: %w", env.EventType, err)
		}
	case generalDomain.EventPaymentFailed:
		var event generalDomain.PaymentFailedEvent
		if err := json.Unmarshal(env.Data, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to unmarshal payload", zap.Error(err))
			return nil
		}

		if err := c.service.HandlePaymentFailed(ctx, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to apply payment failure", zap.Int64("order_id", event.OrderID), zap.Error(err))
			return fmt.Errorf("handle %s: %w", env.EventType, err)
		}
	default:
		mylogger.Debug(ctx, c.logger, "Ignored event type", zap.String("event_type", env.EventType))
	}

	return nil
}
