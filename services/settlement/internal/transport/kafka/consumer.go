package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/kafka"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/settlement/internal/service"
	"go.uber.org/zap"
)

const GroupID = "settlement-service-group"

type Consumer struct {
	ingest service.IngestService
	logger *zap.Logger
}

func NewConsumer(ingest service.IngestService, logger *zap.Logger) *Consumer {
	return &Consumer{
		ingest: ingest,
		logger: logger,
	}
}

func (c *Consumer) Run(ctx context.Context, brokers []string, groupID string) error {
	if groupID == "" {
		groupID = GroupID
	}

	return kafka.NewConsumerGroup(
		brokers,
		groupID,
		[]string{generalDomain.TopicOrderEvents},
		c.processMessage,
		c.logger,
	).Run(ctx)
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	env, err := generalDomain.DecodeEnvelope(msg.Value)
	if err != nil {
		mylogger.Error(ctx, c.logger, "Dropping undecodable message",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}

	return c.HandleEnvelope(ctx, env)
}

// HandleEnvelope turns completed and refunded orders into settlement candidates.
// OrderCreated and OrderCancelled carry no money movement and are skipped.
func (c *Consumer) HandleEnvelope(ctx context.Context, env *generalDomain.Envelope) error {
	var err error

	switch env.EventType {
	case generalDomain.EventOrderCompleted:
		var event generalDomain.OrderCompletedEvent
		if !c.decode(ctx, env, &event) {
			return nil
		}
		err = c.ingest.HandleOrderCompleted(ctx, &event)
	case generalDomain.EventOrderRefunded:
		var event generalDomain.OrderRefundedEvent
		if !c.decode(ctx, env, &event) {
			return nil
		}
		err = c.ingest.HandleOrderRefunded(ctx, &event)
	default:
		return nil
	}

	if err != nil {
		mylogger.Error(ctx, c.logger, "Failed to ingest order event",
			zap.String("event_type", env.EventType),
			zap.String("aggregate_id", env.AggregateID),
			zap.Error(err),
		)
		return fmt.Errorf("handle %s: %w", env.EventType, err)
	}

	return nil
}

func (c *Consumer) decode(ctx context.Context, env *generalDomain.Envelope, dst any) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		mylogger.Error(ctx, c.logger, "Failed to unmarshal payload",
			zap.String("event_type", env.EventType),
			zap.Error(err),
		)
		return false
	}

	return true
}
