package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/go-auction/pkg/outbox/utils"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const consumerName = "auction-service"

// OrderService settles orders from payment outcomes. Each payment event is
// applied at most once.
type OrderService interface {
	HandlePaymentSucceeded(ctx context.Context, event *generalDomain.PaymentSucceededEvent) error
	HandlePaymentFailed(ctx context.Context, event *generalDomain.PaymentFailedEvent) error
}

type orderService struct {
	deps   Deps
	buyNow *buyNowService
	tracer trace.Tracer
}

func NewOrderService(deps Deps, settings Settings) OrderService {
	return &orderService{
		deps:   deps,
		buyNow: newBuyNowService(deps, settings),
		tracer: otel.Tracer("order_service"),
	}
}

func (s *orderService) HandlePaymentSucceeded(ctx context.Context, event *generalDomain.PaymentSucceededEvent) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.HandlePaymentSucceeded")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", event.OrderID),
	)

	key := fmt.Sprintf("%s:%d", generalDomain.EventPaymentSucceeded, event.OrderID)
	err := outboxUtils.ProcessOnce(ctx, s.deps.DB, s.deps.Logger, consumerName, key, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.deps.Orders.GetByID(ctx, tx, event.OrderID)
		if err != nil {
			return err
		}

		if order.Source == domain.OrderSourceBuyNow {
			return s.buyNow.confirmTx(ctx, tx, order)
		}

		return s.completeAuctionOrder(ctx, tx, order)
	})

	return s.settle(ctx, span, event.OrderID, err)
}

func (s *orderService) HandlePaymentFailed(ctx context.Context, event *generalDomain.PaymentFailedEvent) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.HandlePaymentFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", event.OrderID),
	)

	key := fmt.Sprintf("%s:%d", generalDomain.EventPaymentFailed, event.OrderID)
	err := outboxUtils.ProcessOnce(ctx, s.deps.DB, s.deps.Logger, consumerName, key, func(ctx context.Context, tx pgx.Tx) error {
		order, err := s.deps.Orders.GetByID(ctx, tx, event.OrderID)
		if err != nil {
			return err
		}

		if order.Source == domain.OrderSourceBuyNow {
			return s.buyNow.expireTx(ctx, tx, order, ExpireReasonPaymentFailed)
		}

		return s.cancelAuctionOrder(ctx, tx, order, ExpireReasonPaymentFailed)
	})

	return s.settle(ctx, span, event.OrderID, err)
}

// settle drops outcomes that can never succeed on redelivery.
func (s *orderService) settle(ctx context.Context, span trace.Span, orderID int64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, domain.ErrOrderNotPending),
		errors.Is(err, domain.ErrAttemptResolved):
		mylogger.Warn(ctx, s.deps.Logger, "Payment event ignored", zap.Int64("order_id", orderID), zap.Error(err))
		return nil
	default:
		span.RecordError(err)
		return err
	}
}

func (s *orderService) completeAuctionOrder(ctx context.Context, tx pgx.Tx, unlocked *domain.Order) error {
	order, err := s.deps.Orders.LockByID(ctx, tx, unlocked.ID)
	if err != nil {
		return asConflict(err, s.deps.Metrics)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return domain.ErrOrderNotPending
	}

	now := s.deps.Clock.Now()
	if err := s.deps.Orders.UpdateStatus(ctx, tx, order.ID, domain.OrderStatusCompleted, now); err != nil {
		return err
	}

	if err := emitOrderCompleted(ctx, s.deps.Outbox, tx, order, now); err != nil {
		return err
	}

	mylogger.Info(ctx, s.deps.Logger, "Order completed", zap.Int64("order_id", order.ID))

	return nil
}

func (s *orderService) cancelAuctionOrder(ctx context.Context, tx pgx.Tx, unlocked *domain.Order, reason string) error {
	order, err := s.deps.Orders.LockByID(ctx, tx, unlocked.ID)
	if err != nil {
		return asConflict(err, s.deps.Metrics)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return domain.ErrOrderNotPending
	}

	now := s.deps.Clock.Now()
	if err := s.deps.Orders.UpdateStatus(ctx, tx, order.ID, domain.OrderStatusCancelled, now); err != nil {
		return err
	}

	if err := emitOrderCancelled(ctx, s.deps.Outbox, tx, order, reason, now); err != nil {
		return err
	}

	mylogger.Info(ctx, s.deps.Logger, "Order cancelled", zap.Int64("order_id", order.ID), zap.String("reason", reason))

	return nil
}
