package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/clock"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/outbox/worker"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrderCreator turns a won auction into a payable order inside the closing transaction.
type OrderCreator interface {
	CreateFromAuction(ctx context.Context, tx pgx.Tx, auction *domain.AuctionItem, winning *domain.Bid) (int64, error)
}

type orderCreator struct {
	orders        repository.OrderRepository
	outbox        worker.OutboxRepository
	clock         clock.Clock
	paymentWindow time.Duration
	tracer        trace.Tracer
}

func NewOrderCreator(orders repository.OrderRepository, outbox worker.OutboxRepository, clk clock.Clock, paymentWindow time.Duration) OrderCreator {
	return &orderCreator{
		orders:        orders,
		outbox:        outbox,
		clock:         clk,
		paymentWindow: paymentWindow,
		tracer:        otel.Tracer("order_creator"),
	}
}

func (c *orderCreator) CreateFromAuction(ctx context.Context, tx pgx.Tx, auction *domain.AuctionItem, winning *domain.Bid) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "OrderCreator.CreateFromAuction")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auction.ID),
		attribute.Int64("bid_id", winning.ID),
	)

	now := c.clock.Now()
	order := &domain.Order{
		AuctionID:       auction.ID,
		BuyerID:         winning.BidderID,
		SellerID:        auction.SellerID,
		BidID:           ptr(winning.ID),
		Amount:          winning.BidAmount,
		Source:          domain.OrderSourceAuction,
		Status:          domain.OrderStatusPendingPayment,
		PaymentDeadline: now.Add(c.paymentWindow),
		CreatedAt:       now,
	}

	if err := c.orders.Create(ctx, tx, order); err != nil {
		span.RecordError(err)
		return 0, err
	}

	if err := emitOrderCreated(ctx, c.outbox, tx, order); err != nil {
		return 0, err
	}

	return order.ID, nil
}

func emitOrderCreated(ctx context.Context, outbox worker.OutboxRepository, tx pgx.Tx, order *domain.Order) error {
	return emitOrderEvent(ctx, outbox, tx, order.ID, generalDomain.EventOrderCreated, &generalDomain.OrderCreatedEvent{
		OrderID:         order.ID,
		AuctionID:       order.AuctionID,
		BuyerID:         order.BuyerID,
		SellerID:        order.SellerID,
		Amount:          order.Amount,
		Source:          string(order.Source),
		PaymentDeadline: order.PaymentDeadline,
	})
}
