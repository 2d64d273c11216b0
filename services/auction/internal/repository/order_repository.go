package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const orderColumns = `
	id, auction_id, buyer_id, seller_id, bid_id, amount, source, status,
	payment_deadline, created_at, updated_at`

type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error)
	LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.OrderStatus, at time.Time) error
}

type orderRepo struct {
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(logger *zap.Logger) OrderRepository {
	return &orderRepo{
		logger: logger,
		tracer: otel.Tracer("repository/order_repo"),
	}
}

func (r *orderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", order.AuctionID),
		attribute.String("source", string(order.Source)),
	)

	query := `
		INSERT INTO orders (auction_id, buyer_id, seller_id, bid_id, amount, source, status, payment_deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`

	err := tx.QueryRow(
		ctx,
		query,
		order.AuctionID,
		order.BuyerID,
		order.SellerID,
		order.BidID,
		order.Amount,
		order.Source,
		order.Status,
		order.PaymentDeadline,
		order.CreatedAt,
	).Scan(&order.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert order: %w", err)
	}

	order.UpdatedAt = order.CreatedAt

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	return r.get(ctx, span, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepo) LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.LockByID")
	defer span.End()

	return r.get(ctx, span, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepo) get(ctx context.Context, span trace.Span, tx pgx.Tx, query string, id int64) (*domain.Order, error) {
	span.SetAttributes(
		attribute.Int64("order_id", id),
	)

	rows, err := tx.Query(ctx, query, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query order %d: %w", id, err)
	}

	order, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domain.Order])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
		}

		span.RecordError(err)
		return nil, fmt.Errorf("scan order %d: %w", id, err)
	}

	return order, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.OrderStatus, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", id),
		attribute.String("status", string(status)),
	)

	tag, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update order %d: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}

	return nil
}
