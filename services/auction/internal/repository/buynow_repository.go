package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type BuyNowRepository interface {
	Create(ctx context.Context, tx pgx.Tx, attempt *domain.BuyNowAttempt) error
	GetByOrderID(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.BuyNowAttempt, error)
	Resolve(ctx context.Context, tx pgx.Tx, id int64, status domain.AttemptStatus, at time.Time) error
	CountByUser(ctx context.Context, tx pgx.Tx, auctionID, userID int64, status domain.AttemptStatus) (int, error)
	// ListOverdueOrderIDs returns orders of PENDING attempts whose payment deadline passed.
	ListOverdueOrderIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type buyNowRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewBuyNowRepository(pool *pgxpool.Pool, logger *zap.Logger) BuyNowRepository {
	return &buyNowRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/buy_now_repo"),
	}
}

func (r *buyNowRepo) Create(ctx context.Context, tx pgx.Tx, attempt *domain.BuyNowAttempt) error {
	ctx, span := r.tracer.Start(ctx, "BuyNowRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", attempt.AuctionID),
		attribute.Int64("order_id", attempt.OrderID),
	)

	query := `
		INSERT INTO buy_now_attempts (auction_id, user_id, order_id, status, payment_deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := tx.QueryRow(
		ctx,
		query,
		attempt.AuctionID,
		attempt.UserID,
		attempt.OrderID,
		attempt.Status,
		attempt.PaymentDeadline,
		attempt.CreatedAt,
	).Scan(&attempt.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert buy-now attempt: %w", err)
	}

	return nil
}

func (r *buyNowRepo) GetByOrderID(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.BuyNowAttempt, error) {
	ctx, span := r.tracer.Start(ctx, "BuyNowRepository.GetByOrderID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		SELECT id, auction_id, user_id, order_id, status, payment_deadline, created_at, resolved_at
		FROM buy_now_attempts
		WHERE order_id = $1
	`

	rows, err := tx.Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query buy-now attempt: %w", err)
	}

	attempt, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domain.BuyNowAttempt])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", ErrAttemptNotFound, orderID)
		}

		span.RecordError(err)
		return nil, fmt.Errorf("scan buy-now attempt: %w", err)
	}

	return attempt, nil
}

func (r *buyNowRepo) Resolve(ctx context.Context, tx pgx.Tx, id int64, status domain.AttemptStatus, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "BuyNowRepository.Resolve")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("attempt_id", id),
		attribute.String("status", string(status)),
	)

	tag, err := tx.Exec(ctx, `UPDATE buy_now_attempts SET status = $2, resolved_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("resolve buy-now attempt %d: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrAttemptNotFound, id)
	}

	return nil
}

func (r *buyNowRepo) CountByUser(ctx context.Context, tx pgx.Tx, auctionID, userID int64, status domain.AttemptStatus) (int, error) {
	ctx, span := r.tracer.Start(ctx, "BuyNowRepository.CountByUser")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
		attribute.Int64("user_id", userID),
	)

	var n int
	err := tx.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM buy_now_attempts WHERE auction_id = $1 AND user_id = $2 AND status = $3`,
		auctionID,
		userID,
		status,
	).Scan(&n)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("count buy-now attempts: %w", err)
	}

	return n, nil
}

func (r *buyNowRepo) ListOverdueOrderIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	ctx, span := r.tracer.Start(ctx, "BuyNowRepository.ListOverdueOrderIDs")
	defer span.End()

	query := `
		SELECT order_id FROM buy_now_attempts
		WHERE status = 'PENDING' AND payment_deadline <= $1
		ORDER BY payment_deadline, id
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query overdue attempts: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("collect overdue attempts: %w", err)
	}

	return ids, nil
}
