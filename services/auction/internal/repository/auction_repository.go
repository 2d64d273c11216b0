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

const auctionColumns = `
	id, seller_id, title, status, start_price, current_price, bid_unit, buy_now_price,
	buy_now_enabled, buy_now_disabled_by_policy, auction_start_time, auction_end_time,
	extension_count, buy_now_recovery_count, bid_count, watchlist_count, version,
	created_at, updated_at`

type AuctionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, a *domain.AuctionItem) error
	FindByID(ctx context.Context, id int64) (*domain.AuctionItem, error)
	LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.AuctionItem, error)
	Update(ctx context.Context, tx pgx.Tx, a *domain.AuctionItem) error
	ListDueForStart(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListDueForClose(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type auctionRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewAuctionRepository(pool *pgxpool.Pool, logger *zap.Logger) AuctionRepository {
	return &auctionRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/auction_repo"),
	}
}

func (r *auctionRepo) Create(ctx context.Context, tx pgx.Tx, a *domain.AuctionItem) error {
	ctx, span := r.tracer.Start(ctx, "AuctionRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("seller_id", a.SellerID),
	)

	query := `
		INSERT INTO auction_items (
			seller_id, title, status, start_price, current_price, bid_unit, buy_now_price,
			buy_now_enabled, auction_start_time, auction_end_time, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id, version
	`

	err := tx.QueryRow(
		ctx,
		query,
		a.SellerID,
		a.Title,
		a.Status,
		a.StartPrice,
		a.CurrentPrice,
		a.BidUnit,
		a.BuyNowPrice,
		a.BuyNowEnabled,
		a.AuctionStartTime,
		a.AuctionEndTime,
		a.CreatedAt,
	).Scan(&a.ID, &a.Version)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert auction: %w", err)
	}

	return nil
}

// FindByID reads without locking. Use it only where a stale view is acceptable.
func (r *auctionRepo) FindByID(ctx context.Context, id int64) (*domain.AuctionItem, error) {
	ctx, span := r.tracer.Start(ctx, "AuctionRepository.FindByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", id),
	)

	rows, err := r.pool.Query(ctx, `SELECT `+auctionColumns+` FROM auction_items WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query auction %d: %w", id, err)
	}

	return collectAuction(rows, id)
}

// LockByID takes the row lock that serializes every mutation of one auction.
func (r *auctionRepo) LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.AuctionItem, error) {
	ctx, span := r.tracer.Start(ctx, "AuctionRepository.LockByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", id),
	)

	rows, err := tx.Query(ctx, `SELECT `+auctionColumns+` FROM auction_items WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("lock auction %d: %w", id, err)
	}

	a, err := collectAuction(rows, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return a, nil
}

// Update writes every mutable column guarded by the version read under lock
// and bumps the version on success.
func (r *auctionRepo) Update(ctx context.Context, tx pgx.Tx, a *domain.AuctionItem) error {
	ctx, span := r.tracer.Start(ctx, "AuctionRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", a.ID),
		attribute.Int64("version", a.Version),
		attribute.String("status", string(a.Status)),
	)

	query := `
		UPDATE auction_items
		SET status = $3,
			current_price = $4,
			buy_now_enabled = $5,
			buy_now_disabled_by_policy = $6,
			auction_end_time = $7,
			extension_count = $8,
			buy_now_recovery_count = $9,
			bid_count = $10,
			watchlist_count = $11,
			updated_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	tag, err := tx.Exec(
		ctx,
		query,
		a.ID,
		a.Version,
		a.Status,
		a.CurrentPrice,
		a.BuyNowEnabled,
		a.BuyNowDisabledByPolicy,
		a.AuctionEndTime,
		a.ExtensionCount,
		a.BuyNowRecoveryCount,
		a.BidCount,
		a.WatchlistCount,
		a.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update auction %d: %w", a.ID, err)
	}

	if tag.RowsAffected() == 0 {
		span.RecordError(ErrVersionConflict)
		return ErrVersionConflict
	}

	a.Version++

	return nil
}

func (r *auctionRepo) ListDueForStart(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return r.listIDs(ctx, "AuctionRepository.ListDueForStart", `
		SELECT id FROM auction_items
		WHERE status = 'SCHEDULED' AND auction_start_time <= $1
		ORDER BY auction_start_time, id
		LIMIT $2
	`, now, limit)
}

func (r *auctionRepo) ListDueForClose(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	return r.listIDs(ctx, "AuctionRepository.ListDueForClose", `
		SELECT id FROM auction_items
		WHERE status = 'ACTIVE' AND auction_end_time <= $1
		ORDER BY auction_end_time, id
		LIMIT $2
	`, now, limit)
}

func (r *auctionRepo) listIDs(ctx context.Context, spanName, query string, now time.Time, limit int) ([]int64, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan due auctions: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("collect due auctions: %w", err)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(ids)),
	)

	return ids, nil
}

func collectAuction(rows pgx.Rows, id int64) (*domain.AuctionItem, error) {
	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domain.AuctionItem])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrAuctionNotFound, id)
		}
		return nil, fmt.Errorf("scan auction %d: %w", id, err)
	}

	return a, nil
}
