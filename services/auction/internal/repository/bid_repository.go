package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const bidColumns = `id, auction_id, bidder_id, bid_amount, status, is_winning, created_at`

// BidRepository methods assume the caller holds the auction row lock.
type BidRepository interface {
	Create(ctx context.Context, tx pgx.Tx, bid *domain.Bid) error
	GetByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Bid, error)
	// GetWinning returns nil when the auction has no winning bid.
	GetWinning(ctx context.Context, tx pgx.Tx, auctionID int64) (*domain.Bid, error)
	// HighestActive returns nil when no ACTIVE bid is left.
	HighestActive(ctx context.Context, tx pgx.Tx, auctionID int64) (*domain.Bid, error)
	UpdateState(ctx context.Context, tx pgx.Tx, bidID int64, status domain.BidStatus, isWinning bool) error
	// FailActiveExcept moves every ACTIVE bid but exceptBidID to FAILED.
	FailActiveExcept(ctx context.Context, tx pgx.Tx, auctionID, exceptBidID int64) (int64, error)
}

type bidRepo struct {
	logger *zap.Logger
	tracer trace.Tracer
}

func NewBidRepository(logger *zap.Logger) BidRepository {
	return &bidRepo{
		logger: logger,
		tracer: otel.Tracer("repository/bid_repo"),
	}
}

func (r *bidRepo) Create(ctx context.Context, tx pgx.Tx, bid *domain.Bid) error {
	ctx, span := r.tracer.Start(ctx, "BidRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", bid.AuctionID),
		attribute.Int64("bidder_id", bid.BidderID),
		attribute.Int64("bid_amount", bid.BidAmount),
	)

	query := `
		INSERT INTO bids (auction_id, bidder_id, bid_amount, status, is_winning, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`

	err := tx.QueryRow(ctx, query, bid.AuctionID, bid.BidderID, bid.BidAmount, bid.Status, bid.IsWinning, bid.CreatedAt).
		Scan(&bid.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert bid: %w", err)
	}

	return nil
}

func (r *bidRepo) GetByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Bid, error) {
	ctx, span := r.tracer.Start(ctx, "BidRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("bid_id", id),
	)

	bid, err := r.queryOne(ctx, tx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if bid == nil {
		return nil, fmt.Errorf("%w: %d", ErrBidNotFound, id)
	}

	return bid, nil
}

func (r *bidRepo) GetWinning(ctx context.Context, tx pgx.Tx, auctionID int64) (*domain.Bid, error) {
	ctx, span := r.tracer.Start(ctx, "BidRepository.GetWinning")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
	)

	bid, err := r.queryOne(ctx, tx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 AND is_winning`, auctionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return bid, nil
}

func (r *bidRepo) HighestActive(ctx context.Context, tx pgx.Tx, auctionID int64) (*domain.Bid, error) {
	ctx, span := r.tracer.Start(ctx, "BidRepository.HighestActive")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
	)

	query := `SELECT ` + bidColumns + ` FROM bids
		WHERE auction_id = $1 AND status = 'ACTIVE'
		ORDER BY bid_amount DESC, id ASC
		LIMIT 1`

	bid, err := r.queryOne(ctx, tx, query, auctionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return bid, nil
}

func (r *bidRepo) UpdateState(ctx context.Context, tx pgx.Tx, bidID int64, status domain.BidStatus, isWinning bool) error {
	ctx, span := r.tracer.Start(ctx, "BidRepository.UpdateState")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("bid_id", bidID),
		attribute.String("status", string(status)),
		attribute.Bool("is_winning", isWinning),
	)

	query := `
		UPDATE bids
		SET status = $2, is_winning = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, bidID, status, isWinning)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update bid %d: %w", bidID, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrBidNotFound, bidID)
	}

	return nil
}

func (r *bidRepo) FailActiveExcept(ctx context.Context, tx pgx.Tx, auctionID, exceptBidID int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "BidRepository.FailActiveExcept")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
		attribute.Int64("except_bid_id", exceptBidID),
	)

	query := `
		UPDATE bids
		SET status = 'FAILED', is_winning = FALSE, updated_at = NOW()
		WHERE auction_id = $1 AND status = 'ACTIVE' AND id <> $2
	`

	tag, err := tx.Exec(ctx, query, auctionID, exceptBidID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("fail active bids of auction %d: %w", auctionID, err)
	}

	return tag.RowsAffected(), nil
}

func (r *bidRepo) queryOne(ctx context.Context, tx pgx.Tx, query string, args ...any) (*domain.Bid, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bid: %w", err)
	}

	bid, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domain.Bid])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan bid: %w", err)
	}

	return bid, nil
}
