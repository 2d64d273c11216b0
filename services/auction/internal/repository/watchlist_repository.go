package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type WatchlistRepository interface {
	// Add reports false when the user already watched the auction.
	Add(ctx context.Context, tx pgx.Tx, auctionID, userID int64) (bool, error)
	// Remove reports false when there was nothing to remove.
	Remove(ctx context.Context, tx pgx.Tx, auctionID, userID int64) (bool, error)
}

type watchlistRepo struct {
	logger *zap.Logger
	tracer trace.Tracer
}

func NewWatchlistRepository(logger *zap.Logger) WatchlistRepository {
	return &watchlistRepo{
		logger: logger,
		tracer: otel.Tracer("repository/watchlist_repo"),
	}
}

func (r *watchlistRepo) Add(ctx context.Context, tx pgx.Tx, auctionID, userID int64) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "WatchlistRepository.Add")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
		attribute.Int64("user_id", userID),
	)

	tag, err := tx.Exec(
		ctx,
		`INSERT INTO watchlists (auction_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		auctionID,
		userID,
	)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("add to watchlist: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *watchlistRepo) Remove(ctx context.Context, tx pgx.Tx, auctionID, userID int64) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "WatchlistRepository.Remove")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
		attribute.Int64("user_id", userID),
	)

	tag, err := tx.Exec(ctx, `DELETE FROM watchlists WHERE auction_id = $1 AND user_id = $2`, auctionID, userID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("remove from watchlist: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
