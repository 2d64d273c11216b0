package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/clock"
	"github.com/sakashimaa/go-auction/pkg/db"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	outboxDomain "github.com/sakashimaa/go-auction/pkg/outbox/domain"
	"github.com/sakashimaa/go-auction/pkg/outbox/worker"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/repository"
	"go.uber.org/zap"
)

// Deps bundles what every auction-side service needs.
type Deps struct {
	DB        db.TxBeginner
	Auctions  repository.AuctionRepository
	Bids      repository.BidRepository
	Orders    repository.OrderRepository
	BuyNow    repository.BuyNowRepository
	Watchlist repository.WatchlistRepository
	Outbox    worker.OutboxRepository
	Clock     clock.Clock
	Metrics   *metrics.Auction
	Logger    *zap.Logger
}

// Settings carries the per-transaction knobs that are not domain rules.
type Settings struct {
	Rules             domain.Rules
	LockTimeout       time.Duration
	EnrichmentTimeout time.Duration
	ScanLimit         int
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func emitAuctionEvent(ctx context.Context, repo worker.OutboxRepository, tx pgx.Tx, auctionID int64, eventType string, data any) error {
	return emit(ctx, repo, tx, generalDomain.AggregateAuction, auctionID, eventType, generalDomain.TopicAuctionEvents, data)
}

func emitOrderEvent(ctx context.Context, repo worker.OutboxRepository, tx pgx.Tx, orderID int64, eventType string, data any) error {
	return emit(ctx, repo, tx, generalDomain.AggregateOrder, orderID, eventType, generalDomain.TopicOrderEvents, data)
}

func emit(ctx context.Context, repo worker.OutboxRepository, tx pgx.Tx, aggregateType string, aggregateID int64, eventType, topic string, data any) error {
	event, err := outboxDomain.NewEvent(aggregateType, strconv.FormatInt(aggregateID, 10), eventType, topic, data)
	if err != nil {
		return err
	}

	if err := repo.SaveOutboxEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to emit %s: %w", eventType, err)
	}

	return nil
}

// lockAuction bounds the lock wait and takes the auction row lock.
func lockAuction(ctx context.Context, deps Deps, tx pgx.Tx, lockTimeout time.Duration, auctionID int64) (*domain.AuctionItem, error) {
	if err := db.SetLockTimeout(ctx, tx, lockTimeout); err != nil {
		return nil, asConflict(err, deps.Metrics)
	}

	auction, err := deps.Auctions.LockByID(ctx, tx, auctionID)
	if err != nil {
		return nil, asConflict(err, deps.Metrics)
	}

	return auction, nil
}

// asConflict folds lock timeouts, aborted transactions and stale versions into
// domain.ErrConcurrentModification. Other errors pass through.
func asConflict(err error, m *metrics.Auction) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, repository.ErrVersionConflict) || db.IsConcurrencyConflict(err) {
		if m != nil {
			m.Conflicts.Inc()
		}
		return fmt.Errorf("%w: %v", domain.ErrConcurrentModification, err)
	}

	return err
}

func ptr[T any](v T) *T {
	return &v
}
