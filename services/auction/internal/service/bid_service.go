package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/db"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PlaceBidCommand struct {
	AuctionID int64 `json:"auction_id" validate:"required,gt=0"`
	BidderID  int64 `json:"bidder_id" validate:"required,gt=0"`
	Amount    int64 `json:"amount"`
}

type CancelBidCommand struct {
	BidID    int64 `json:"bid_id" validate:"required,gt=0"`
	BidderID int64 `json:"bidder_id" validate:"required,gt=0"`
}

type BidService interface {
	PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*domain.Bid, error)
	CancelBid(ctx context.Context, cmd CancelBidCommand) (*domain.AuctionItem, error)
}

type bidService struct {
	deps     Deps
	settings Settings
	tracer   trace.Tracer
}

func NewBidService(deps Deps, settings Settings) BidService {
	return &bidService{
		deps:     deps,
		settings: settings,
		tracer:   otel.Tracer("bid_service"),
	}
}

func (s *bidService) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*domain.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "BidService.PlaceBid")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", cmd.AuctionID),
		attribute.Int64("bidder_id", cmd.BidderID),
		attribute.Int64("amount", cmd.Amount),
	)

	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}

	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		mylogger.Error(ctx, s.deps.Logger, "Failed to begin transaction", zap.Error(err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	auction, err := lockAuction(ctx, s.deps, tx, s.settings.LockTimeout, cmd.AuctionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := s.deps.Clock.Now()
	if err := auction.CheckBid(cmd.BidderID, cmd.Amount, now); err != nil {
		s.deps.Metrics.BidsRejected.WithLabelValues(rejectReason(err)).Inc()
		mylogger.Info(
			ctx,
			s.deps.Logger,
			"Bid rejected",
			zap.Int64("auction_id", cmd.AuctionID),
			zap.Int64("bidder_id", cmd.BidderID),
			zap.Int64("amount", cmd.Amount),
			zap.Error(err),
		)

		return nil, err
	}

	previous, err := s.deps.Bids.GetWinning(ctx, tx, auction.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var previousBidderID *int64
	if previous != nil {
		previousBidderID = ptr(previous.BidderID)

		if err := s.deps.Bids.UpdateState(ctx, tx, previous.ID, previous.Status, false); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	bid := &domain.Bid{
		AuctionID: auction.ID,
		BidderID:  cmd.BidderID,
		BidAmount: cmd.Amount,
		Status:    domain.BidStatusActive,
		IsWinning: true,
		CreatedAt: now,
	}
	if err := s.deps.Bids.Create(ctx, tx, bid); err != nil {
		span.RecordError(err)
		return nil, err
	}

	extended := auction.ApplyBid(cmd.Amount, now, s.settings.Rules)

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return nil, asConflict(err, s.deps.Metrics)
	}

	err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventBidPlaced, &domain.BidPlacedEvent{
		AuctionID:        auction.ID,
		BidID:            bid.ID,
		Price:            bid.BidAmount,
		BidderID:         bid.BidderID,
		PreviousBidderID: previousBidderID,
		EndTime:          auction.AuctionEndTime,
		Extended:         extended,
	})
	if err != nil {
		return nil, err
	}

	if extended {
		err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionExtended, &domain.AuctionExtendedEvent{
			AuctionID:      auction.ID,
			NewEndTime:     auction.AuctionEndTime,
			ExtensionCount: auction.ExtensionCount,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.deps.Logger, "Failed to commit transaction", zap.Error(err))
		return nil, asConflict(err, s.deps.Metrics)
	}

	s.deps.Metrics.BidsPlaced.Inc()
	if extended {
		s.deps.Metrics.Extensions.Inc()
	}

	mylogger.Info(
		ctx,
		s.deps.Logger,
		"Bid placed",
		zap.Int64("auction_id", auction.ID),
		zap.Int64("bid_id", bid.ID),
		zap.Int64("amount", bid.BidAmount),
		zap.Bool("extended", extended),
	)

	return bid, nil
}

func (s *bidService) CancelBid(ctx context.Context, cmd CancelBidCommand) (*domain.AuctionItem, error) {
	ctx, span := s.tracer.Start(ctx, "BidService.CancelBid")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("bid_id", cmd.BidID),
		attribute.Int64("bidder_id", cmd.BidderID),
	)

	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}

	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	// the auction id is only known from the bid; re-read it once the lock is held
	unlocked, err := s.deps.Bids.GetByID(ctx, tx, cmd.BidID)
	if err != nil {
		return nil, err
	}

	auction, err := lockAuction(ctx, s.deps, tx, s.settings.LockTimeout, unlocked.AuctionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	bid, err := s.deps.Bids.GetByID(ctx, tx, cmd.BidID)
	if err != nil {
		return nil, err
	}

	now := s.deps.Clock.Now()
	if err := bid.CheckCancel(cmd.BidderID, now, s.settings.Rules.BidCancelWindow); err != nil {
		return nil, err
	}
	if !auction.IsBiddable(now) {
		return nil, domain.ErrAuctionNotBiddable
	}

	if err := s.deps.Bids.UpdateState(ctx, tx, bid.ID, domain.BidStatusCancelled, false); err != nil {
		span.RecordError(err)
		return nil, err
	}

	highest, err := s.deps.Bids.HighestActive(ctx, tx, auction.ID)
	if err != nil {
		return nil, err
	}

	var highestAmount int64
	if highest != nil {
		highestAmount = highest.BidAmount

		if !highest.IsWinning {
			if err := s.moveWinner(ctx, tx, auction.ID, highest.ID); err != nil {
				return nil, err
			}
		}
	}

	auction.RecomputePrice(highestAmount, now)

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return nil, asConflict(err, s.deps.Metrics)
	}

	err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventBidCancelled, &domain.BidCancelledEvent{
		AuctionID:    auction.ID,
		BidID:        bid.ID,
		BidderID:     bid.BidderID,
		CurrentPrice: auction.CurrentPrice,
		CancelledAt:  now,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, asConflict(err, s.deps.Metrics)
	}

	mylogger.Info(
		ctx,
		s.deps.Logger,
		"Bid cancelled",
		zap.Int64("auction_id", auction.ID),
		zap.Int64("bid_id", bid.ID),
		zap.Int64("current_price", auction.CurrentPrice),
	)

	return auction, nil
}

// moveWinner clears the current winner flag before setting it on bidID, so the
// one-winner index never sees two flagged rows.
func (s *bidService) moveWinner(ctx context.Context, tx pgx.Tx, auctionID, bidID int64) error {
	current, err := s.deps.Bids.GetWinning(ctx, tx, auctionID)
	if err != nil {
		return err
	}
	if current != nil {
		if err := s.deps.Bids.UpdateState(ctx, tx, current.ID, current.Status, false); err != nil {
			return err
		}
	}

	return s.deps.Bids.UpdateState(ctx, tx, bidID, domain.BidStatusActive, true)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrSelfBid):
		return "self_bid"
	case errors.Is(err, domain.ErrAuctionNotBiddable):
		return "not_biddable"
	case errors.Is(err, domain.ErrBidTooLow):
		return "too_low"
	case errors.Is(err, domain.ErrBidUnitInvalid):
		return "bid_unit"
	default:
		return "other"
	}
}
