package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sakashimaa/go-auction/pkg/db"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/auction/internal/client"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CreateAuctionCommand struct {
	SellerID         int64     `json:"seller_id" validate:"required,gt=0"`
	Title            string    `json:"title" validate:"required,min=1,max=200"`
	StartPrice       int64     `json:"start_price" validate:"required,gt=0"`
	BidUnit          int64     `json:"bid_unit" validate:"required,gt=0"`
	BuyNowPrice      *int64    `json:"buy_now_price,omitempty"`
	AuctionStartTime time.Time `json:"auction_start_time" validate:"required"`
	AuctionEndTime   time.Time `json:"auction_end_time" validate:"required,gtfield=AuctionStartTime"`
}

type AuctionService interface {
	Create(ctx context.Context, cmd CreateAuctionCommand) (*domain.AuctionItem, error)
	Get(ctx context.Context, auctionID int64) (*domain.AuctionItem, error)
	Cancel(ctx context.Context, auctionID, sellerID int64) error
	Start(ctx context.Context, auctionID int64) error
	StartDue(ctx context.Context) (int, error)
	Close(ctx context.Context, auctionID int64) (*domain.AuctionClosedEvent, error)
	CloseDue(ctx context.Context) (int, error)
	Watch(ctx context.Context, auctionID, userID int64) error
	Unwatch(ctx context.Context, auctionID, userID int64) error
}

type auctionService struct {
	deps         Deps
	settings     Settings
	orderCreator OrderCreator
	users        client.UserDirectory
	tracer       trace.Tracer
}

func NewAuctionService(deps Deps, settings Settings, orderCreator OrderCreator, users client.UserDirectory) AuctionService {
	return &auctionService{
		deps:         deps,
		settings:     settings,
		orderCreator: orderCreator,
		users:        users,
		tracer:       otel.Tracer("auction_service"),
	}
}

func (s *auctionService) Create(ctx context.Context, cmd CreateAuctionCommand) (*domain.AuctionItem, error) {
	ctx, span := s.tracer.Start(ctx, "AuctionService.Create")
	defer span.End()

	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}
	if cmd.BuyNowPrice != nil && *cmd.BuyNowPrice <= cmd.StartPrice {
		return nil, domain.ErrInvalidBuyNowPrice
	}

	now := s.deps.Clock.Now()
	auction := &domain.AuctionItem{
		SellerID:         cmd.SellerID,
		Title:            cmd.Title,
		Status:           domain.AuctionStatusScheduled,
		StartPrice:       cmd.StartPrice,
		CurrentPrice:     cmd.StartPrice,
		BidUnit:          cmd.BidUnit,
		BuyNowPrice:      cmd.BuyNowPrice,
		BuyNowEnabled:    cmd.BuyNowPrice != nil,
		AuctionStartTime: cmd.AuctionStartTime.UTC(),
		AuctionEndTime:   cmd.AuctionEndTime.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	if err := s.deps.Auctions.Create(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionItemCreated, auction.Snapshot()); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(ctx, s.deps.Logger, "Auction created", zap.Int64("auction_id", auction.ID), zap.Int64("seller_id", auction.SellerID))

	return auction, nil
}

func (s *auctionService) Get(ctx context.Context, auctionID int64) (*domain.AuctionItem, error) {
	ctx, span := s.tracer.Start(ctx, "AuctionService.Get")
	defer span.End()

	return s.deps.Auctions.FindByID(ctx, auctionID)
}

func (s *auctionService) Cancel(ctx context.Context, auctionID, sellerID int64) error {
	ctx, span := s.tracer.Start(ctx, "AuctionService.Cancel")
	defer span.End()

	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	auction, err := lockAuction(ctx, s.deps, tx, s.settings.LockTimeout, auctionID)
	if err != nil {
		return err
	}

	now := s.deps.Clock.Now()
	if err := auction.Cancel(sellerID, now); err != nil {
		return err
	}

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return asConflict(err, s.deps.Metrics)
	}

	err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionItemDeleted, &domain.AuctionItemDeletedEvent{
		AuctionID:   auction.ID,
		SellerID:    auction.SellerID,
		CancelledAt: now,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return asConflict(err, s.deps.Metrics)
	}

	mylogger.Info(ctx, s.deps.Logger, "Auction cancelled", zap.Int64("auction_id", auction.ID))

	return nil
}

func (s *auctionService) Start(ctx context.Context, auctionID int64) error {
	ctx, span := s.tracer.Start(ctx, "AuctionService.Start")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
	)

	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	auction, err := lockAuction(ctx, s.deps, tx, s.settings.LockTimeout, auctionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	now := s.deps.Clock.Now()
	if err := auction.Start(now); err != nil {
		return err
	}

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return asConflict(err, s.deps.Metrics)
	}

	err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionStarted, &domain.AuctionStartedEvent{
		AuctionID:  auction.ID,
		SellerID:   auction.SellerID,
		StartPrice: auction.StartPrice,
		StartedAt:  now,
		EndTime:    auction.AuctionEndTime,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return asConflict(err, s.deps.Metrics)
	}

	s.deps.Metrics.Started.Inc()
	mylogger.Info(ctx, s.deps.Logger, "Auction started", zap.Int64("auction_id", auction.ID))

	return nil
}

// StartDue starts every SCHEDULED auction whose start time has passed, one
// transaction each. Failures are logged and skipped.
func (s *auctionService) StartDue(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "AuctionService.StartDue")
	defer span.End()

	ids, err := s.deps.Auctions.ListDueForStart(ctx, s.deps.Clock.Now(), s.settings.ScanLimit)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	started := 0
	for _, id := range ids {
		if err := s.Start(ctx, id); err != nil {
			mylogger.Warn(ctx, s.deps.Logger, "Failed to start auction", zap.Int64("auction_id", id), zap.Error(err))
			continue
		}
		started++
	}

	span.SetAttributes(
		attribute.Int("auction.due", len(ids)),
		attribute.Int("auction.started", started),
	)

	return started, nil
}

func (s *auctionService) Close(ctx context.Context, auctionID int64) (*domain.AuctionClosedEvent, error) {
	ctx, span := s.tracer.Start(ctx, "AuctionService.Close")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
	)

	snapshot, err := s.deps.Auctions.FindByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	nickname := s.sellerNickname(ctx, snapshot.SellerID)

	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	auction, err := lockAuction(ctx, s.deps, tx, s.settings.LockTimeout, auctionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := s.deps.Clock.Now()
	if err := auction.CheckClosable(now); err != nil {
		return nil, err
	}

	winner, err := s.deps.Bids.HighestActive(ctx, tx, auction.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	closed := &domain.AuctionClosedEvent{
		AuctionID:      auction.ID,
		SellerID:       auction.SellerID,
		SellerNickname: nickname,
		ClosedAt:       now,
	}

	if winner != nil {
		if _, err := s.deps.Bids.FailActiveExcept(ctx, tx, auction.ID, winner.ID); err != nil {
			span.RecordError(err)
			return nil, err
		}
		if err := s.deps.Bids.UpdateState(ctx, tx, winner.ID, domain.BidStatusSuccess, true); err != nil {
			span.RecordError(err)
			return nil, err
		}

		auction.Close(true, now, s.settings.Rules)

		orderID, err := s.orderCreator.CreateFromAuction(ctx, tx, auction, winner)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("create order for auction %d: %w", auction.ID, err)
		}

		closed.WinnerID = ptr(winner.BidderID)
		closed.WinningBidID = ptr(winner.ID)
		closed.OrderID = ptr(orderID)
		closed.FinalPrice = winner.BidAmount
	} else {
		auction.Close(false, now, s.settings.Rules)
	}
	closed.Status = auction.Status

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return nil, asConflict(err, s.deps.Metrics)
	}

	if err := emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionClosed, closed); err != nil {
		return nil, err
	}
	if err := emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionItemUpdated, auction.Snapshot()); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, asConflict(err, s.deps.Metrics)
	}

	s.deps.Metrics.Closed.WithLabelValues(string(auction.Status)).Inc()
	mylogger.Info(
		ctx,
		s.deps.Logger,
		"Auction closed",
		zap.Int64("auction_id", auction.ID),
		zap.String("status", string(auction.Status)),
		zap.Int64("final_price", closed.FinalPrice),
	)

	return closed, nil
}

// CloseDue closes every ACTIVE auction past its end time, one transaction each.
func (s *auctionService) CloseDue(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "AuctionService.CloseDue")
	defer span.End()

	ids, err := s.deps.Auctions.ListDueForClose(ctx, s.deps.Clock.Now(), s.settings.ScanLimit)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		if _, err := s.Close(ctx, id); err != nil {
			mylogger.Warn(ctx, s.deps.Logger, "Failed to close auction", zap.Int64("auction_id", id), zap.Error(err))
			continue
		}
		closed++
	}

	span.SetAttributes(
		attribute.Int("auction.due", len(ids)),
		attribute.Int("auction.closed", closed),
	)

	return closed, nil
}

type nicknameResult struct {
	nickname string
	err      error
}

// sellerNickname never fails: a slow, failing or panicking directory yields "".
func (s *auctionService) sellerNickname(ctx context.Context, sellerID int64) string {
	if s.users == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.EnrichmentTimeout)
	defer cancel()

	done := make(chan nicknameResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- nicknameResult{err: fmt.Errorf("user directory panicked: %v", r)}
			}
		}()

		nickname, err := s.users.Nickname(ctx, sellerID)
		done <- nicknameResult{nickname: nickname, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			s.deps.Metrics.Enrichment.WithLabelValues("error").Inc()
			mylogger.Warn(ctx, s.deps.Logger, "Seller nickname lookup failed", zap.Int64("seller_id", sellerID), zap.Error(res.err))
			return ""
		}

		s.deps.Metrics.Enrichment.WithLabelValues("ok").Inc()
		return res.nickname
	case <-ctx.Done():
		s.deps.Metrics.Enrichment.WithLabelValues("timeout").Inc()
		mylogger.Warn(ctx, s.deps.Logger, "Seller nickname lookup timed out", zap.Int64("seller_id", sellerID))
		return ""
	}
}

func (s *auctionService) Watch(ctx context.Context, auctionID, userID int64) error {
	return s.changeWatchlist(ctx, auctionID, userID, true)
}

func (s *auctionService) Unwatch(ctx context.Context, auctionID, userID int64) error {
	return s.changeWatchlist(ctx, auctionID, userID, false)
}

func (s *auctionService) changeWatchlist(ctx context.Context, auctionID, userID int64, add bool) error {
	ctx, span := s.tracer.Start(ctx, "AuctionService.changeWatchlist")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
		attribute.Int64("user_id", userID),
		attribute.Bool("add", add),
	)

	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	auction, err := lockAuction(ctx, s.deps, tx, s.settings.LockTimeout, auctionID)
	if err != nil {
		return err
	}

	var changed bool
	if add {
		changed, err = s.deps.Watchlist.Add(ctx, tx, auctionID, userID)
	} else {
		changed, err = s.deps.Watchlist.Remove(ctx, tx, auctionID, userID)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !changed {
		return nil
	}

	if add {
		auction.WatchlistCount++
	} else if auction.WatchlistCount > 0 {
		auction.WatchlistCount--
	}
	auction.Touch(s.deps.Clock.Now())

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return asConflict(err, s.deps.Metrics)
	}

	if err := tx.Commit(ctx); err != nil {
		return asConflict(err, s.deps.Metrics)
	}

	return nil
}
