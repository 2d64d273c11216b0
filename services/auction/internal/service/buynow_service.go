package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/db"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/pkg/outbox/worker"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ExpireReasonPaymentFailed   = "payment_failed"
	ExpireReasonPaymentDeadline = "payment_deadline"

	disabledReasonRecoveryLimit = "recovery_limit"
	disabledReasonUnpaidLimit   = "unpaid_limit"
)

type BuyNowService interface {
	BuyNow(ctx context.Context, auctionID, buyerID int64) (*domain.Order, error)
	ConfirmPayment(ctx context.Context, orderID int64) error
	Expire(ctx context.Context, orderID int64, reason string) error
	ExpireDue(ctx context.Context) (int, error)
}

type buyNowService struct {
	deps     Deps
	settings Settings
	tracer   trace.Tracer
}

func NewBuyNowService(deps Deps, settings Settings) BuyNowService {
	return newBuyNowService(deps, settings)
}

func newBuyNowService(deps Deps, settings Settings) *buyNowService {
	return &buyNowService{
		deps:     deps,
		settings: settings,
		tracer:   otel.Tracer("buy_now_service"),
	}
}

func (s *buyNowService) BuyNow(ctx context.Context, auctionID, buyerID int64) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "BuyNowService.BuyNow")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("auction_id", auctionID),
		attribute.Int64("buyer_id", buyerID),
	)

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
	if err := auction.CheckBuyNow(buyerID, now); err != nil {
		s.deps.Metrics.BuyNow.WithLabelValues("rejected").Inc()
		return nil, err
	}

	unpaid, err := s.deps.BuyNow.CountByUser(ctx, tx, auction.ID, buyerID, domain.AttemptStatusExpired)
	if err != nil {
		return nil, err
	}
	if unpaid >= s.settings.Rules.MaxUnpaidPerUser {
		s.deps.Metrics.BuyNow.WithLabelValues("rejected").Inc()
		return nil, domain.ErrBuyNowLimitReached
	}

	auction.MarkSoldByBuyNow(now)

	order := &domain.Order{
		AuctionID:       auction.ID,
		BuyerID:         buyerID,
		SellerID:        auction.SellerID,
		Amount:          *auction.BuyNowPrice,
		Source:          domain.OrderSourceBuyNow,
		Status:          domain.OrderStatusPendingPayment,
		PaymentDeadline: now.Add(s.settings.Rules.PaymentWindow),
		CreatedAt:       now,
	}
	if err := s.deps.Orders.Create(ctx, tx, order); err != nil {
		span.RecordError(err)
		return nil, err
	}

	attempt := &domain.BuyNowAttempt{
		AuctionID:       auction.ID,
		UserID:          buyerID,
		OrderID:         order.ID,
		Status:          domain.AttemptStatusPending,
		PaymentDeadline: order.PaymentDeadline,
		CreatedAt:       now,
	}
	if err := s.deps.BuyNow.Create(ctx, tx, attempt); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		span.RecordError(err)
		return nil, asConflict(err, s.deps.Metrics)
	}

	if err := emitOrderCreated(ctx, s.deps.Outbox, tx, order); err != nil {
		return nil, err
	}

	err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionBuyNow, &domain.AuctionBuyNowEvent{
		AuctionID:       auction.ID,
		BuyerID:         buyerID,
		OrderID:         order.ID,
		Price:           order.Amount,
		PaymentDeadline: order.PaymentDeadline,
	})
	if err != nil {
		return nil, err
	}

	if err := emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionItemUpdated, auction.Snapshot()); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, asConflict(err, s.deps.Metrics)
	}

	s.deps.Metrics.BuyNow.WithLabelValues("purchased").Inc()
	mylogger.Info(
		ctx,
		s.deps.Logger,
		"Auction bought now",
		zap.Int64("auction_id", auction.ID),
		zap.Int64("order_id", order.ID),
		zap.Int64("buyer_id", buyerID),
	)

	return order, nil
}

func (s *buyNowService) ConfirmPayment(ctx context.Context, orderID int64) error {
	ctx, span := s.tracer.Start(ctx, "BuyNowService.ConfirmPayment")
	defer span.End()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		order, err := s.deps.Orders.GetByID(ctx, tx, orderID)
		if err != nil {
			return err
		}

		return s.confirmTx(ctx, tx, order)
	})
}

func (s *buyNowService) Expire(ctx context.Context, orderID int64, reason string) error {
	ctx, span := s.tracer.Start(ctx, "BuyNowService.Expire")
	defer span.End()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		order, err := s.deps.Orders.GetByID(ctx, tx, orderID)
		if err != nil {
			return err
		}

		return s.expireTx(ctx, tx, order, reason)
	})
}

// ExpireDue expires PENDING attempts past their payment deadline.
func (s *buyNowService) ExpireDue(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "BuyNowService.ExpireDue")
	defer span.End()

	ids, err := s.deps.BuyNow.ListOverdueOrderIDs(ctx, s.deps.Clock.Now(), s.settings.ScanLimit)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := s.Expire(ctx, id, ExpireReasonPaymentDeadline); err != nil {
			mylogger.Warn(ctx, s.deps.Logger, "Failed to expire buy-now order", zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		expired++
	}

	return expired, nil
}

// lockBuyNow takes the auction lock before the order lock.
func (s *buyNowService) lockBuyNow(ctx context.Context, tx pgx.Tx, unlocked *domain.Order) (*domain.AuctionItem, *domain.Order, *domain.BuyNowAttempt, error) {
	auction, err := lockAuction(ctx, s.deps, tx, s.settings.LockTimeout, unlocked.AuctionID)
	if err != nil {
		return nil, nil, nil, err
	}

	order, err := s.deps.Orders.LockByID(ctx, tx, unlocked.ID)
	if err != nil {
		return nil, nil, nil, asConflict(err, s.deps.Metrics)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return nil, nil, nil, domain.ErrOrderNotPending
	}

	attempt, err := s.deps.BuyNow.GetByOrderID(ctx, tx, order.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if attempt.Status != domain.AttemptStatusPending {
		return nil, nil, nil, domain.ErrAttemptResolved
	}

	if auction.Status != domain.AuctionStatusSoldByBuyNow {
		return nil, nil, nil, domain.ErrInvalidTransition
	}

	return auction, order, attempt, nil
}

func (s *buyNowService) confirmTx(ctx context.Context, tx pgx.Tx, unlocked *domain.Order) error {
	auction, order, attempt, err := s.lockBuyNow(ctx, tx, unlocked)
	if err != nil {
		return err
	}

	now := s.deps.Clock.Now()

	if err := s.deps.BuyNow.Resolve(ctx, tx, attempt.ID, domain.AttemptStatusPaid, now); err != nil {
		return err
	}
	if err := s.deps.Orders.UpdateStatus(ctx, tx, order.ID, domain.OrderStatusCompleted, now); err != nil {
		return err
	}
	if _, err := s.deps.Bids.FailActiveExcept(ctx, tx, auction.ID, 0); err != nil {
		return err
	}

	auction.Touch(now)
	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		return asConflict(err, s.deps.Metrics)
	}

	err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionClosed, &domain.AuctionClosedEvent{
		AuctionID:  auction.ID,
		Status:     auction.Status,
		SellerID:   auction.SellerID,
		WinnerID:   ptr(order.BuyerID),
		OrderID:    ptr(order.ID),
		FinalPrice: order.Amount,
		ClosedAt:   now,
	})
	if err != nil {
		return err
	}
	if err := emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionItemUpdated, auction.Snapshot()); err != nil {
		return err
	}
	if err := emitOrderCompleted(ctx, s.deps.Outbox, tx, order, now); err != nil {
		return err
	}

	s.deps.Metrics.BuyNow.WithLabelValues("paid").Inc()
	s.deps.Metrics.Closed.WithLabelValues(string(auction.Status)).Inc()
	mylogger.Info(ctx, s.deps.Logger, "Buy-now payment confirmed", zap.Int64("auction_id", auction.ID), zap.Int64("order_id", order.ID))

	return nil
}

// expireTx cancels an unpaid buy-now order and hands the auction back to
// bidding, either with a recovery extension or with buy-now disabled.
func (s *buyNowService) expireTx(ctx context.Context, tx pgx.Tx, unlocked *domain.Order, reason string) error {
	auction, order, attempt, err := s.lockBuyNow(ctx, tx, unlocked)
	if err != nil {
		return err
	}

	now := s.deps.Clock.Now()

	if err := s.deps.BuyNow.Resolve(ctx, tx, attempt.ID, domain.AttemptStatusExpired, now); err != nil {
		return err
	}
	if err := s.deps.Orders.UpdateStatus(ctx, tx, order.ID, domain.OrderStatusCancelled, now); err != nil {
		return err
	}
	if err := emitOrderCancelled(ctx, s.deps.Outbox, tx, order, reason, now); err != nil {
		return err
	}

	unpaid, err := s.deps.BuyNow.CountByUser(ctx, tx, auction.ID, attempt.UserID, domain.AttemptStatusExpired)
	if err != nil {
		return err
	}

	disabledReason := disabledReasonUnpaidLimit
	if auction.BuyNowRecoveryCount >= s.settings.Rules.MaxRecoveries {
		disabledReason = disabledReasonRecoveryLimit
	}

	recovered := auction.ReleaseAfterUnpaidBuyNow(unpaid, now, s.settings.Rules)

	if err := s.deps.Auctions.Update(ctx, tx, auction); err != nil {
		return asConflict(err, s.deps.Metrics)
	}

	if recovered {
		err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionBuyNowRecovered, &domain.AuctionBuyNowRecoveredEvent{
			AuctionID:     auction.ID,
			OrderID:       order.ID,
			NewEndTime:    auction.AuctionEndTime,
			RecoveryCount: auction.BuyNowRecoveryCount,
		})
	} else {
		err = emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionBuyNowDisabled, &domain.AuctionBuyNowDisabledEvent{
			AuctionID:     auction.ID,
			OrderID:       order.ID,
			UserID:        attempt.UserID,
			RecoveryCount: auction.BuyNowRecoveryCount,
			UnpaidByUser:  unpaid,
			Reason:        disabledReason,
		})
	}
	if err != nil {
		return err
	}

	if err := emitAuctionEvent(ctx, s.deps.Outbox, tx, auction.ID, domain.EventAuctionItemUpdated, auction.Snapshot()); err != nil {
		return err
	}

	outcome := "recovered"
	if !recovered {
		outcome = "disabled"
	}
	s.deps.Metrics.BuyNow.WithLabelValues(outcome).Inc()

	mylogger.Info(
		ctx,
		s.deps.Logger,
		"Buy-now order expired",
		zap.Int64("auction_id", auction.ID),
		zap.Int64("order_id", order.ID),
		zap.String("reason", reason),
		zap.String("outcome", outcome),
	)

	return nil
}

func (s *buyNowService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return asConflict(err, s.deps.Metrics)
	}

	return nil
}

func emitOrderCompleted(ctx context.Context, outbox worker.OutboxRepository, tx pgx.Tx, order *domain.Order, at time.Time) error {
	return emitOrderEvent(ctx, outbox, tx, order.ID, generalDomain.EventOrderCompleted, &generalDomain.OrderCompletedEvent{
		OrderID:     order.ID,
		AuctionID:   order.AuctionID,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Amount:      order.Amount,
		Source:      string(order.Source),
		CompletedAt: at,
	})
}

func emitOrderCancelled(ctx context.Context, outbox worker.OutboxRepository, tx pgx.Tx, order *domain.Order, reason string, at time.Time) error {
	return emitOrderEvent(ctx, outbox, tx, order.ID, generalDomain.EventOrderCancelled, &generalDomain.OrderCancelledEvent{
		OrderID:     order.ID,
		AuctionID:   order.AuctionID,
		BuyerID:     order.BuyerID,
		Reason:      reason,
		CancelledAt: at,
	})
}
