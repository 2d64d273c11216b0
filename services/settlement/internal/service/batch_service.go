package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/db"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/services/settlement/internal/client"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrInvalidChunkSize = errors.New("settlement chunk size must be positive")

type CollectResult struct {
	Collected int `json:"collected"`
	Failed    int `json:"failed"`
}

type CompleteResult struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type BatchService interface {
	// Collect folds every PENDING candidate into its payee's OPEN settlement.
	Collect(ctx context.Context) (CollectResult, error)
	// Complete pays out and rolls over every OPEN settlement whose period ended.
	Complete(ctx context.Context) (CompleteResult, error)
	OpenSettlement(ctx context.Context, payeeID int64) (*domain.Settlement, []*domain.SettlementItem, error)
}

type batchService struct {
	deps     Deps
	settings Settings
	tracer   trace.Tracer
}

func NewBatchService(deps Deps, settings Settings) BatchService {
	return &batchService{
		deps:     deps,
		settings: settings,
		tracer:   otel.Tracer("batch_service"),
	}
}

func (s *batchService) Collect(ctx context.Context) (CollectResult, error) {
	ctx, span := s.tracer.Start(ctx, "BatchService.Collect")
	defer span.End()

	if s.settings.ChunkSize <= 0 {
		return CollectResult{}, ErrInvalidChunkSize
	}

	var (
		res    CollectResult
		cursor int64
	)

	for {
		n, last, err := s.collectChunk(ctx, cursor, &res)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		if n < s.settings.ChunkSize {
			break
		}
		cursor = last
	}

	span.SetAttributes(
		attribute.Int("collected", res.Collected),
		attribute.Int("failed", res.Failed),
	)

	if res.Collected > 0 || res.Failed > 0 {
		mylogger.Info(ctx, s.deps.Logger, "Settlement collect finished", zap.Int("collected", res.Collected), zap.Int("failed", res.Failed))
	}

	return res, nil
}

// collectChunk handles one chunk in one transaction. Each candidate gets its
// own savepoint so a failing row is skipped without losing the rest.
func (s *batchService) collectChunk(ctx context.Context, cursor int64, res *CollectResult) (int, int64, error) {
	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return 0, cursor, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	candidates, err := s.deps.Candidates.ListPending(ctx, tx, cursor, s.settings.ChunkSize)
	if err != nil {
		return 0, cursor, err
	}
	if len(candidates) == 0 {
		return 0, cursor, nil
	}

	now := s.deps.Clock.Now()
	collected, failed := 0, 0

	for _, c := range candidates {
		if err := s.collectOne(ctx, tx, c, now); err != nil {
			failed++
			mylogger.Warn(
				ctx,
				s.deps.Logger,
				"Failed to collect settlement candidate",
				zap.Int64("candidate_id", c.ID),
				zap.Int64("payee_id", c.PayeeID),
				zap.Error(err),
			)
			continue
		}
		collected++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, cursor, fmt.Errorf("failed to commit collect chunk: %w", err)
	}

	res.Collected += collected
	res.Failed += failed
	s.deps.Metrics.Collected.Add(float64(collected))
	s.deps.Metrics.CollectFailures.Add(float64(failed))

	return len(candidates), candidates[len(candidates)-1].ID, nil
}

func (s *batchService) collectOne(ctx context.Context, tx pgx.Tx, c *domain.SettlementCandidatedItem, now time.Time) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("open savepoint: %w", err)
	}
	defer db.Rollback(ctx, sp, s.deps.Logger)

	settlement, err := s.deps.Settlements.LockOpenByPayee(ctx, sp, c.PayeeID)
	if err != nil {
		return err
	}
	if settlement == nil {
		settlement = domain.OpenSettlement(c.PayeeID, now, s.settings.Period)
		if err := s.deps.Settlements.Create(ctx, sp, settlement); err != nil {
			return err
		}
	}

	item, err := settlement.Collect(c, now)
	if err != nil {
		return err
	}

	if err := s.deps.Settlements.AddItem(ctx, sp, item); err != nil {
		return err
	}
	if err := s.deps.Settlements.UpdateTotal(ctx, sp, settlement); err != nil {
		return err
	}
	if err := s.deps.Candidates.MarkCollected(ctx, sp, c.ID, now); err != nil {
		return err
	}

	return sp.Commit(ctx)
}

func (s *batchService) Complete(ctx context.Context) (CompleteResult, error) {
	ctx, span := s.tracer.Start(ctx, "BatchService.Complete")
	defer span.End()

	if s.settings.ChunkSize <= 0 {
		return CompleteResult{}, ErrInvalidChunkSize
	}

	var (
		res    CompleteResult
		cursor int64
	)

	now := s.deps.Clock.Now()

	for {
		ids, err := s.deps.Settlements.ListDueOpen(ctx, now, cursor, s.settings.ChunkSize)
		if err != nil {
			span.RecordError(err)
			return res, err
		}

		for _, id := range ids {
			cursor = id

			done, err := s.completeOne(ctx, id, now)
			if err != nil {
				res.Failed++
				s.deps.Metrics.CompleteFailures.Inc()
				mylogger.Error(ctx, s.deps.Logger, "Failed to complete settlement", zap.Int64("settlement_id", id), zap.Error(err))
				continue
			}
			if done {
				res.Completed++
			}
		}

		if len(ids) < s.settings.ChunkSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("completed", res.Completed),
		attribute.Int("failed", res.Failed),
	)

	if res.Completed > 0 || res.Failed > 0 {
		mylogger.Info(ctx, s.deps.Logger, "Settlement complete finished", zap.Int("completed", res.Completed), zap.Int("failed", res.Failed))
	}

	return res, nil
}

// completeOne reports false when the settlement was already handled elsewhere.
func (s *batchService) completeOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	tx, err := s.deps.DB.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, s.deps.Logger)

	settlement, err := s.deps.Settlements.LockByID(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if !settlement.IsDue(now) {
		return false, nil
	}

	var payoutRef string
	if settlement.NeedsPayout() {
		payoutRef, err = s.deps.Payouts.Payout(ctx, client.PayoutRequest{
			SettlementID: settlement.ID,
			PayeeID:      settlement.PayeeID,
			Amount:       settlement.TotalAmount,
		})
		if err != nil {
			return false, fmt.Errorf("payout settlement %d: %w", settlement.ID, err)
		}
	}

	next, err := settlement.Settle(payoutRef, now, s.settings.Period)
	if err != nil {
		return false, err
	}

	if err := s.deps.Settlements.MarkSettled(ctx, tx, settlement); err != nil {
		return false, err
	}
	if err := s.deps.Settlements.Create(ctx, tx, next); err != nil {
		return false, err
	}

	event := generalDomain.SettlementCompletedEvent{
		SettlementID: settlement.ID,
		PayeeID:      settlement.PayeeID,
		TotalAmount:  settlement.TotalAmount,
		PayoutRef:    payoutRef,
		SettledAt:    now,
	}
	if err := emitSettlementEvent(ctx, s.deps.Outbox, tx, settlement.ID, generalDomain.EventSettlementCompleted, event); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit settlement %d: %w", settlement.ID, err)
	}

	s.deps.Metrics.Completed.Inc()
	if settlement.NeedsPayout() {
		s.deps.Metrics.PayoutAmount.Observe(float64(settlement.TotalAmount))
	}

	mylogger.Info(
		ctx,
		s.deps.Logger,
		"Settlement completed",
		zap.Int64("settlement_id", settlement.ID),
		zap.Int64("payee_id", settlement.PayeeID),
		zap.Int64("total_amount", settlement.TotalAmount),
		zap.Int64("successor_id", next.ID),
	)

	return true, nil
}

func (s *batchService) OpenSettlement(ctx context.Context, payeeID int64) (*domain.Settlement, []*domain.SettlementItem, error) {
	ctx, span := s.tracer.Start(ctx, "BatchService.OpenSettlement")
	defer span.End()

	settlement, err := s.deps.Settlements.FindOpenByPayee(ctx, payeeID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.deps.Settlements.ListItems(ctx, settlement.ID)
	if err != nil {
		return nil, nil, err
	}

	return settlement, items, nil
}
