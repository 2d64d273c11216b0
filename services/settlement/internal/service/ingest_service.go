package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/go-auction/pkg/outbox/utils"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// IngestService turns order events into settlement candidates.
type IngestService interface {
	HandleOrderCompleted(ctx context.Context, event *generalDomain.OrderCompletedEvent) error
	HandleOrderRefunded(ctx context.Context, event *generalDomain.OrderRefundedEvent) error
}

type ingestService struct {
	deps     Deps
	settings Settings
	tracer   trace.Tracer
}

func NewIngestService(deps Deps, settings Settings) IngestService {
	return &ingestService{
		deps:     deps,
		settings: settings,
		tracer:   otel.Tracer("ingest_service"),
	}
}

func (s *ingestService) HandleOrderCompleted(ctx context.Context, event *generalDomain.OrderCompletedEvent) error {
	ctx, span := s.tracer.Start(ctx, "IngestService.HandleOrderCompleted")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", event.OrderID),
		attribute.Int64("seller_id", event.SellerID),
	)

	return s.ingest(ctx, generalDomain.EventOrderCompleted, event.OrderID, event.SellerID, event.Amount, domain.CandidateKindReceivable)
}

func (s *ingestService) HandleOrderRefunded(ctx context.Context, event *generalDomain.OrderRefundedEvent) error {
	ctx, span := s.tracer.Start(ctx, "IngestService.HandleOrderRefunded")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", event.OrderID),
		attribute.Int64("seller_id", event.SellerID),
	)

	return s.ingest(ctx, generalDomain.EventOrderRefunded, event.OrderID, event.SellerID, event.Amount, domain.CandidateKindRefund)
}

func (s *ingestService) ingest(ctx context.Context, eventType string, orderID, payeeID, gross int64, kind domain.CandidateKind) error {
	if gross <= 0 || payeeID <= 0 {
		mylogger.Warn(
			ctx,
			s.deps.Logger,
			"Dropping order event with invalid amount or payee",
			zap.String("event_type", eventType),
			zap.Int64("order_id", orderID),
			zap.Int64("amount", gross),
		)
		return nil
	}

	candidate := &domain.SettlementCandidatedItem{
		PayeeID:   payeeID,
		OrderID:   orderID,
		Kind:      kind,
		Amount:    s.settings.Commission.CandidateAmount(kind, gross),
		Status:    domain.CandidateStatusPending,
		CreatedAt: s.deps.Clock.Now(),
	}

	key := fmt.Sprintf("%s:%d", eventType, orderID)

	var created bool
	err := outboxUtils.ProcessOnce(ctx, s.deps.DB, s.deps.Logger, consumerName, key, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		created, err = s.deps.Candidates.Create(ctx, tx, candidate)
		return err
	})
	if err != nil {
		return err
	}

	if created {
		s.deps.Metrics.CandidatesIngested.WithLabelValues(string(kind)).Inc()
		mylogger.Info(
			ctx,
			s.deps.Logger,
			"Settlement candidate created",
			zap.Int64("candidate_id", candidate.ID),
			zap.Int64("order_id", orderID),
			zap.String("kind", string(kind)),
			zap.Int64("amount", candidate.Amount),
		)
	}

	return nil
}
