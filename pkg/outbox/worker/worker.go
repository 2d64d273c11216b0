package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/clock"
	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/db"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/pkg/outbox/domain"
	"github.com/sakashimaa/go-auction/pkg/scheduler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetPendingEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64, publishedAt time.Time) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) error
	ResetFailedEvents(ctx context.Context, tx pgx.Tx, maxRetries int) (int64, error)
	DeletePublishedBefore(ctx context.Context, tx pgx.Tx, before time.Time) (int64, error)
}

type OutboxProcessor struct {
	db         db.TxBeginner
	repo       OutboxRepository
	handlers   *Registry
	clock      clock.Clock
	metrics    *metrics.Outbox
	logger     *zap.Logger
	batchSize  int
	maxRetries int
	retention  time.Duration
	tracer     trace.Tracer
}

func NewOutboxProcessor(
	beginner db.TxBeginner,
	repo OutboxRepository,
	handlers *Registry,
	clk clock.Clock,
	m *metrics.Outbox,
	logger *zap.Logger,
	cfg config.Outbox,
) *OutboxProcessor {
	return &OutboxProcessor{
		db:         beginner,
		repo:       repo,
		handlers:   handlers,
		clock:      clk,
		metrics:    m,
		logger:     logger,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retention:  cfg.Retention,
		tracer:     otel.Tracer("outbox-worker"),
	}
}

// Schedule registers the publish, retry and cleanup cadences.
func (p *OutboxProcessor) Schedule(s *scheduler.Scheduler, cfg config.Outbox) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"outbox.publish", cfg.PublishCron, func(ctx context.Context) error { _, err := p.PublishPending(ctx); return err }},
		{"outbox.retry", cfg.RetryCron, func(ctx context.Context) error { _, err := p.RetryFailed(ctx); return err }},
		{"outbox.cleanup", cfg.CleanupCron, func(ctx context.Context) error { _, err := p.Cleanup(ctx); return err }},
	}

	for _, job := range jobs {
		run := job.run
		name := job.name

		err := s.Add(name, job.spec, func(ctx context.Context) {
			if err := run(ctx); err != nil {
				mylogger.Error(ctx, p.logger, "Outbox job failed", zap.String("job", name), zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// PublishPending hands one batch of PENDING rows to their handlers. A failing
// row is marked FAILED and the batch moves on. Returns the number published.
func (p *OutboxProcessor) PublishPending(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.PublishPending")
	defer span.End()

	started := time.Now()
	defer func() {
		p.metrics.BatchDuration.Observe(time.Since(started).Seconds())
	}()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, p.logger)

	events, err := p.repo.GetPendingEvents(ctx, tx, p.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	mylogger.Debug(ctx, p.logger, "Processing outbox events", zap.Int("count", len(events)))

	published := 0
	for _, event := range events {
		if err := p.handlers.Dispatch(ctx, event); err != nil {
			mylogger.Warn(
				ctx,
				p.logger,
				"Outbox event delivery failed",
				zap.Int64("id", event.ID),
				zap.String("aggregate_type", event.AggregateType),
				zap.String("event_type", event.EventType),
				zap.Int("retry_count", event.RetryCount),
				zap.Error(err),
			)

			if dbErr := p.repo.MarkEventFailed(ctx, tx, event.ID, err.Error()); dbErr != nil {
				span.RecordError(dbErr)
				return published, dbErr
			}

			p.metrics.Failed.WithLabelValues(event.AggregateType).Inc()
			continue
		}

		if err := p.repo.MarkEventPublished(ctx, tx, event.ID, p.clock.Now()); err != nil {
			span.RecordError(err)
			return published, err
		}

		p.metrics.Published.WithLabelValues(event.AggregateType).Inc()
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}

	span.SetAttributes(
		attribute.Int("outbox.batch", len(events)),
		attribute.Int("outbox.published", published),
	)

	return published, nil
}

// RetryFailed moves FAILED rows below the retry ceiling back to PENDING.
func (p *OutboxProcessor) RetryFailed(ctx context.Context) (int64, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.RetryFailed")
	defer span.End()

	var n int64
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = p.repo.ResetFailedEvents(ctx, tx, p.maxRetries)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if n > 0 {
		p.metrics.Retried.Add(float64(n))
		mylogger.Info(ctx, p.logger, "Outbox events scheduled for retry", zap.Int64("count", n))
	}

	return n, nil
}

// Cleanup purges PUBLISHED rows older than the retention window.
func (p *OutboxProcessor) Cleanup(ctx context.Context) (int64, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.Cleanup")
	defer span.End()

	cutoff := p.clock.Now().Add(-p.retention)

	var n int64
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		n, err = p.repo.DeletePublishedBefore(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	p.metrics.Cleaned.Add(float64(n))
	mylogger.Info(ctx, p.logger, "Outbox cleanup finished", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))

	return n, nil
}

func (p *OutboxProcessor) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, p.logger)

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
