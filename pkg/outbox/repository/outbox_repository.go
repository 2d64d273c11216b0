package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/outbox/domain"
	"github.com/sakashimaa/go-auction/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type outboxRepo struct {
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOutboxRepository works on the caller's transaction only, so appends
// commit or roll back together with the state change that produced them.
func NewOutboxRepository(logger *zap.Logger) worker.OutboxRepository {
	return &outboxRepo{
		tracer: otel.Tracer("repository/outbox_repo"),
		logger: logger,
	}
}

func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("aggregate_type", event.AggregateType),
		attribute.String("event_type", event.EventType),
	)

	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, topic, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.Topic,
		domain.StatusPending,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert outbox event: %w", err)
	}

	event.Status = domain.StatusPending

	return nil
}

func (r *outboxRepo) GetPendingEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetPendingEvents")
	defer span.End()

	span.SetAttributes(
		attribute.Int("batch_size", batchSize),
	)

	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, topic, status, retry_count, last_error, created_at
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.Topic,
			&e.Status,
			&e.RetryCount,
			&e.LastError,
			&e.CreatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("pending events rows: %w", err)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(events)),
	)

	return events, nil
}

func (r *outboxRepo) MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64, publishedAt time.Time) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventPublished")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
	)

	query := `
		UPDATE outbox_events
		SET status = 'PUBLISHED', published_at = $2, last_error = NULL
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, eventID, publishedAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark event %d published: %w", eventID, err)
	}

	return nil
}

func (r *outboxRepo) MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	query := `
		UPDATE outbox_events
		SET status = 'FAILED',
			last_error = $2,
			retry_count = retry_count + 1
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, eventID, errMsg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark event %d failed: %w", eventID, err)
	}

	return nil
}

func (r *outboxRepo) ResetFailedEvents(ctx context.Context, tx pgx.Tx, maxRetries int) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ResetFailedEvents")
	defer span.End()

	span.SetAttributes(
		attribute.Int("max_retries", maxRetries),
	)

	query := `
		UPDATE outbox_events
		SET status = 'PENDING'
		WHERE status = 'FAILED' AND retry_count < $1
	`

	tag, err := tx.Exec(ctx, query, maxRetries)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("reset failed events: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *outboxRepo) DeletePublishedBefore(ctx context.Context, tx pgx.Tx, before time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.DeletePublishedBefore")
	defer span.End()

	span.SetAttributes(
		attribute.String("before", before.Format(time.RFC3339)),
	)

	query := `
		DELETE FROM outbox_events
		WHERE status = 'PUBLISHED' AND published_at < $1
	`

	tag, err := tx.Exec(ctx, query, before)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("delete published events: %w", err)
	}

	return tag.RowsAffected(), nil
}
