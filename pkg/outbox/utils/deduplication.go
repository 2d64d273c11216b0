package utils

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/db"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProcessOnce runs action in a transaction that also records (consumer, eventKey)
// in processed_events. A key seen before is skipped and reported as nil.
func ProcessOnce(
	ctx context.Context,
	beginner db.TxBeginner,
	logger *zap.Logger,
	consumer string,
	eventKey string,
	action func(ctx context.Context, tx pgx.Tx) error,
) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("dedup.consumer", consumer),
		attribute.String("dedup.key", eventKey),
	)

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer db.Rollback(ctx, tx, logger)

	query := `
		INSERT INTO processed_events (consumer, event_key)
		VALUES ($1, $2)
		ON CONFLICT (consumer, event_key) DO NOTHING
	`

	tag, err := tx.Exec(ctx, query, consumer, eventKey)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("record processed event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		mylogger.Info(
			ctx,
			logger,
			"Event already processed, skipping",
			zap.String("consumer", consumer),
			zap.String("event_key", eventKey),
		)

		return nil
	}

	if err := action(ctx, tx); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
