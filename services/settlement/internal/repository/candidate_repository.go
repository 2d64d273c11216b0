package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const candidateTable = "settlement_candidated_items"

var candidateColumns = []string{"id", "payee_id", "order_id", "kind", "amount", "status", "created_at", "collected_at"}

type CandidateRepository interface {
	// Create inserts c unless a candidate of the same order and kind exists.
	Create(ctx context.Context, tx pgx.Tx, c *domain.SettlementCandidatedItem) (bool, error)
	// ListPending locks up to limit PENDING candidates with id > afterID, skipping rows locked elsewhere.
	ListPending(ctx context.Context, tx pgx.Tx, afterID int64, limit int) ([]*domain.SettlementCandidatedItem, error)
	MarkCollected(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error
}

type candidateRepo struct {
	sb     sq.StatementBuilderType
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCandidateRepository(logger *zap.Logger) CandidateRepository {
	return &candidateRepo{
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: logger,
		tracer: otel.Tracer("repository/candidate_repo"),
	}
}

func (r *candidateRepo) Create(ctx context.Context, tx pgx.Tx, c *domain.SettlementCandidatedItem) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "CandidateRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("payee_id", c.PayeeID),
		attribute.Int64("order_id", c.OrderID),
		attribute.String("kind", string(c.Kind)),
	)

	q := r.sb.
		Insert(candidateTable).
		Columns("payee_id", "order_id", "kind", "amount", "status", "created_at").
		Values(c.PayeeID, c.OrderID, c.Kind, c.Amount, c.Status, c.CreatedAt).
		Suffix("ON CONFLICT (order_id, kind) DO NOTHING RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build candidate insert: %w", err)
	}

	rows, err := tx.Query(ctx, sqlStr, args...)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("insert candidate: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("insert candidate: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}

	c.ID = ids[0]

	return true, nil
}

func (r *candidateRepo) ListPending(ctx context.Context, tx pgx.Tx, afterID int64, limit int) ([]*domain.SettlementCandidatedItem, error) {
	ctx, span := r.tracer.Start(ctx, "CandidateRepository.ListPending")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("after_id", afterID),
		attribute.Int("limit", limit),
	)

	q := r.sb.
		Select(candidateColumns...).
		From(candidateTable).
		Where(sq.Eq{"status": domain.CandidateStatusPending}).
		Where(sq.Gt{"id": afterID}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending candidates select: %w", err)
	}

	rows, err := tx.Query(ctx, sqlStr, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query pending candidates: %w", err)
	}

	candidates, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[domain.SettlementCandidatedItem])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan pending candidates: %w", err)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(candidates)),
	)

	return candidates, nil
}

func (r *candidateRepo) MarkCollected(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "CandidateRepository.MarkCollected")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("candidate_id", id),
	)

	q := r.sb.
		Update(candidateTable).
		Set("status", domain.CandidateStatusCollected).
		Set("collected_at", at).
		Where(sq.Eq{"id": id, "status": domain.CandidateStatusPending})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build candidate update: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark candidate %d collected: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pending candidate %d", ErrCandidateNotFound, id)
	}

	return nil
}
