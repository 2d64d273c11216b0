package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const settlementTable = "settlements"

var settlementColumns = []string{
	"id", "payee_id", "period_start", "period_end", "total_amount", "status",
	"payout_ref", "settled_at", "created_at", "updated_at",
}

type SettlementRepository interface {
	Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error
	// LockOpenByPayee returns nil when the payee has no OPEN settlement.
	LockOpenByPayee(ctx context.Context, tx pgx.Tx, payeeID int64) (*domain.Settlement, error)
	LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Settlement, error)
	FindOpenByPayee(ctx context.Context, payeeID int64) (*domain.Settlement, error)
	ListItems(ctx context.Context, settlementID int64) ([]*domain.SettlementItem, error)
	// ListDueOpen returns ids of OPEN settlements with period_end <= now and id > afterID.
	ListDueOpen(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error)
	AddItem(ctx context.Context, tx pgx.Tx, item *domain.SettlementItem) error
	UpdateTotal(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error
	MarkSettled(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error
}

type settlementRepo struct {
	pool   *pgxpool.Pool
	sb     sq.StatementBuilderType
	logger *zap.Logger
	tracer trace.Tracer
}

func NewSettlementRepository(pool *pgxpool.Pool, logger *zap.Logger) SettlementRepository {
	return &settlementRepo{
		pool:   pool,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: logger,
		tracer: otel.Tracer("repository/settlement_repo"),
	}
}

func (r *settlementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("payee_id", s.PayeeID),
	)

	q := r.sb.
		Insert(settlementTable).
		Columns("payee_id", "period_start", "period_end", "total_amount", "status", "created_at", "updated_at").
		Values(s.PayeeID, s.PeriodStart, s.PeriodEnd, s.TotalAmount, s.Status, s.CreatedAt, s.UpdatedAt).
		Suffix("RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build settlement insert: %w", err)
	}

	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&s.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert settlement: %w", err)
	}

	return nil
}

func (r *settlementRepo) LockOpenByPayee(ctx context.Context, tx pgx.Tx, payeeID int64) (*domain.Settlement, error) {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.LockOpenByPayee")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("payee_id", payeeID),
	)

	q := r.selectSettlement().
		Where(sq.Eq{"payee_id": payeeID, "status": domain.SettlementStatusOpen}).
		Suffix("FOR UPDATE")

	s, err := r.queryOne(ctx, tx, q)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return s, nil
}

func (r *settlementRepo) LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Settlement, error) {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.LockByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("settlement_id", id),
	)

	s, err := r.queryOne(ctx, tx, r.selectSettlement().Where(sq.Eq{"id": id}).Suffix("FOR UPDATE"))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %d", ErrSettlementNotFound, id)
	}

	return s, nil
}

func (r *settlementRepo) FindOpenByPayee(ctx context.Context, payeeID int64) (*domain.Settlement, error) {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.FindOpenByPayee")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("payee_id", payeeID),
	)

	s, err := r.queryOne(ctx, r.pool, r.selectSettlement().Where(sq.Eq{"payee_id": payeeID, "status": domain.SettlementStatusOpen}))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: open settlement of payee %d", ErrSettlementNotFound, payeeID)
	}

	return s, nil
}

func (r *settlementRepo) ListItems(ctx context.Context, settlementID int64) ([]*domain.SettlementItem, error) {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.ListItems")
	defer span.End()

	q := r.sb.
		Select("id", "settlement_id", "candidate_id", "order_id", "amount", "created_at").
		From("settlement_items").
		Where(sq.Eq{"settlement_id": settlementID}).
		OrderBy("id ASC")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build settlement items select: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query settlement items: %w", err)
	}

	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[domain.SettlementItem])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan settlement items: %w", err)
	}

	return items, nil
}

func (r *settlementRepo) ListDueOpen(ctx context.Context, now time.Time, afterID int64, limit int) ([]int64, error) {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.ListDueOpen")
	defer span.End()

	q := r.sb.
		Select("id").
		From(settlementTable).
		Where(sq.Eq{"status": domain.SettlementStatusOpen}).
		Where(sq.LtOrEq{"period_end": now}).
		Where(sq.Gt{"id": afterID}).
		OrderBy("id ASC").
		Limit(uint64(limit))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build due settlements select: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query due settlements: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("collect due settlements: %w", err)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(ids)),
	)

	return ids, nil
}

func (r *settlementRepo) AddItem(ctx context.Context, tx pgx.Tx, item *domain.SettlementItem) error {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.AddItem")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("settlement_id", item.SettlementID),
		attribute.Int64("candidate_id", item.CandidateID),
	)

	q := r.sb.
		Insert("settlement_items").
		Columns("settlement_id", "candidate_id", "order_id", "amount", "created_at").
		Values(item.SettlementID, item.CandidateID, item.OrderID, item.Amount, item.CreatedAt).
		Suffix("RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build settlement item insert: %w", err)
	}

	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&item.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert settlement item: %w", err)
	}

	return nil
}

func (r *settlementRepo) UpdateTotal(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.UpdateTotal")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("settlement_id", s.ID),
		attribute.Int64("total_amount", s.TotalAmount),
	)

	q := r.sb.
		Update(settlementTable).
		Set("total_amount", s.TotalAmount).
		Set("updated_at", s.UpdatedAt).
		Where(sq.Eq{"id": s.ID, "status": domain.SettlementStatusOpen})

	return r.exec(ctx, span, tx, q, s.ID)
}

func (r *settlementRepo) MarkSettled(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	ctx, span := r.tracer.Start(ctx, "SettlementRepository.MarkSettled")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("settlement_id", s.ID),
	)

	q := r.sb.
		Update(settlementTable).
		Set("status", s.Status).
		Set("payout_ref", s.PayoutRef).
		Set("settled_at", s.SettledAt).
		Set("updated_at", s.UpdatedAt).
		Where(sq.Eq{"id": s.ID, "status": domain.SettlementStatusOpen})

	return r.exec(ctx, span, tx, q, s.ID)
}

func (r *settlementRepo) exec(ctx context.Context, span trace.Span, tx pgx.Tx, q sq.UpdateBuilder, id int64) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build settlement update: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update settlement %d: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: open settlement %d", ErrSettlementNotFound, id)
	}

	return nil
}

func (r *settlementRepo) selectSettlement() sq.SelectBuilder {
	return r.sb.Select(settlementColumns...).From(settlementTable)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *settlementRepo) queryOne(ctx context.Context, db querier, q sq.SelectBuilder) (*domain.Settlement, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build settlement select: %w", err)
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlement: %w", err)
	}

	s, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domain.Settlement])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan settlement: %w", err)
	}

	return s, nil
}
