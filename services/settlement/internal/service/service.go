package service

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/clock"
	"github.com/sakashimaa/go-auction/pkg/db"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	outboxDomain "github.com/sakashimaa/go-auction/pkg/outbox/domain"
	"github.com/sakashimaa/go-auction/pkg/outbox/worker"
	"github.com/sakashimaa/go-auction/services/settlement/internal/client"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
	"github.com/sakashimaa/go-auction/services/settlement/internal/repository"
	"go.uber.org/zap"
)

const consumerName = "settlement-service"

type Deps struct {
	DB          db.TxBeginner
	Candidates  repository.CandidateRepository
	Settlements repository.SettlementRepository
	Outbox      worker.OutboxRepository
	Payouts     client.PayoutClient
	Clock       clock.Clock
	Metrics     *metrics.Settlement
	Logger      *zap.Logger
}

type Settings struct {
	ChunkSize  int
	Period     time.Duration
	Commission domain.Commission
}

func emitSettlementEvent(ctx context.Context, repo worker.OutboxRepository, tx pgx.Tx, settlementID int64, eventType string, data any) error {
	event, err := outboxDomain.NewEvent(
		generalDomain.AggregateSettlement,
		strconv.FormatInt(settlementID, 10),
		eventType,
		generalDomain.TopicSettlementEvents,
		data,
	)
	if err != nil {
		return err
	}

	return repo.SaveOutboxEvent(ctx, tx, event)
}
