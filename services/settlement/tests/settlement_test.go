package tests

import (
	"time"

	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
)

func (s *IntegrationTestSuite) completed(orderID, sellerID, amount int64) {
	s.Require().NoError(s.Ingest.HandleOrderCompleted(s.Ctx, &generalDomain.OrderCompletedEvent{
		OrderID:     orderID,
		SellerID:    sellerID,
		Amount:      amount,
		CompletedAt: s.Clock.Now(),
	}))
}

func (s *IntegrationTestSuite) refunded(orderID, sellerID, amount int64) {
	s.Require().NoError(s.Ingest.HandleOrderRefunded(s.Ctx, &generalDomain.OrderRefundedEvent{
		OrderID:    orderID,
		SellerID:   sellerID,
		Amount:     amount,
		RefundedAt: s.Clock.Now(),
	}))
}

// seedLedger leaves payee 3 at 12350 and payee 4 at 19000 after collection.
func (s *IntegrationTestSuite) seedLedger() {
	s.completed(1, 3, 13_000)
	s.completed(1, 3, 13_000)
	s.completed(2, 3, 10_000)
	s.completed(3, 4, 20_000)
	s.refunded(2, 3, 10_000)
}

func (s *IntegrationTestSuite) TestIngest_DeduplicatesOrderEvents() {
	s.seedLedger()

	s.Equal(4, s.scalarInt("SELECT COUNT(*) FROM settlement_candidated_items"))
	s.Equal(-9_500, s.scalarInt("SELECT amount FROM settlement_candidated_items WHERE order_id = 2 AND kind = $1", domain.CandidateKindRefund))
	s.Equal(4, s.scalarInt("SELECT COUNT(*) FROM processed_events"))
}

func (s *IntegrationTestSuite) TestCollect_FoldsCandidatesPerPayee() {
	s.seedLedger()

	res, err := s.Batch.Collect(s.Ctx)
	s.Require().NoError(err)
	s.Equal(4, res.Collected)
	s.Zero(res.Failed)

	open3, items3, err := s.Batch.OpenSettlement(s.Ctx, 3)
	s.Require().NoError(err)
	s.Equal(int64(12_350), open3.TotalAmount)
	s.Len(items3, 3)
	s.Equal(s.Clock.Now().Add(period), open3.PeriodEnd.UTC())

	open4, err := s.Settlements.FindOpenByPayee(s.Ctx, 4)
	s.Require().NoError(err)
	s.Equal(int64(19_000), open4.TotalAmount)

	s.Zero(s.scalarInt("SELECT COUNT(*) FROM settlement_candidated_items WHERE status = 'PENDING'"))

	again, err := s.Batch.Collect(s.Ctx)
	s.Require().NoError(err)
	s.Zero(again.Collected)
}

func (s *IntegrationTestSuite) TestComplete_PaysOutAndRollsOver() {
	s.seedLedger()
	_, err := s.Batch.Collect(s.Ctx)
	s.Require().NoError(err)

	early, err := s.Batch.Complete(s.Ctx)
	s.Require().NoError(err)
	s.Zero(early.Completed)

	s.Clock.Advance(period + time.Minute)

	res, err := s.Batch.Complete(s.Ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Completed)
	s.Zero(res.Failed)
	s.Equal(2, s.Payouts.count())

	s.Equal(2, s.scalarInt("SELECT COUNT(*) FROM settlements WHERE status = 'SETTLED' AND payout_ref LIKE 'po-%'"))
	s.Equal(2, s.OutboxCount(generalDomain.EventSettlementCompleted, "PENDING"))

	next, items, err := s.Batch.OpenSettlement(s.Ctx, 3)
	s.Require().NoError(err)
	s.Zero(next.TotalAmount)
	s.Empty(items)
	s.Equal(s.Clock.Now().Add(period), next.PeriodEnd.UTC())
}

func (s *IntegrationTestSuite) TestComplete_PayoutFailureLeavesSettlementOpen() {
	s.seedLedger()
	_, err := s.Batch.Collect(s.Ctx)
	s.Require().NoError(err)

	s.Payouts.setFailing(4, true)
	s.Clock.Advance(period + time.Minute)

	res, err := s.Batch.Complete(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Completed)
	s.Equal(1, res.Failed)

	stuck, err := s.Settlements.FindOpenByPayee(s.Ctx, 4)
	s.Require().NoError(err)
	s.Equal(int64(19_000), stuck.TotalAmount)
	s.Equal(1, s.OutboxCount(generalDomain.EventSettlementCompleted, "PENDING"))

	s.Payouts.setFailing(4, false)

	retry, err := s.Batch.Complete(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, retry.Completed)
	s.Equal(2, s.Payouts.count())
}

func (s *IntegrationTestSuite) TestComplete_CarriesNegativeBalance() {
	s.completed(7, 5, 1_000)
	s.refunded(7, 5, 1_000)
	s.refunded(8, 5, 2_000)

	_, err := s.Batch.Collect(s.Ctx)
	s.Require().NoError(err)

	s.Clock.Advance(period + time.Minute)

	res, err := s.Batch.Complete(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Completed)
	s.Zero(s.Payouts.count())

	next, err := s.Settlements.FindOpenByPayee(s.Ctx, 5)
	s.Require().NoError(err)
	s.Equal(int64(-1_900), next.TotalAmount)
}

func (s *IntegrationTestSuite) TestSettlements_OneOpenPerPayee() {
	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(s.Ctx) }()

	now := s.Clock.Now()
	s.Require().NoError(s.Settlements.Create(s.Ctx, tx, domain.OpenSettlement(9, now, period)))

	err = s.Settlements.Create(s.Ctx, tx, domain.OpenSettlement(9, now, period))
	s.Require().Error(err)
}
