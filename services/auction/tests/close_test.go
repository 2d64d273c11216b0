package tests

import (
	"time"

	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/service"
)

func (s *IntegrationTestSuite) TestCloseDue_SellsToHighestBidder() {
	auction := s.activeAuction(100, nil)

	_, err := s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{AuctionID: auction.ID, BidderID: 200, Amount: 11_000})
	s.Require().NoError(err)
	winner, err := s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{AuctionID: auction.ID, BidderID: 201, Amount: 13_000})
	s.Require().NoError(err)

	s.Clock.Advance(2 * time.Hour)

	closed, err := s.Auctions.CloseDue(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, closed)

	var status string
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT status FROM auction_items WHERE id = $1`, auction.ID).Scan(&status))
	s.Equal(string(domain.AuctionStatusSold), status)

	s.Equal(1, s.scalarInt(`SELECT COUNT(*) FROM bids WHERE auction_id = $1 AND status = 'SUCCESS' AND id = $2`, auction.ID, winner.ID))
	s.Equal(1, s.scalarInt(`SELECT COUNT(*) FROM bids WHERE auction_id = $1 AND status = 'FAILED'`, auction.ID))
	s.Equal(1, s.scalarInt(`SELECT COUNT(*) FROM orders WHERE auction_id = $1 AND buyer_id = 201 AND amount = 13000`, auction.ID))

	s.Equal(1, s.OutboxCount(domain.EventAuctionClosed, "PENDING"))
	s.Equal(1, s.OutboxCount(generalDomain.EventOrderCreated, "PENDING"))
}

func (s *IntegrationTestSuite) TestCloseDue_NoBidsEnds() {
	auction := s.activeAuction(100, nil)
	s.Clock.Advance(2 * time.Hour)

	_, err := s.Auctions.Close(s.Ctx, auction.ID)
	s.Require().NoError(err)

	got, err := s.Auctions.Get(s.Ctx, auction.ID)
	s.Require().NoError(err)
	s.Equal(domain.AuctionStatusEnded, got.Status)
	s.Equal(0, s.scalarInt(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestPaymentSucceeded_IsAppliedOnce() {
	auction := s.activeAuction(100, nil)

	_, err := s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{AuctionID: auction.ID, BidderID: 200, Amount: 11_000})
	s.Require().NoError(err)

	s.Clock.Advance(2 * time.Hour)
	_, err = s.Auctions.Close(s.Ctx, auction.ID)
	s.Require().NoError(err)

	var orderID int64
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT id FROM orders WHERE auction_id = $1`, auction.ID).Scan(&orderID))

	event := &generalDomain.PaymentSucceededEvent{OrderID: orderID, Amount: 11_000, PaidAt: s.Clock.Now()}
	s.Require().NoError(s.Orders.HandlePaymentSucceeded(s.Ctx, event))
	s.Require().NoError(s.Orders.HandlePaymentSucceeded(s.Ctx, event))

	s.Equal(1, s.scalarInt(`SELECT COUNT(*) FROM orders WHERE id = $1 AND status = 'COMPLETED'`, orderID))
	s.Equal(1, s.scalarInt(`SELECT COUNT(*) FROM processed_events`))
	s.Equal(1, s.OutboxCount(generalDomain.EventOrderCompleted, "PENDING"))
}
