package tests

import (
	"sync"

	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/service"
)

func (s *IntegrationTestSuite) TestPlaceBid_ConcurrentBidsLeaveOneWinner() {
	auction := s.activeAuction(100, nil)

	const bidders = 12
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{
				AuctionID: auction.ID,
				BidderID:  int64(200 + i),
				Amount:    auction.StartPrice + int64(i+1)*auction.BidUnit,
			})
		}(i)
	}
	wg.Wait()

	s.Equal(1, s.scalarInt(`SELECT COUNT(*) FROM bids WHERE auction_id = $1 AND is_winning`, auction.ID))

	var currentPrice, maxActive int64
	var bidCount int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT current_price, bid_count FROM auction_items WHERE id = $1`, auction.ID,
	).Scan(&currentPrice, &bidCount))
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT MAX(bid_amount) FROM bids WHERE auction_id = $1 AND status = 'ACTIVE'`, auction.ID,
	).Scan(&maxActive))

	s.Equal(maxActive, currentPrice)

	accepted := s.scalarInt(`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auction.ID)
	s.Equal(accepted, bidCount)
	s.Equal(accepted, s.OutboxCount(domain.EventBidPlaced, "PENDING"))
}

func (s *IntegrationTestSuite) TestPlaceBid_RejectedBidLeavesNoTrace() {
	auction := s.activeAuction(100, nil)

	_, err := s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{AuctionID: auction.ID, BidderID: 200, Amount: 10_500})
	s.Require().ErrorIs(err, domain.ErrBidUnitInvalid)

	_, err = s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{AuctionID: auction.ID, BidderID: 100, Amount: 11_000})
	s.Require().ErrorIs(err, domain.ErrSelfBid)

	s.Equal(0, s.scalarInt(`SELECT COUNT(*) FROM bids`))
	s.Equal(0, s.OutboxCount(domain.EventBidPlaced, "PENDING"))
}

func (s *IntegrationTestSuite) TestCancelBid_RestoresPreviousPrice() {
	auction := s.activeAuction(100, nil)

	first, err := s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{AuctionID: auction.ID, BidderID: 200, Amount: 11_000})
	s.Require().NoError(err)
	_, err = s.Bids.PlaceBid(s.Ctx, service.PlaceBidCommand{AuctionID: auction.ID, BidderID: 201, Amount: 12_000})
	s.Require().NoError(err)

	updated, err := s.Bids.CancelBid(s.Ctx, service.CancelBidCommand{BidID: first.ID, BidderID: 200})
	s.Require().NoError(err)

	s.Equal(int64(12_000), updated.CurrentPrice)
	s.Equal(1, s.OutboxCount(domain.EventBidCancelled, "PENDING"))
}
