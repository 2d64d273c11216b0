package tests

import (
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/service"
)

func (s *IntegrationTestSuite) TestBuyNow_FailedPaymentRecoversAuction() {
	price := int64(50_000)
	auction := s.activeAuction(100, &price)

	order, err := s.BuyNow.BuyNow(s.Ctx, auction.ID, 300)
	s.Require().NoError(err)
	s.Equal(domain.OrderSourceBuyNow, order.Source)

	s.Require().NoError(s.BuyNow.Expire(s.Ctx, order.ID, service.ExpireReasonPaymentFailed))

	got, err := s.Auctions.Get(s.Ctx, auction.ID)
	s.Require().NoError(err)
	s.Equal(domain.AuctionStatusActive, got.Status)
	s.Equal(1, got.BuyNowRecoveryCount)
	s.True(got.BuyNowEnabled)

	s.Equal(1, s.scalarInt(`SELECT COUNT(*) FROM buy_now_attempts WHERE order_id = $1 AND status = 'EXPIRED'`, order.ID))
	s.Equal(1, s.OutboxCount(domain.EventAuctionBuyNowRecovered, "PENDING"))
}
