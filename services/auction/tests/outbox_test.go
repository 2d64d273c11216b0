package tests

import (
	"context"
	"time"

	"github.com/sakashimaa/go-auction/services/auction/internal/client"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"go.uber.org/zap"
)

func (s *IntegrationTestSuite) TestOutbox_PublishesToKafka() {
	s.activeAuction(100, nil)

	s.Require().Equal(1, s.OutboxCount(domain.EventAuctionItemCreated, "PENDING"))

	s.Eventually(func() bool {
		if _, err := s.OutboxProcessor.PublishPending(s.Ctx); err != nil {
			return false
		}
		return s.OutboxCount(domain.EventAuctionItemCreated, "PUBLISHED") == 1 &&
			s.OutboxCount(domain.EventAuctionStarted, "PUBLISHED") == 1
	}, 30*time.Second, 500*time.Millisecond)
}

type countingDirectory struct {
	calls int
}

func (d *countingDirectory) Nickname(_ context.Context, _ int64) (string, error) {
	d.calls++
	return "seller-one", nil
}

func (s *IntegrationTestSuite) TestCachedUserDirectory_ServesRepeatLookupsFromRedis() {
	next := &countingDirectory{}
	users := client.NewCachedUserDirectory(next, s.Redis, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		nickname, err := users.Nickname(s.Ctx, 100)
		s.Require().NoError(err)
		s.Equal("seller-one", nickname)
	}

	s.Equal(1, next.calls)
	s.Equal("seller-one", s.Redis.Get(s.Ctx, "user:100:nickname").Val())
}
