package service

import (
	"context"

	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/pkg/scheduler"
	"go.uber.org/zap"
)

// Schedule registers the start, close and buy-now deadline scans.
func Schedule(s *scheduler.Scheduler, cfg config.Auction, auctions AuctionService, buyNow BuyNowService, logger *zap.Logger) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (int, error)
	}{
		{"auction.start", cfg.StartCron, auctions.StartDue},
		{"auction.close", cfg.CloseCron, auctions.CloseDue},
		{"auction.buy_now_expiry", cfg.BuyNowExpiryCron, buyNow.ExpireDue},
	}

	for _, job := range jobs {
		run := job.run
		name := job.name

		err := s.Add(name, job.spec, func(ctx context.Context) {
			n, err := run(ctx)
			if err != nil {
				mylogger.Error(ctx, logger, "Auction job failed", zap.String("job", name), zap.Error(err))
				return
			}
			if n > 0 {
				mylogger.Info(ctx, logger, "Auction job processed items", zap.String("job", name), zap.Int("count", n))
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}
