package service

import (
	"context"

	"github.com/sakashimaa/go-auction/pkg/config"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"github.com/sakashimaa/go-auction/pkg/scheduler"
	"go.uber.org/zap"
)

// Schedule registers the collect and complete batches.
func Schedule(s *scheduler.Scheduler, cfg config.Settlement, batch BatchService, logger *zap.Logger) error {
	if err := s.Add("settlement.collect", cfg.CollectCron, func(ctx context.Context) {
		if _, err := batch.Collect(ctx); err != nil {
			mylogger.Error(ctx, logger, "Settlement collect failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	return s.Add("settlement.complete", cfg.CompleteCron, func(ctx context.Context) {
		if _, err := batch.Complete(ctx); err != nil {
			mylogger.Error(ctx, logger, "Settlement complete failed", zap.Error(err))
		}
	})
}
