package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"go.uber.org/zap"
)

// Parser accepts both 5-field and 6-field (leading seconds) specs plus descriptors like @every.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Job func(ctx context.Context)

type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
}

func New(logger *zap.Logger) *Scheduler {
	cronLogger := zapAdapter{logger: logger.Sugar()}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			// Recover must sit inside SkipIfStillRunning, which only hands its
			// token back when the wrapped job returns normally.
			cron.WithChain(
				cron.SkipIfStillRunning(cronLogger),
				cron.Recover(cronLogger),
			),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers job under name. An overlapping run of the same job is skipped.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := s.ctx
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		job(ctx)

		mylogger.Debug(ctx, s.logger, "Scheduled job finished",
			zap.String("job", name),
			zap.Duration("took", time.Since(started)),
		)
	})
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", name, spec, err)
	}

	return nil
}

// Run blocks until ctx is done and then waits for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()

	mylogger.Info(ctx, s.logger, "Scheduler started", zap.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()

	<-s.cron.Stop().Done()
	mylogger.Info(context.WithoutCancel(ctx), s.logger, "Scheduler stopped")

	return nil
}

type zapAdapter struct {
	logger *zap.SugaredLogger
}

func (a zapAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debugw(msg, keysAndValues...)
}

func (a zapAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
