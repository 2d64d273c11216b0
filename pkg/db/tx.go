package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-auction/pkg/mylogger"
	"go.uber.org/zap"
)

// TxBeginner is satisfied by *pgxpool.Pool and by test fakes.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Rollback is meant for defer right after Begin. It is a no-op on a committed tx.
func Rollback(ctx context.Context, tx pgx.Tx, logger *zap.Logger) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Error(cleanupCtx, logger, "Failed to rollback transaction", zap.Error(err))
	}
}

// SetLockTimeout bounds how long row locks in the current transaction may wait.
func SetLockTimeout(ctx context.Context, tx pgx.Tx, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}

	_, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", fmt.Sprintf("%dms", timeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	return nil
}
