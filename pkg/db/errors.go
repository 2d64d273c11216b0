package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	return ""
}

func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsConcurrencyConflict reports lock timeouts, serialization failures and
// deadlocks. Callers may retry the whole transaction.
func IsConcurrencyConflict(err error) bool {
	switch pgCode(err) {
	case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
		return true
	default:
		return false
	}
}
