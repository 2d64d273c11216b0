package domain

import "errors"

var (
	ErrSettlementNotOpen     = errors.New("settlement is not open")
	ErrCandidateCollected    = errors.New("candidate already collected")
	ErrPayeeMismatch         = errors.New("candidate belongs to another payee")
	ErrInvalidCommissionRate = errors.New("commission rate must be in [0, 1)")
)
