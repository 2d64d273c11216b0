package repository

import "errors"

var (
	ErrSettlementNotFound = errors.New("settlement not found")
	ErrCandidateNotFound  = errors.New("settlement candidate not found")
)
