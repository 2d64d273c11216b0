package domain

import (
	"time"
)

type CandidateKind string

const (
	CandidateKindReceivable CandidateKind = "RECEIVABLE"
	CandidateKindRefund     CandidateKind = "REFUND"
)

type CandidateStatus string

const (
	CandidateStatusPending   CandidateStatus = "PENDING"
	CandidateStatusCollected CandidateStatus = "COLLECTED"
)

// SettlementCandidatedItem is one signed amount owed to (or by) a payee,
// already net of commission, waiting to be folded into a settlement.
type SettlementCandidatedItem struct {
	ID          int64           `db:"id" json:"id"`
	PayeeID     int64           `db:"payee_id" json:"payee_id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	Kind        CandidateKind   `db:"kind" json:"kind"`
	Amount      int64           `db:"amount" json:"amount"`
	Status      CandidateStatus `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	CollectedAt *time.Time      `db:"collected_at" json:"collected_at,omitempty"`
}

type SettlementStatus string

const (
	SettlementStatusOpen    SettlementStatus = "OPEN"
	SettlementStatusSettled SettlementStatus = "SETTLED"
)

type Settlement struct {
	ID          int64            `db:"id" json:"id"`
	PayeeID     int64            `db:"payee_id" json:"payee_id"`
	PeriodStart time.Time        `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time        `db:"period_end" json:"period_end"`
	TotalAmount int64            `db:"total_amount" json:"total_amount"`
	Status      SettlementStatus `db:"status" json:"status"`
	PayoutRef   *string          `db:"payout_ref" json:"payout_ref,omitempty"`
	SettledAt   *time.Time       `db:"settled_at" json:"settled_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

type SettlementItem struct {
	ID           int64     `db:"id" json:"id"`
	SettlementID int64     `db:"settlement_id" json:"settlement_id"`
	CandidateID  int64     `db:"candidate_id" json:"candidate_id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	Amount       int64     `db:"amount" json:"amount"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// OpenSettlement starts an empty accrual period for payeeID at now.
func OpenSettlement(payeeID int64, now time.Time, period time.Duration) *Settlement {
	return &Settlement{
		PayeeID:     payeeID,
		PeriodStart: now,
		PeriodEnd:   now.Add(period),
		Status:      SettlementStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *Settlement) IsDue(now time.Time) bool {
	return s.Status == SettlementStatusOpen && !s.PeriodEnd.After(now)
}

// NeedsPayout is false for empty or negative totals.
func (s *Settlement) NeedsPayout() bool {
	return s.TotalAmount > 0
}

// Collect folds a candidate into the running total and returns its item.
func (s *Settlement) Collect(c *SettlementCandidatedItem, now time.Time) (*SettlementItem, error) {
	if s.Status != SettlementStatusOpen {
		return nil, ErrSettlementNotOpen
	}
	if c.Status != CandidateStatusPending {
		return nil, ErrCandidateCollected
	}
	if c.PayeeID != s.PayeeID {
		return nil, ErrPayeeMismatch
	}

	s.TotalAmount += c.Amount
	s.UpdatedAt = now

	c.Status = CandidateStatusCollected
	c.CollectedAt = &now

	return &SettlementItem{
		SettlementID: s.ID,
		CandidateID:  c.ID,
		OrderID:      c.OrderID,
		Amount:       c.Amount,
		CreatedAt:    now,
	}, nil
}

// Settle closes the period and returns the OPEN successor. A negative total
// is carried into the successor, anything else starts it at zero.
func (s *Settlement) Settle(payoutRef string, now time.Time, period time.Duration) (*Settlement, error) {
	if s.Status != SettlementStatusOpen {
		return nil, ErrSettlementNotOpen
	}

	s.Status = SettlementStatusSettled
	s.SettledAt = &now
	s.UpdatedAt = now
	if payoutRef != "" {
		s.PayoutRef = &payoutRef
	}

	start := s.PeriodEnd
	if now.After(start) {
		start = now
	}

	next := OpenSettlement(s.PayeeID, start, period)
	next.CreatedAt = now
	next.UpdatedAt = now
	if s.TotalAmount < 0 {
		next.TotalAmount = s.TotalAmount
	}

	return next, nil
}
