package domain

import "time"

type OrderSource string

const (
	OrderSourceAuction OrderSource = "AUCTION"
	OrderSourceBuyNow  OrderSource = "BUY_NOW"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

type Order struct {
	ID              int64       `db:"id" json:"id"`
	AuctionID       int64       `db:"auction_id" json:"auction_id"`
	BuyerID         int64       `db:"buyer_id" json:"buyer_id"`
	SellerID        int64       `db:"seller_id" json:"seller_id"`
	BidID           *int64      `db:"bid_id" json:"bid_id,omitempty"`
	Amount          int64       `db:"amount" json:"amount"`
	Source          OrderSource `db:"source" json:"source"`
	Status          OrderStatus `db:"status" json:"status"`
	PaymentDeadline time.Time   `db:"payment_deadline" json:"payment_deadline"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "PENDING"
	AttemptStatusPaid    AttemptStatus = "PAID"
	AttemptStatusExpired AttemptStatus = "EXPIRED"
)

type BuyNowAttempt struct {
	ID              int64         `db:"id"`
	AuctionID       int64         `db:"auction_id"`
	UserID          int64         `db:"user_id"`
	OrderID         int64         `db:"order_id"`
	Status          AttemptStatus `db:"status"`
	PaymentDeadline time.Time     `db:"payment_deadline"`
	CreatedAt       time.Time     `db:"created_at"`
	ResolvedAt      *time.Time    `db:"resolved_at"`
}
