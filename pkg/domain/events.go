package domain

import (
	"encoding/json"
	"time"
)

const (
	TopicAuctionEvents    = "auction_events"
	TopicOrderEvents      = "order_events"
	TopicPaymentEvents    = "payment_events"
	TopicSettlementEvents = "settlement_events"
)

const (
	AggregateAuction    = "Auction"
	AggregateOrder      = "Order"
	AggregateSettlement = "Settlement"
)

const (
	EventOrderCreated        = "OrderCreated"
	EventOrderCompleted      = "OrderCompleted"
	EventOrderCancelled      = "OrderCancelled"
	EventOrderRefunded       = "OrderRefunded"
	EventPaymentSucceeded    = "PaymentSucceeded"
	EventPaymentFailed       = "PaymentFailed"
	EventSettlementCompleted = "SettlementCompleted"
)

// Envelope is the JSON shape of every outbox payload and kafka record value.
type Envelope struct {
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Data        json.RawMessage `json:"data"`
}

func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	return &env, nil
}

type PaymentSucceededEvent struct {
	OrderID   int64     `json:"order_id"`
	PaymentID int64     `json:"payment_id"`
	Amount    int64     `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
}

type PaymentFailedEvent struct {
	OrderID   int64     `json:"order_id"`
	PaymentID int64     `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

type OrderCreatedEvent struct {
	OrderID         int64     `json:"order_id"`
	AuctionID       int64     `json:"auction_id"`
	BuyerID         int64     `json:"buyer_id"`
	SellerID        int64     `json:"seller_id"`
	Amount          int64     `json:"amount"`
	Source          string    `json:"source"`
	PaymentDeadline time.Time `json:"payment_deadline"`
}

type OrderCompletedEvent struct {
	OrderID     int64     `json:"order_id"`
	AuctionID   int64     `json:"auction_id"`
	BuyerID     int64     `json:"buyer_id"`
	SellerID    int64     `json:"seller_id"`
	Amount      int64     `json:"amount"`
	Source      string    `json:"source"`
	CompletedAt time.Time `json:"completed_at"`
}

type OrderCancelledEvent struct {
	OrderID     int64     `json:"order_id"`
	AuctionID   int64     `json:"auction_id"`
	BuyerID     int64     `json:"buyer_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type OrderRefundedEvent struct {
	OrderID    int64     `json:"order_id"`
	SellerID   int64     `json:"seller_id"`
	Amount     int64     `json:"amount"`
	RefundedAt time.Time `json:"refunded_at"`
}

type SettlementCompletedEvent struct {
	SettlementID int64     `json:"settlement_id"`
	PayeeID      int64     `json:"payee_id"`
	TotalAmount  int64     `json:"total_amount"`
	PayoutRef    string    `json:"payout_ref,omitempty"`
	SettledAt    time.Time `json:"settled_at"`
}
