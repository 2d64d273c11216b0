package domain

import "time"

const (
	EventAuctionItemCreated     = "AuctionItemCreated"
	EventAuctionItemUpdated     = "AuctionItemUpdated"
	EventAuctionItemDeleted     = "AuctionItemDeleted"
	EventAuctionStarted         = "AuctionStarted"
	EventBidPlaced              = "BidPlaced"
	EventBidCancelled           = "BidCancelled"
	EventAuctionExtended        = "AuctionExtended"
	EventAuctionClosed          = "AuctionClosed"
	EventAuctionBuyNow          = "AuctionBuyNow"
	EventAuctionBuyNowRecovered = "AuctionBuyNowRecovered"
	EventAuctionBuyNowDisabled  = "AuctionBuyNowDisabled"
)

type AuctionStartedEvent struct {
	AuctionID  int64     `json:"auction_id"`
	SellerID   int64     `json:"seller_id"`
	StartPrice int64     `json:"start_price"`
	StartedAt  time.Time `json:"started_at"`
	EndTime    time.Time `json:"end_time"`
}

type BidPlacedEvent struct {
	AuctionID        int64     `json:"auction_id"`
	BidID            int64     `json:"bid_id"`
	Price            int64     `json:"price"`
	BidderID         int64     `json:"bidder_id"`
	PreviousBidderID *int64    `json:"previous_bidder_id,omitempty"`
	EndTime          time.Time `json:"end_time"`
	Extended         bool      `json:"extended"`
}

type BidCancelledEvent struct {
	AuctionID    int64     `json:"auction_id"`
	BidID        int64     `json:"bid_id"`
	BidderID     int64     `json:"bidder_id"`
	CurrentPrice int64     `json:"current_price"`
	CancelledAt  time.Time `json:"cancelled_at"`
}

type AuctionExtendedEvent struct {
	AuctionID      int64     `json:"auction_id"`
	NewEndTime     time.Time `json:"new_end_time"`
	ExtensionCount int       `json:"extension_count"`
}

type AuctionClosedEvent struct {
	AuctionID      int64         `json:"auction_id"`
	Status         AuctionStatus `json:"status"`
	SellerID       int64         `json:"seller_id"`
	SellerNickname string        `json:"seller_nickname"`
	WinnerID       *int64        `json:"winner_id,omitempty"`
	WinningBidID   *int64        `json:"winning_bid_id,omitempty"`
	OrderID        *int64        `json:"order_id,omitempty"`
	FinalPrice     int64         `json:"final_price"`
	ClosedAt       time.Time     `json:"closed_at"`
}

type AuctionBuyNowEvent struct {
	AuctionID       int64     `json:"auction_id"`
	BuyerID         int64     `json:"buyer_id"`
	OrderID         int64     `json:"order_id"`
	Price           int64     `json:"price"`
	PaymentDeadline time.Time `json:"payment_deadline"`
}

type AuctionBuyNowRecoveredEvent struct {
	AuctionID     int64     `json:"auction_id"`
	OrderID       int64     `json:"order_id"`
	NewEndTime    time.Time `json:"new_end_time"`
	RecoveryCount int       `json:"recovery_count"`
}

type AuctionBuyNowDisabledEvent struct {
	AuctionID     int64  `json:"auction_id"`
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	RecoveryCount int    `json:"recovery_count"`
	UnpaidByUser  int    `json:"unpaid_by_user"`
	Reason        string `json:"reason"`
}

type AuctionItemDeletedEvent struct {
	AuctionID   int64     `json:"auction_id"`
	SellerID    int64     `json:"seller_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// AuctionItemSnapshot is the payload of AuctionItemCreated and AuctionItemUpdated.
type AuctionItemSnapshot struct {
	AuctionID              int64         `json:"auction_id"`
	SellerID               int64         `json:"seller_id"`
	Title                  string        `json:"title"`
	Status                 AuctionStatus `json:"status"`
	StartPrice             int64         `json:"start_price"`
	CurrentPrice           int64         `json:"current_price"`
	BidUnit                int64         `json:"bid_unit"`
	BuyNowPrice            *int64        `json:"buy_now_price,omitempty"`
	BuyNowEnabled          bool          `json:"buy_now_enabled"`
	BuyNowDisabledByPolicy bool          `json:"buy_now_disabled_by_policy"`
	AuctionStartTime       time.Time     `json:"auction_start_time"`
	AuctionEndTime         time.Time     `json:"auction_end_time"`
	BidCount               int           `json:"bid_count"`
	WatchlistCount         int           `json:"watchlist_count"`
	Version                int64         `json:"version"`
}

func (a *AuctionItem) Snapshot() AuctionItemSnapshot {
	return AuctionItemSnapshot{
		AuctionID:              a.ID,
		SellerID:               a.SellerID,
		Title:                  a.Title,
		Status:                 a.Status,
		StartPrice:             a.StartPrice,
		CurrentPrice:           a.CurrentPrice,
		BidUnit:                a.BidUnit,
		BuyNowPrice:            a.BuyNowPrice,
		BuyNowEnabled:          a.BuyNowEnabled,
		BuyNowDisabledByPolicy: a.BuyNowDisabledByPolicy,
		AuctionStartTime:       a.AuctionStartTime,
		AuctionEndTime:         a.AuctionEndTime,
		BidCount:               a.BidCount,
		WatchlistCount:         a.WatchlistCount,
		Version:                a.Version,
	}
}
