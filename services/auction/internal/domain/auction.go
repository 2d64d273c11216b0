package domain

import (
	"time"

	"github.com/sakashimaa/go-auction/pkg/config"
)

type AuctionStatus string

const (
	AuctionStatusScheduled    AuctionStatus = "SCHEDULED"
	AuctionStatusActive       AuctionStatus = "ACTIVE"
	AuctionStatusSold         AuctionStatus = "SOLD"
	AuctionStatusSoldByBuyNow AuctionStatus = "SOLD_BY_BUY_NOW"
	AuctionStatusEnded        AuctionStatus = "ENDED"
	AuctionStatusFail         AuctionStatus = "FAIL"
	AuctionStatusCancelled    AuctionStatus = "CANCELLED"
)

type AuctionItem struct {
	ID                     int64         `db:"id" json:"id"`
	SellerID               int64         `db:"seller_id" json:"seller_id"`
	Title                  string        `db:"title" json:"title"`
	Status                 AuctionStatus `db:"status" json:"status"`
	StartPrice             int64         `db:"start_price" json:"start_price"`
	CurrentPrice           int64         `db:"current_price" json:"current_price"`
	BidUnit                int64         `db:"bid_unit" json:"bid_unit"`
	BuyNowPrice            *int64        `db:"buy_now_price" json:"buy_now_price,omitempty"`
	BuyNowEnabled          bool          `db:"buy_now_enabled" json:"buy_now_enabled"`
	BuyNowDisabledByPolicy bool          `db:"buy_now_disabled_by_policy" json:"buy_now_disabled_by_policy"`
	AuctionStartTime       time.Time     `db:"auction_start_time" json:"auction_start_time"`
	AuctionEndTime         time.Time     `db:"auction_end_time" json:"auction_end_time"`
	ExtensionCount         int           `db:"extension_count" json:"extension_count"`
	BuyNowRecoveryCount    int           `db:"buy_now_recovery_count" json:"buy_now_recovery_count"`
	BidCount               int           `db:"bid_count" json:"bid_count"`
	WatchlistCount         int           `db:"watchlist_count" json:"watchlist_count"`
	Version                int64         `db:"version" json:"version"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// Rules are the tunables of bidding, extension and buy-now recovery.
type Rules struct {
	ExtendTriggerWindow  time.Duration
	ExtensionDuration    time.Duration
	MaxExtensions        int
	BidCancelWindow      time.Duration
	PaymentWindow        time.Duration
	RecoveryDuration     time.Duration
	MaxRecoveries        int
	MaxUnpaidPerUser     int
	FailUnsoldAfterAbuse bool
}

func NewRules(cfg config.Auction) Rules {
	return Rules{
		ExtendTriggerWindow:  cfg.ExtendTriggerWindow,
		ExtensionDuration:    cfg.ExtensionDuration,
		MaxExtensions:        cfg.MaxExtensions,
		BidCancelWindow:      cfg.BidCancelWindow,
		PaymentWindow:        cfg.BuyNowPaymentWindow,
		RecoveryDuration:     cfg.RecoveryDuration,
		MaxRecoveries:        cfg.MaxRecoveries,
		MaxUnpaidPerUser:     cfg.MaxUnpaidPerUser,
		FailUnsoldAfterAbuse: cfg.FailUnsoldAfterAbuse,
	}
}

func (a *AuctionItem) IsBiddable(now time.Time) bool {
	return a.Status == AuctionStatusActive && !now.After(a.AuctionEndTime)
}

// CheckBid validates a bid against the locked auction state.
func (a *AuctionItem) CheckBid(bidderID, amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if bidderID == a.SellerID {
		return ErrSelfBid
	}
	if !a.IsBiddable(now) {
		return ErrAuctionNotBiddable
	}
	if amount <= a.CurrentPrice {
		return ErrBidTooLow
	}
	if (amount-a.CurrentPrice)%a.BidUnit != 0 {
		return ErrBidUnitInvalid
	}

	return nil
}

// ApplyBid records an accepted bid and evaluates auto-extension.
// It reports whether the end time moved.
func (a *AuctionItem) ApplyBid(amount int64, now time.Time, rules Rules) bool {
	a.CurrentPrice = amount
	a.BidCount++
	a.UpdatedAt = now

	return a.autoExtend(now, rules)
}

func (a *AuctionItem) autoExtend(now time.Time, rules Rules) bool {
	if a.ExtensionCount >= rules.MaxExtensions {
		return false
	}
	if a.AuctionEndTime.Sub(now) > rules.ExtendTriggerWindow {
		return false
	}

	a.AuctionEndTime = a.AuctionEndTime.Add(rules.ExtensionDuration)
	a.ExtensionCount++

	return true
}

// RecomputePrice resets the price after a bid cancellation. highest is the
// best remaining ACTIVE bid amount, zero when none remain.
func (a *AuctionItem) RecomputePrice(highest int64, now time.Time) {
	a.CurrentPrice = max(a.StartPrice, highest)
	if a.BidCount > 0 {
		a.BidCount--
	}
	a.UpdatedAt = now
}

func (a *AuctionItem) Start(now time.Time) error {
	if a.Status != AuctionStatusScheduled {
		return ErrInvalidTransition
	}
	if a.AuctionStartTime.After(now) {
		return ErrAuctionNotDue
	}

	a.Status = AuctionStatusActive
	a.UpdatedAt = now

	return nil
}

func (a *AuctionItem) CheckClosable(now time.Time) error {
	if a.Status != AuctionStatusActive {
		return ErrInvalidTransition
	}
	if a.AuctionEndTime.After(now) {
		return ErrAuctionNotDue
	}

	return nil
}

// Close moves the auction to its terminal status. Without a winner the
// outcome is ENDED, or FAIL once buy-now was disabled for abuse and the
// rules ask for it.
func (a *AuctionItem) Close(hasWinner bool, now time.Time, rules Rules) {
	switch {
	case hasWinner:
		a.Status = AuctionStatusSold
	case a.BuyNowDisabledByPolicy && rules.FailUnsoldAfterAbuse:
		a.Status = AuctionStatusFail
	default:
		a.Status = AuctionStatusEnded
	}

	a.UpdatedAt = now
}

func (a *AuctionItem) Cancel(sellerID int64, now time.Time) error {
	if a.SellerID != sellerID {
		return ErrNotAuctionOwner
	}

	switch {
	case a.Status == AuctionStatusScheduled:
	case a.Status == AuctionStatusActive && a.BidCount == 0:
	default:
		return ErrAuctionNotCancelable
	}

	a.Status = AuctionStatusCancelled
	a.UpdatedAt = now

	return nil
}

func (a *AuctionItem) CheckBuyNow(buyerID int64, now time.Time) error {
	if buyerID == a.SellerID {
		return ErrSelfBid
	}
	if !a.IsBiddable(now) {
		return ErrAuctionNotBiddable
	}
	if !a.BuyNowEnabled || a.BuyNowDisabledByPolicy || a.BuyNowPrice == nil || *a.BuyNowPrice <= a.CurrentPrice {
		return ErrBuyNowUnavailable
	}

	return nil
}

func (a *AuctionItem) MarkSoldByBuyNow(now time.Time) {
	a.Status = AuctionStatusSoldByBuyNow
	a.UpdatedAt = now
}

// ReleaseAfterUnpaidBuyNow returns the auction to ACTIVE once a buy-now
// payment failed. Below both caps the end time is pushed out by the recovery
// duration. Otherwise buy-now is switched off for good and the end time is
// left alone. unpaidByUser includes the attempt that just expired.
func (a *AuctionItem) ReleaseAfterUnpaidBuyNow(unpaidByUser int, now time.Time, rules Rules) (recovered bool) {
	a.Status = AuctionStatusActive
	a.UpdatedAt = now

	if a.BuyNowRecoveryCount < rules.MaxRecoveries && unpaidByUser < rules.MaxUnpaidPerUser {
		base := a.AuctionEndTime
		if now.After(base) {
			base = now
		}

		a.AuctionEndTime = base.Add(rules.RecoveryDuration)
		a.BuyNowRecoveryCount++

		return true
	}

	a.BuyNowDisabledByPolicy = true
	a.BuyNowEnabled = false

	return false
}

func (a *AuctionItem) Touch(now time.Time) {
	a.UpdatedAt = now
}
