package domain

import "time"

type BidStatus string

const (
	BidStatusActive    BidStatus = "ACTIVE"
	BidStatusSuccess   BidStatus = "SUCCESS"
	BidStatusFailed    BidStatus = "FAILED"
	BidStatusCancelled BidStatus = "CANCELLED"
)

type Bid struct {
	ID        int64     `db:"id" json:"id"`
	AuctionID int64     `db:"auction_id" json:"auction_id"`
	BidderID  int64     `db:"bidder_id" json:"bidder_id"`
	BidAmount int64     `db:"bid_amount" json:"bid_amount"`
	Status    BidStatus `db:"status" json:"status"`
	IsWinning bool      `db:"is_winning" json:"is_winning"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CheckCancel applies the ownership, state and window rules of a bid cancellation.
func (b *Bid) CheckCancel(bidderID int64, now time.Time, window time.Duration) error {
	if b.BidderID != bidderID {
		return ErrNotBidOwner
	}
	if b.Status != BidStatusActive || b.IsWinning {
		return ErrBidNotCancellable
	}
	if now.Sub(b.CreatedAt) > window {
		return ErrCancelWindowExpired
	}

	return nil
}
