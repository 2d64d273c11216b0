package domain

import "errors"

var (
	ErrInvalidAmount        = errors.New("bid amount must be positive")
	ErrBidTooLow            = errors.New("bid must exceed current price by at least one bid unit")
	ErrBidUnitInvalid       = errors.New("bid must be current price plus a whole number of bid units")
	ErrSelfBid              = errors.New("seller cannot bid on own auction")
	ErrAuctionNotBiddable   = errors.New("auction is not accepting bids")
	ErrNotBidOwner          = errors.New("bid belongs to another bidder")
	ErrBidNotCancellable    = errors.New("bid cannot be cancelled")
	ErrCancelWindowExpired  = errors.New("bid cancellation window has passed")
	ErrInvalidTransition    = errors.New("auction status does not allow this transition")
	ErrAuctionNotDue        = errors.New("auction is not due for this transition yet")
	ErrNotAuctionOwner      = errors.New("auction belongs to another seller")
	ErrAuctionNotCancelable = errors.New("auction cannot be cancelled")
	ErrInvalidBuyNowPrice   = errors.New("buy-now price must be greater than start price")
	ErrBuyNowUnavailable    = errors.New("buy-now is not available for this auction")
	ErrBuyNowLimitReached   = errors.New("too many unpaid buy-now attempts on this auction")
	ErrAttemptResolved      = errors.New("buy-now attempt already resolved")
	ErrOrderNotPending      = errors.New("order is not awaiting payment")

	// ErrConcurrentModification is retryable: a lock wait timed out, the
	// database aborted the transaction, or the version check failed.
	ErrConcurrentModification = errors.New("auction was modified concurrently, retry")
)
