package repository

import "errors"

var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrBidNotFound     = errors.New("bid not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrAttemptNotFound = errors.New("buy-now attempt not found")
	ErrVersionConflict = errors.New("auction version changed since it was read")
)
