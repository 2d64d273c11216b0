package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nicknames(name string) userDirectoryFunc {
	return func(context.Context, int64) (string, error) { return name, nil }
}

func TestCreateAuction(t *testing.T) {
	f := newFixture(t)
	svc := f.auctions(nil)
	buyNow := int64(50_000)

	auction, err := svc.Create(context.Background(), CreateAuctionCommand{
		SellerID:         fakeUserID(),
		Title:            "vintage camera",
		StartPrice:       10_000,
		BidUnit:          500,
		BuyNowPrice:      &buyNow,
		AuctionStartTime: t0.Add(time.Hour),
		AuctionEndTime:   t0.Add(25 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.AuctionStatusScheduled, auction.Status)
	assert.Equal(t, int64(10_000), auction.CurrentPrice)
	assert.True(t, auction.BuyNowEnabled)
	assert.Equal(t, []string{domain.EventAuctionItemCreated}, f.st.eventTypes())

	snapshot := decodeData[domain.AuctionItemSnapshot](t, f.st.events(domain.EventAuctionItemCreated)[0])
	assert.Equal(t, auction.ID, snapshot.AuctionID)
	assert.Equal(t, domain.AuctionStatusScheduled, snapshot.Status)
}

func TestCreateAuction_Invalid(t *testing.T) {
	f := newFixture(t)
	svc := f.auctions(nil)
	cheap := int64(10_000)

	_, err := svc.Create(context.Background(), CreateAuctionCommand{
		SellerID:         1,
		Title:            "lamp",
		StartPrice:       10_000,
		BidUnit:          1_000,
		BuyNowPrice:      &cheap,
		AuctionStartTime: t0,
		AuctionEndTime:   t0.Add(time.Hour),
	})
	require.ErrorIs(t, err, domain.ErrInvalidBuyNowPrice)

	_, err = svc.Create(context.Background(), CreateAuctionCommand{
		SellerID:         1,
		Title:            "lamp",
		StartPrice:       10_000,
		BidUnit:          1_000,
		AuctionStartTime: t0,
		AuctionEndTime:   t0.Add(-time.Hour),
	})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "AuctionEndTime", verrs[0].Field())

	assert.Empty(t, f.st.eventTypes())
}

func TestStartDue(t *testing.T) {
	f := newFixture(t)
	due := f.seedAuction(func(a *domain.AuctionItem) {
		a.Status = domain.AuctionStatusScheduled
		a.AuctionStartTime = t0.Add(-time.Minute)
	})
	later := f.seedAuction(func(a *domain.AuctionItem) {
		a.Status = domain.AuctionStatusScheduled
		a.AuctionStartTime = t0.Add(time.Minute)
	})

	n, err := f.auctions(nil).StartDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.AuctionStatusActive, f.st.auction(t, due.ID).Status)
	assert.Equal(t, domain.AuctionStatusScheduled, f.st.auction(t, later.ID).Status)

	started := decodeData[domain.AuctionStartedEvent](t, f.st.events(domain.EventAuctionStarted)[0])
	assert.Equal(t, due.ID, started.AuctionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Started))
}

func TestClose_WithoutBidsEnds(t *testing.T) {
	f := newFixture(t)
	auction := f.seedAuction(func(a *domain.AuctionItem) {
		a.AuctionEndTime = t0.Add(-time.Second)
	})

	closed, err := f.auctions(nicknames("seller")).Close(context.Background(), auction.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.AuctionStatusEnded, closed.Status)
	assert.Nil(t, closed.OrderID)
	assert.Empty(t, f.st.allOrders())
	assert.Equal(t, []string{domain.EventAuctionClosed, domain.EventAuctionItemUpdated}, f.st.eventTypes())
}

func TestClose_FailsWhenBuyNowWasDisabledForAbuse(t *testing.T) {
	f := newFixture(t)
	auction := f.seedAuction(func(a *domain.AuctionItem) {
		a.AuctionEndTime = t0.Add(-time.Second)
		a.BuyNowDisabledByPolicy = true
	})

	closed, err := f.auctions(nil).Close(context.Background(), auction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusFail, closed.Status)
}

func TestClose_WithBidsSells(t *testing.T) {
	f := newFixture(t)
	auction := f.seedAuction()

	for i, amount := range []int64{11_000, 14_000} {
		_, err := f.bids().PlaceBid(context.Background(), PlaceBidCommand{AuctionID: auction.ID, BidderID: auction.SellerID + int64(i+1), Amount: amount})
		require.NoError(t, err)
	}

	_, err := f.bids().PlaceBid(context.Background(), PlaceBidCommand{AuctionID: auction.ID, BidderID: auction.SellerID + 3, Amount: 12_000})
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	f.clock.Advance(2 * time.Hour)
	before := len(f.st.eventTypes())

	closed, err := f.auctions(nicknames("camera-shop")).Close(context.Background(), auction.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.AuctionStatusSold, closed.Status)
	assert.Equal(t, "camera-shop", closed.SellerNickname)
	assert.Equal(t, int64(14_000), closed.FinalPrice)
	require.NotNil(t, closed.WinnerID)
	assert.Equal(t, auction.SellerID+2, *closed.WinnerID)

	bids := f.st.bidsOf(auction.ID)
	require.Len(t, bids, 2)
	assert.Equal(t, domain.BidStatusFailed, bids[0].Status)
	assert.Equal(t, domain.BidStatusSuccess, bids[1].Status)
	assert.True(t, bids[1].IsWinning)

	orders := f.st.allOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, *closed.OrderID, orders[0].ID)
	assert.Equal(t, domain.OrderSourceAuction, orders[0].Source)
	assert.Equal(t, domain.OrderStatusPendingPayment, orders[0].Status)
	assert.Equal(t, int64(14_000), orders[0].Amount)
	assert.Equal(t, bids[1].ID, *orders[0].BidID)

	assert.Equal(t,
		[]string{generalDomain.EventOrderCreated, domain.EventAuctionClosed, domain.EventAuctionItemUpdated},
		f.st.eventTypes()[before:],
	)
}

func TestClose_EnrichmentFailureIsSuppressed(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tests := []struct {
		name  string
		users userDirectoryFunc
	}{
		{name: "error", users: func(context.Context, int64) (string, error) { return "", errors.New("directory down") }},
		{name: "panic", users: func(context.Context, int64) (string, error) { panic("nil map") }},
		{name: "hangs", users: func(context.Context, int64) (string, error) {
			<-release
			return "too late", nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			auction := f.seedAuction()

			_, err := f.bids().PlaceBid(context.Background(), PlaceBidCommand{AuctionID: auction.ID, BidderID: auction.SellerID + 1, Amount: 15_000})
			require.NoError(t, err)
			f.clock.Advance(2 * time.Hour)

			closed, err := f.auctions(tt.users).Close(context.Background(), auction.ID)
			require.NoError(t, err)

			assert.Equal(t, domain.AuctionStatusSold, closed.Status)
			assert.Empty(t, closed.SellerNickname)
			assert.Len(t, f.st.events(domain.EventAuctionClosed), 1)
			assert.Len(t, f.st.events(domain.EventAuctionItemUpdated), 1)
			assert.Len(t, f.st.allOrders(), 1)
		})
	}
}

func TestClose_NotDue(t *testing.T) {
	f := newFixture(t)
	auction := f.seedAuction()

	_, err := f.auctions(nil).Close(context.Background(), auction.ID)
	require.ErrorIs(t, err, domain.ErrAuctionNotDue)
	assert.Empty(t, f.st.eventTypes())
}

func TestCloseDue_SkipsFailures(t *testing.T) {
	f := newFixture(t)
	f.seedAuction(func(a *domain.AuctionItem) { a.AuctionEndTime = t0.Add(-time.Minute) })
	f.seedAuction(func(a *domain.AuctionItem) { a.AuctionEndTime = t0.Add(-2 * time.Minute) })
	f.seedAuction()

	n, err := f.auctions(nil).CloseDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.st.events(domain.EventAuctionClosed), 2)
}

func TestCancelAuction(t *testing.T) {
	t.Run("scheduled by its seller", func(t *testing.T) {
		f := newFixture(t)
		auction := f.seedAuction(func(a *domain.AuctionItem) { a.Status = domain.AuctionStatusScheduled })

		require.NoError(t, f.auctions(nil).Cancel(context.Background(), auction.ID, auction.SellerID))
		assert.Equal(t, domain.AuctionStatusCancelled, f.st.auction(t, auction.ID).Status)
		assert.Equal(t, []string{domain.EventAuctionItemDeleted}, f.st.eventTypes())
	})

	t.Run("by another user", func(t *testing.T) {
		f := newFixture(t)
		auction := f.seedAuction()

		err := f.auctions(nil).Cancel(context.Background(), auction.ID, auction.SellerID+1)
		require.ErrorIs(t, err, domain.ErrNotAuctionOwner)
	})

	t.Run("active with bids", func(t *testing.T) {
		f := newFixture(t)
		auction := f.seedAuction()
		_, err := f.bids().PlaceBid(context.Background(), PlaceBidCommand{AuctionID: auction.ID, BidderID: auction.SellerID + 1, Amount: 11_000})
		require.NoError(t, err)

		err = f.auctions(nil).Cancel(context.Background(), auction.ID, auction.SellerID)
		require.ErrorIs(t, err, domain.ErrAuctionNotCancelable)
	})
}

func TestWatchlist(t *testing.T) {
	f := newFixture(t)
	svc := f.auctions(nil)
	auction := f.seedAuction()
	user := auction.SellerID + 1

	require.NoError(t, svc.Watch(context.Background(), auction.ID, user))
	require.NoError(t, svc.Watch(context.Background(), auction.ID, user))
	assert.Equal(t, 1, f.st.auction(t, auction.ID).WatchlistCount)

	require.NoError(t, svc.Unwatch(context.Background(), auction.ID, user))
	require.NoError(t, svc.Unwatch(context.Background(), auction.ID, user))
	assert.Equal(t, 0, f.st.auction(t, auction.ID).WatchlistCount)
	assert.Empty(t, f.st.eventTypes())
}
