package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/go-auction/pkg/clock"
	generalDomain "github.com/sakashimaa/go-auction/pkg/domain"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	outboxDomain "github.com/sakashimaa/go-auction/pkg/outbox/domain"
	"github.com/sakashimaa/go-auction/pkg/testsuite"
	"github.com/sakashimaa/go-auction/services/auction/internal/client"
	"github.com/sakashimaa/go-auction/services/auction/internal/domain"
	"github.com/sakashimaa/go-auction/services/auction/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errWinnerIndex = errors.New("duplicate key value violates unique constraint \"uq_bids_one_winner\"")

// memStore applies writes immediately and undoes them when the owning
// transaction does not commit. Row locks are held until the transaction ends.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	auctions   map[int64]*domain.AuctionItem
	bids       map[int64]*domain.Bid
	orders     map[int64]*domain.Order
	attempts   map[int64]*domain.BuyNowAttempt
	watch      map[[2]int64]bool
	outbox     []*outboxDomain.OutboxEvent
	rowLocks   map[string]*sync.Mutex
	registered map[*testsuite.FakeTx]bool
	undo       map[*testsuite.FakeTx][]func()
	held       map[*testsuite.FakeTx][]string

	lockErr   error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		auctions:   make(map[int64]*domain.AuctionItem),
		bids:       make(map[int64]*domain.Bid),
		orders:     make(map[int64]*domain.Order),
		attempts:   make(map[int64]*domain.BuyNowAttempt),
		watch:      make(map[[2]int64]bool),
		rowLocks:   make(map[string]*sync.Mutex),
		registered: make(map[*testsuite.FakeTx]bool),
		undo:       make(map[*testsuite.FakeTx][]func()),
		held:       make(map[*testsuite.FakeTx][]string),
	}
}

// caller holds st.mu
func (st *memStore) id() int64 {
	st.nextID++
	return st.nextID
}

// caller holds st.mu
func (st *memStore) register(ft *testsuite.FakeTx) {
	if st.registered[ft] {
		return
	}
	st.registered[ft] = true
	ft.OnEnd(func() { st.end(ft) })
}

// caller holds st.mu
func (st *memStore) track(tx pgx.Tx, undo func()) {
	ft := testsuite.AsFake(tx)
	st.register(ft)
	st.undo[ft] = append(st.undo[ft], undo)
}

func (st *memStore) end(ft *testsuite.FakeTx) {
	committed := ft.Committed()

	st.mu.Lock()
	undo := st.undo[ft]
	held := st.held[ft]
	delete(st.undo, ft)
	delete(st.held, ft)
	delete(st.registered, ft)
	if !committed {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	locks := make([]*sync.Mutex, 0, len(held))
	for _, key := range held {
		locks = append(locks, st.rowLocks[key])
	}
	st.mu.Unlock()

	for _, m := range locks {
		m.Unlock()
	}
}

func (st *memStore) lockRow(tx pgx.Tx, key string) {
	ft := testsuite.AsFake(tx)

	st.mu.Lock()
	for _, k := range st.held[ft] {
		if k == key {
			st.mu.Unlock()
			return
		}
	}
	m, ok := st.rowLocks[key]
	if !ok {
		m = &sync.Mutex{}
		st.rowLocks[key] = m
	}
	st.mu.Unlock()

	m.Lock()

	st.mu.Lock()
	st.register(ft)
	st.held[ft] = append(st.held[ft], key)
	st.mu.Unlock()
}

func (st *memStore) auction(t *testing.T, id int64) domain.AuctionItem {
	t.Helper()

	st.mu.Lock()
	defer st.mu.Unlock()

	a, ok := st.auctions[id]
	require.True(t, ok, "auction %d", id)

	return *a
}

func (st *memStore) bidsOf(auctionID int64) []domain.Bid {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []domain.Bid
	for _, b := range st.bids {
		if b.AuctionID == auctionID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (st *memStore) allOrders() []domain.Order {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []domain.Order
	for _, o := range st.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (st *memStore) attemptFor(orderID int64) *domain.BuyNowAttempt {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, a := range st.attempts {
		if a.OrderID == orderID {
			cp := *a
			return &cp
		}
	}

	return nil
}

func (st *memStore) eventTypes() []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]string, 0, len(st.outbox))
	for _, e := range st.outbox {
		out = append(out, e.EventType)
	}

	return out
}

func (st *memStore) events(eventType string) []*outboxDomain.OutboxEvent {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*outboxDomain.OutboxEvent
	for _, e := range st.outbox {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}

	return out
}

func decodeData[T any](t *testing.T, event *outboxDomain.OutboxEvent) T {
	t.Helper()

	env, err := generalDomain.DecodeEnvelope(event.Payload)
	require.NoError(t, err)
	require.Equal(t, event.EventType, env.EventType)

	var data T
	require.NoError(t, json.Unmarshal(env.Data, &data))

	return data
}

type fakeAuctions struct{ st *memStore }

func (r fakeAuctions) Create(_ context.Context, tx pgx.Tx, a *domain.AuctionItem) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	a.ID = r.st.id()
	a.Version = 1
	cp := *a
	r.st.auctions[a.ID] = &cp
	r.st.track(tx, func() { delete(r.st.auctions, cp.ID) })

	return nil
}

func (r fakeAuctions) FindByID(_ context.Context, id int64) (*domain.AuctionItem, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	a, ok := r.st.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrAuctionNotFound, id)
	}
	cp := *a

	return &cp, nil
}

func (r fakeAuctions) LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.AuctionItem, error) {
	r.st.mu.Lock()
	lockErr := r.st.lockErr
	r.st.mu.Unlock()
	if lockErr != nil {
		return nil, lockErr
	}

	r.st.lockRow(tx, fmt.Sprintf("auction:%d", id))

	return r.FindByID(ctx, id)
}

func (r fakeAuctions) Update(_ context.Context, tx pgx.Tx, a *domain.AuctionItem) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if r.st.updateErr != nil {
		return r.st.updateErr
	}

	cur, ok := r.st.auctions[a.ID]
	if !ok || cur.Version != a.Version {
		return repository.ErrVersionConflict
	}

	prev := *cur
	next := *a
	next.Version++
	r.st.auctions[a.ID] = &next
	r.st.track(tx, func() { r.st.auctions[prev.ID] = &prev })
	a.Version++

	return nil
}

func (r fakeAuctions) ListDueForStart(_ context.Context, now time.Time, limit int) ([]int64, error) {
	return r.list(limit, func(a *domain.AuctionItem) bool {
		return a.Status == domain.AuctionStatusScheduled && !a.AuctionStartTime.After(now)
	}), nil
}

func (r fakeAuctions) ListDueForClose(_ context.Context, now time.Time, limit int) ([]int64, error) {
	return r.list(limit, func(a *domain.AuctionItem) bool {
		return a.Status == domain.AuctionStatusActive && !a.AuctionEndTime.After(now)
	}), nil
}

func (r fakeAuctions) list(limit int, match func(a *domain.AuctionItem) bool) []int64 {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var ids []int64
	for id, a := range r.st.auctions {
		if match(a) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	return ids
}

type fakeBids struct{ st *memStore }

// caller holds st.mu
func (r fakeBids) winnerConflict(auctionID, bidID int64) bool {
	for _, b := range r.st.bids {
		if b.AuctionID == auctionID && b.ID != bidID && b.IsWinning {
			return true
		}
	}

	return false
}

func (r fakeBids) Create(_ context.Context, tx pgx.Tx, bid *domain.Bid) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if bid.IsWinning && r.winnerConflict(bid.AuctionID, 0) {
		return errWinnerIndex
	}

	bid.ID = r.st.id()
	cp := *bid
	r.st.bids[bid.ID] = &cp
	r.st.track(tx, func() { delete(r.st.bids, cp.ID) })

	return nil
}

func (r fakeBids) GetByID(_ context.Context, _ pgx.Tx, id int64) (*domain.Bid, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	b, ok := r.st.bids[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrBidNotFound, id)
	}
	cp := *b

	return &cp, nil
}

func (r fakeBids) GetWinning(_ context.Context, _ pgx.Tx, auctionID int64) (*domain.Bid, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for _, b := range r.st.bids {
		if b.AuctionID == auctionID && b.IsWinning {
			cp := *b
			return &cp, nil
		}
	}

	return nil, nil
}

func (r fakeBids) HighestActive(_ context.Context, _ pgx.Tx, auctionID int64) (*domain.Bid, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var best *domain.Bid
	for _, b := range r.st.bids {
		if b.AuctionID != auctionID || b.Status != domain.BidStatusActive {
			continue
		}
		if best == nil || b.BidAmount > best.BidAmount || (b.BidAmount == best.BidAmount && b.ID < best.ID) {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best

	return &cp, nil
}

func (r fakeBids) UpdateState(_ context.Context, tx pgx.Tx, bidID int64, status domain.BidStatus, isWinning bool) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	b, ok := r.st.bids[bidID]
	if !ok {
		return fmt.Errorf("%w: %d", repository.ErrBidNotFound, bidID)
	}
	if isWinning && r.winnerConflict(b.AuctionID, bidID) {
		return errWinnerIndex
	}

	prev := *b
	b.Status = status
	b.IsWinning = isWinning
	r.st.track(tx, func() { *r.st.bids[prev.ID] = prev })

	return nil
}

func (r fakeBids) FailActiveExcept(_ context.Context, tx pgx.Tx, auctionID, exceptBidID int64) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var n int64
	for _, b := range r.st.bids {
		if b.AuctionID != auctionID || b.ID == exceptBidID || b.Status != domain.BidStatusActive {
			continue
		}
		prev := *b
		b.Status = domain.BidStatusFailed
		b.IsWinning = false
		r.st.track(tx, func() { *r.st.bids[prev.ID] = prev })
		n++
	}

	return n, nil
}

type fakeOrders struct{ st *memStore }

func (r fakeOrders) Create(_ context.Context, tx pgx.Tx, order *domain.Order) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	order.ID = r.st.id()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	r.st.orders[order.ID] = &cp
	r.st.track(tx, func() { delete(r.st.orders, cp.ID) })

	return nil
}

func (r fakeOrders) GetByID(_ context.Context, _ pgx.Tx, id int64) (*domain.Order, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	o, ok := r.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrOrderNotFound, id)
	}
	cp := *o

	return &cp, nil
}

func (r fakeOrders) LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error) {
	r.st.lockRow(tx, fmt.Sprintf("order:%d", id))

	return r.GetByID(ctx, tx, id)
}

func (r fakeOrders) UpdateStatus(_ context.Context, tx pgx.Tx, id int64, status domain.OrderStatus, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	o, ok := r.st.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", repository.ErrOrderNotFound, id)
	}

	prev := *o
	o.Status = status
	o.UpdatedAt = at
	r.st.track(tx, func() { *r.st.orders[prev.ID] = prev })

	return nil
}

type fakeBuyNow struct{ st *memStore }

func (r fakeBuyNow) Create(_ context.Context, tx pgx.Tx, attempt *domain.BuyNowAttempt) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	attempt.ID = r.st.id()
	cp := *attempt
	r.st.attempts[attempt.ID] = &cp
	r.st.track(tx, func() { delete(r.st.attempts, cp.ID) })

	return nil
}

func (r fakeBuyNow) GetByOrderID(_ context.Context, _ pgx.Tx, orderID int64) (*domain.BuyNowAttempt, error) {
	if a := r.st.attemptFor(orderID); a != nil {
		return a, nil
	}

	return nil, fmt.Errorf("%w: order %d", repository.ErrAttemptNotFound, orderID)
}

func (r fakeBuyNow) Resolve(_ context.Context, tx pgx.Tx, id int64, status domain.AttemptStatus, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	a, ok := r.st.attempts[id]
	if !ok {
		return fmt.Errorf("%w: %d", repository.ErrAttemptNotFound, id)
	}

	prev := *a
	a.Status = status
	a.ResolvedAt = &at
	r.st.track(tx, func() { *r.st.attempts[prev.ID] = prev })

	return nil
}

func (r fakeBuyNow) CountByUser(_ context.Context, _ pgx.Tx, auctionID, userID int64, status domain.AttemptStatus) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	n := 0
	for _, a := range r.st.attempts {
		if a.AuctionID == auctionID && a.UserID == userID && a.Status == status {
			n++
		}
	}

	return n, nil
}

func (r fakeBuyNow) ListOverdueOrderIDs(_ context.Context, now time.Time, limit int) ([]int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var ids []int64
	for _, a := range r.st.attempts {
		if a.Status == domain.AttemptStatusPending && !a.PaymentDeadline.After(now) {
			ids = append(ids, a.OrderID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

type fakeWatchlist struct{ st *memStore }

func (r fakeWatchlist) Add(_ context.Context, tx pgx.Tx, auctionID, userID int64) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	key := [2]int64{auctionID, userID}
	if r.st.watch[key] {
		return false, nil
	}
	r.st.watch[key] = true
	r.st.track(tx, func() { delete(r.st.watch, key) })

	return true, nil
}

func (r fakeWatchlist) Remove(_ context.Context, tx pgx.Tx, auctionID, userID int64) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	key := [2]int64{auctionID, userID}
	if !r.st.watch[key] {
		return false, nil
	}
	delete(r.st.watch, key)
	r.st.track(tx, func() { r.st.watch[key] = true })

	return true, nil
}

type fakeOutbox struct{ st *memStore }

func (r fakeOutbox) SaveOutboxEvent(_ context.Context, tx pgx.Tx, event *outboxDomain.OutboxEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	event.ID = r.st.id()
	r.st.outbox = append(r.st.outbox, event)
	r.st.track(tx, func() {
		for i, e := range r.st.outbox {
			if e == event {
				r.st.outbox = append(r.st.outbox[:i], r.st.outbox[i+1:]...)
				return
			}
		}
	})

	return nil
}

func (fakeOutbox) GetPendingEvents(context.Context, pgx.Tx, int) ([]*outboxDomain.OutboxEvent, error) {
	return nil, nil
}

func (fakeOutbox) MarkEventPublished(context.Context, pgx.Tx, int64, time.Time) error { return nil }

func (fakeOutbox) MarkEventFailed(context.Context, pgx.Tx, int64, string) error { return nil }

func (fakeOutbox) ResetFailedEvents(context.Context, pgx.Tx, int) (int64, error) { return 0, nil }

func (fakeOutbox) DeletePublishedBefore(context.Context, pgx.Tx, time.Time) (int64, error) {
	return 0, nil
}

type userDirectoryFunc func(ctx context.Context, userID int64) (string, error)

func (f userDirectoryFunc) Nickname(ctx context.Context, userID int64) (string, error) {
	return f(ctx, userID)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st       *memStore
	db       *testsuite.FakeBeginner
	clock    *clock.Manual
	metrics  *metrics.Auction
	deps     Deps
	settings Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := newMemStore()
	clk := clock.NewManual(t0)
	m := metrics.NewAuction(prometheus.NewRegistry())
	beginner := &testsuite.FakeBeginner{}

	return &fixture{
		st:      st,
		db:      beginner,
		clock:   clk,
		metrics: m,
		deps: Deps{
			DB:        beginner,
			Auctions:  fakeAuctions{st},
			Bids:      fakeBids{st},
			Orders:    fakeOrders{st},
			BuyNow:    fakeBuyNow{st},
			Watchlist: fakeWatchlist{st},
			Outbox:    fakeOutbox{st},
			Clock:     clk,
			Metrics:   m,
			Logger:    zap.NewNop(),
		},
		settings: Settings{
			Rules: domain.Rules{
				ExtendTriggerWindow:  5 * time.Minute,
				ExtensionDuration:    3 * time.Minute,
				MaxExtensions:        5,
				BidCancelWindow:      5 * time.Minute,
				PaymentWindow:        30 * time.Minute,
				RecoveryDuration:     30 * time.Minute,
				MaxRecoveries:        2,
				MaxUnpaidPerUser:     2,
				FailUnsoldAfterAbuse: true,
			},
			LockTimeout:       time.Second,
			EnrichmentTimeout: 50 * time.Millisecond,
			ScanLimit:         100,
		},
	}
}

func fakeUserID() int64 {
	return int64(gofakeit.IntRange(1_000, 1_000_000))
}

// seedAuction stores an ACTIVE auction starting at 10,000 with a 1,000 bid unit.
func (f *fixture) seedAuction(opts ...func(a *domain.AuctionItem)) *domain.AuctionItem {
	a := &domain.AuctionItem{
		SellerID:         fakeUserID(),
		Title:            gofakeit.Word(),
		Status:           domain.AuctionStatusActive,
		StartPrice:       10_000,
		CurrentPrice:     10_000,
		BidUnit:          1_000,
		AuctionStartTime: t0.Add(-time.Hour),
		AuctionEndTime:   t0.Add(time.Hour),
		CreatedAt:        t0.Add(-2 * time.Hour),
		UpdatedAt:        t0.Add(-2 * time.Hour),
	}
	for _, opt := range opts {
		opt(a)
	}

	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	a.ID = f.st.id()
	a.Version = 1
	cp := *a
	f.st.auctions[a.ID] = &cp

	return a
}

func withBuyNow(price int64) func(a *domain.AuctionItem) {
	return func(a *domain.AuctionItem) {
		a.BuyNowPrice = &price
		a.BuyNowEnabled = true
	}
}

func (f *fixture) bids() BidService {
	return NewBidService(f.deps, f.settings)
}

func (f *fixture) auctions(users client.UserDirectory) AuctionService {
	return NewAuctionService(f.deps, f.settings, NewOrderCreator(f.deps.Orders, f.deps.Outbox, f.clock, f.settings.Rules.PaymentWindow), users)
}

func (f *fixture) buyNow() BuyNowService {
	return NewBuyNowService(f.deps, f.settings)
}

func (f *fixture) orders() OrderService {
	return NewOrderService(f.deps, f.settings)
}
