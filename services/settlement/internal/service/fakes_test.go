package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sakashimaa/go-auction/pkg/clock"
	"github.com/sakashimaa/go-auction/pkg/metrics"
	outboxDomain "github.com/sakashimaa/go-auction/pkg/outbox/domain"
	"github.com/sakashimaa/go-auction/pkg/testsuite"
	"github.com/sakashimaa/go-auction/services/settlement/internal/client"
	"github.com/sakashimaa/go-auction/services/settlement/internal/domain"
	"github.com/sakashimaa/go-auction/services/settlement/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	t0           = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	errOneOpen   = errors.New("duplicate key value violates unique constraint \"uq_settlements_one_open\"")
	errItemTaken = errors.New("duplicate key value violates unique constraint \"settlement_items_candidate_id_key\"")
)

const week = 7 * 24 * time.Hour

type undoEntry struct {
	once sync.Once
	kept bool
	undo func()
}

func (e *undoEntry) run() {
	e.once.Do(e.undo)
}

// store applies writes immediately. A write made through a savepoint is
// undone when that savepoint rolls back; any write is undone when the
// outermost transaction does not commit.
type store struct {
	mu          sync.Mutex
	nextID      int64
	candidates  map[int64]*domain.SettlementCandidatedItem
	settlements map[int64]*domain.Settlement
	items       map[int64]*domain.SettlementItem
	outbox      map[int64]*outboxDomain.OutboxEvent

	addItemErr map[int64]error
}

func newStore() *store {
	return &store{
		candidates:  make(map[int64]*domain.SettlementCandidatedItem),
		settlements: make(map[int64]*domain.Settlement),
		items:       make(map[int64]*domain.SettlementItem),
		outbox:      make(map[int64]*outboxDomain.OutboxEvent),
		addItemErr:  make(map[int64]error),
	}
}

// caller holds st.mu
func (st *store) id() int64 {
	st.nextID++
	return st.nextID
}

func (st *store) track(tx pgx.Tx, undo func()) {
	ft := testsuite.AsFake(tx)
	e := &undoEntry{undo: func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		undo()
	}}

	ft.OnRollback(e.run)
	ft.OnCommit(func() { e.kept = true })
	ft.OnEnd(func() {
		if !e.kept {
			e.run()
		}
	})
}

func (st *store) seedCandidate(payeeID, orderID, amount int64) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := st.id()
	st.candidates[id] = &domain.SettlementCandidatedItem{
		ID:        id,
		PayeeID:   payeeID,
		OrderID:   orderID,
		Kind:      domain.CandidateKindReceivable,
		Amount:    amount,
		Status:    domain.CandidateStatusPending,
		CreatedAt: t0,
	}

	return id
}

func (st *store) seedSettlement(payeeID, total int64, periodEnd time.Time) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := domain.OpenSettlement(payeeID, periodEnd.Add(-week), week)
	s.ID = st.id()
	s.TotalAmount = total
	st.settlements[s.ID] = s

	return s.ID
}

func (st *store) candidate(t *testing.T, id int64) domain.SettlementCandidatedItem {
	t.Helper()

	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.candidates[id]
	require.True(t, ok, "candidate %d", id)

	return *c
}

func (st *store) settlement(t *testing.T, id int64) domain.Settlement {
	t.Helper()

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.settlements[id]
	require.True(t, ok, "settlement %d", id)

	return *s
}

func (st *store) openOf(payeeID int64) *domain.Settlement {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, s := range st.settlements {
		if s.PayeeID == payeeID && s.Status == domain.SettlementStatusOpen {
			cp := *s
			return &cp
		}
	}

	return nil
}

func (st *store) itemCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	return len(st.items)
}

func (st *store) events(eventType string) []*outboxDomain.OutboxEvent {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*outboxDomain.OutboxEvent
	for _, e := range st.outbox {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

type fakeCandidates struct{ st *store }

func (f fakeCandidates) Create(_ context.Context, tx pgx.Tx, c *domain.SettlementCandidatedItem) (bool, error) {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.candidates {
		if existing.OrderID == c.OrderID && existing.Kind == c.Kind {
			return false, nil
		}
	}

	c.ID = st.id()
	cp := *c
	st.candidates[c.ID] = &cp

	id := c.ID
	st.track(tx, func() { delete(st.candidates, id) })

	return true, nil
}

func (f fakeCandidates) ListPending(_ context.Context, _ pgx.Tx, afterID int64, limit int) ([]*domain.SettlementCandidatedItem, error) {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*domain.SettlementCandidatedItem
	for _, c := range st.candidates {
		if c.Status == domain.CandidateStatusPending && c.ID > afterID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (f fakeCandidates) MarkCollected(_ context.Context, tx pgx.Tx, id int64, at time.Time) error {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.candidates[id]
	if !ok || c.Status != domain.CandidateStatusPending {
		return fmt.Errorf("%w: pending candidate %d", repository.ErrCandidateNotFound, id)
	}

	prev := *c
	c.Status = domain.CandidateStatusCollected
	c.CollectedAt = &at
	st.track(tx, func() { *c = prev })

	return nil
}

type fakeSettlements struct{ st *store }

func (f fakeSettlements) Create(_ context.Context, tx pgx.Tx, s *domain.Settlement) error {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.settlements {
		if existing.PayeeID == s.PayeeID && existing.Status == domain.SettlementStatusOpen {
			return errOneOpen
		}
	}

	s.ID = st.id()
	cp := *s
	st.settlements[s.ID] = &cp

	id := s.ID
	st.track(tx, func() { delete(st.settlements, id) })

	return nil
}

func (f fakeSettlements) LockOpenByPayee(_ context.Context, _ pgx.Tx, payeeID int64) (*domain.Settlement, error) {
	return f.st.openOf(payeeID), nil
}

func (f fakeSettlements) LockByID(_ context.Context, _ pgx.Tx, id int64) (*domain.Settlement, error) {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.settlements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", repository.ErrSettlementNotFound, id)
	}
	cp := *s

	return &cp, nil
}

func (f fakeSettlements) FindOpenByPayee(_ context.Context, payeeID int64) (*domain.Settlement, error) {
	s := f.st.openOf(payeeID)
	if s == nil {
		return nil, fmt.Errorf("%w: open settlement of payee %d", repository.ErrSettlementNotFound, payeeID)
	}

	return s, nil
}

func (f fakeSettlements) ListItems(_ context.Context, settlementID int64) ([]*domain.SettlementItem, error) {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []*domain.SettlementItem
	for _, item := range st.items {
		if item.SettlementID == settlementID {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (f fakeSettlements) ListDueOpen(_ context.Context, now time.Time, afterID int64, limit int) ([]int64, error) {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	var ids []int64
	for _, s := range st.settlements {
		if s.Status == domain.SettlementStatusOpen && !s.PeriodEnd.After(now) && s.ID > afterID {
			ids = append(ids, s.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

func (f fakeSettlements) AddItem(_ context.Context, tx pgx.Tx, item *domain.SettlementItem) error {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.addItemErr[item.CandidateID]; err != nil {
		return err
	}
	for _, existing := range st.items {
		if existing.CandidateID == item.CandidateID {
			return errItemTaken
		}
	}

	item.ID = st.id()
	cp := *item
	st.items[item.ID] = &cp

	id := item.ID
	st.track(tx, func() { delete(st.items, id) })

	return nil
}

func (f fakeSettlements) UpdateTotal(_ context.Context, tx pgx.Tx, s *domain.Settlement) error {
	return f.update(tx, s.ID, func(stored *domain.Settlement) {
		stored.TotalAmount = s.TotalAmount
		stored.UpdatedAt = s.UpdatedAt
	})
}

func (f fakeSettlements) MarkSettled(_ context.Context, tx pgx.Tx, s *domain.Settlement) error {
	return f.update(tx, s.ID, func(stored *domain.Settlement) {
		stored.Status = s.Status
		stored.PayoutRef = s.PayoutRef
		stored.SettledAt = s.SettledAt
		stored.UpdatedAt = s.UpdatedAt
	})
}

func (f fakeSettlements) update(tx pgx.Tx, id int64, apply func(stored *domain.Settlement)) error {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	stored, ok := st.settlements[id]
	if !ok || stored.Status != domain.SettlementStatusOpen {
		return fmt.Errorf("%w: open settlement %d", repository.ErrSettlementNotFound, id)
	}

	prev := *stored
	apply(stored)
	st.track(tx, func() { *stored = prev })

	return nil
}

type fakeOutbox struct{ st *store }

func (f fakeOutbox) SaveOutboxEvent(_ context.Context, tx pgx.Tx, event *outboxDomain.OutboxEvent) error {
	st := f.st
	st.mu.Lock()
	defer st.mu.Unlock()

	event.ID = st.id()
	st.outbox[event.ID] = event

	id := event.ID
	st.track(tx, func() { delete(st.outbox, id) })

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

type fakePayouts struct {
	mu    sync.Mutex
	calls []client.PayoutRequest
	fail  map[int64]error
}

func (p *fakePayouts) Payout(_ context.Context, req client.PayoutRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)
	if err := p.fail[req.PayeeID]; err != nil {
		return "", err
	}

	return fmt.Sprintf("po-%d", req.SettlementID), nil
}

type fixture struct {
	st       *store
	beginner *testsuite.FakeBeginner
	clock    *clock.Manual
	payouts  *fakePayouts
	metrics  *metrics.Settlement
	deps     Deps
	settings Settings
}

func newFixture(t *testing.T, chunkSize int) *fixture {
	t.Helper()

	commission, err := domain.ParseCommission("0.05")
	require.NoError(t, err)

	st := newStore()
	f := &fixture{
		st:       st,
		beginner: &testsuite.FakeBeginner{},
		clock:    clock.NewManual(t0),
		payouts:  &fakePayouts{fail: make(map[int64]error)},
		metrics:  metrics.NewSettlement(prometheus.NewRegistry()),
	}

	f.deps = Deps{
		DB:          f.beginner,
		Candidates:  fakeCandidates{st: st},
		Settlements: fakeSettlements{st: st},
		Outbox:      fakeOutbox{st: st},
		Payouts:     f.payouts,
		Clock:       f.clock,
		Metrics:     f.metrics,
		Logger:      zap.NewNop(),
	}
	f.settings = Settings{ChunkSize: chunkSize, Period: week, Commission: commission}

	return f
}

func (f *fixture) batch() BatchService {
	return NewBatchService(f.deps, f.settings)
}

func (f *fixture) ingest() IngestService {
	return NewIngestService(f.deps, f.settings)
}
