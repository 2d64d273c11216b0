package testsuite

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FakeTx stands in for pgx.Tx in unit tests. Exec records the statement and
// reports one affected row. Unimplemented methods panic
// through the nil embedded interface. Commit and Rollback run the callbacks
// registered by fake repositories, which is how they release row locks and
// apply staged writes.
type FakeTx struct {
	pgx.Tx

	CommitErr error

	mu         sync.Mutex
	closed     bool
	committed  bool
	rolledBack bool
	onCommit   []func()
	onEnd      []func()
	onRollback []func()
	statements []string
	parent     *FakeTx
}

func NewFakeTx() *FakeTx {
	return &FakeTx{}
}

// OnCommit runs fn when the outermost transaction commits.
func (t *FakeTx) OnCommit(fn func()) {
	root := t.root()

	root.mu.Lock()
	defer root.mu.Unlock()

	root.onCommit = append(root.onCommit, fn)
}

// OnEnd runs fn after the outermost transaction commits or rolls back.
func (t *FakeTx) OnEnd(fn func()) {
	root := t.root()

	root.mu.Lock()
	defer root.mu.Unlock()

	root.onEnd = append(root.onEnd, fn)
}

// OnRollback runs fn when this transaction or savepoint itself rolls back.
func (t *FakeTx) OnRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onRollback = append(t.onRollback, fn)
}

func (t *FakeTx) Begin(_ context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, pgx.ErrTxClosed
	}

	return &FakeTx{parent: t}, nil
}

func (t *FakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	root := t.root()

	root.mu.Lock()
	defer root.mu.Unlock()

	root.statements = append(root.statements, sql)

	return pgconn.NewCommandTag("EXEC 1"), nil
}

func (t *FakeTx) Commit(_ context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	if t.CommitErr != nil {
		t.mu.Unlock()
		return t.CommitErr
	}
	t.closed = true
	t.committed = true
	t.mu.Unlock()

	if t.parent == nil {
		t.finish(true)
	}

	return nil
}

func (t *FakeTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.rolledBack = true
	onRollback := t.onRollback
	t.onRollback = nil
	t.mu.Unlock()

	for i := len(onRollback) - 1; i >= 0; i-- {
		onRollback[i]()
	}

	if t.parent == nil {
		t.finish(false)
	}

	return nil
}

func (t *FakeTx) finish(committed bool) {
	t.mu.Lock()
	onCommit := t.onCommit
	onEnd := t.onEnd
	t.onCommit, t.onEnd = nil, nil
	t.mu.Unlock()

	if committed {
		for _, fn := range onCommit {
			fn()
		}
	}

	for _, fn := range onEnd {
		fn()
	}
}

func (t *FakeTx) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.committed
}

func (t *FakeTx) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rolledBack
}

func (t *FakeTx) Statements() []string {
	root := t.root()

	root.mu.Lock()
	defer root.mu.Unlock()

	return append([]string(nil), root.statements...)
}

func (t *FakeTx) root() *FakeTx {
	r := t
	for r.parent != nil {
		r = r.parent
	}

	return r
}

// FakeBeginner hands out FakeTx values and keeps them for inspection.
type FakeBeginner struct {
	BeginErr error

	mu  sync.Mutex
	txs []*FakeTx
}

func (b *FakeBeginner) Begin(_ context.Context) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.BeginErr != nil {
		return nil, b.BeginErr
	}

	tx := NewFakeTx()
	b.txs = append(b.txs, tx)

	return tx, nil
}

func (b *FakeBeginner) Txs() []*FakeTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]*FakeTx(nil), b.txs...)
}

func (b *FakeBeginner) Committed() int {
	n := 0
	for _, tx := range b.Txs() {
		if tx.Committed() {
			n++
		}
	}

	return n
}

// AsFake unwraps a pgx.Tx handed out by FakeBeginner or FakeTx.Begin.
func AsFake(tx pgx.Tx) *FakeTx {
	fake, ok := tx.(*FakeTx)
	if !ok {
		panic("testsuite: transaction is not a *FakeTx")
	}

	return fake
}
