// Package testutil provides a pgx.Tx stand-in for exercising transactional
// service code against in-memory fakes.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoSQL is returned when code under test sends raw SQL through a fake transaction.
var ErrNoSQL = errors.New("testutil: fake transaction does not execute SQL")

// Tx satisfies pgx.Tx. Fakes register undo functions against it so that a
// rollback restores their state, and finish hooks that run on commit or
// rollback (used to release emulated row locks).
type Tx struct {
	mu         sync.Mutex
	parent     *Tx
	undo       []func()
	finish     []func()
	done       bool
	Committed  bool
	RolledBack bool
	CommitErr  error
}

var _ pgx.Tx = (*Tx)(nil)

// OnRollback registers fn to run if the transaction is rolled back.
func (t *Tx) OnRollback(fn func()) {
	t.mu.Lock()
	t.undo = append(t.undo, fn)
	t.mu.Unlock()
}

// OnFinish registers fn to run once the transaction commits or rolls back.
func (t *Tx) OnFinish(fn func()) {
	t.mu.Lock()
	t.finish = append(t.finish, fn)
	t.mu.Unlock()
}

// Undo registers fn on tx when tx is a *Tx and is a no-op otherwise.
func Undo(tx pgx.Tx, fn func()) {
	if t, ok := tx.(*Tx); ok {
		t.OnRollback(fn)
	}
}

// Finish registers fn on tx when tx is a *Tx. For any other tx fn runs immediately.
func Finish(tx pgx.Tx, fn func()) {
	if t, ok := tx.(*Tx); ok {
		t.OnFinish(fn)
		return
	}
	fn()
}

// Begin opens a savepoint. Committing it hands its undo and finish hooks to
// the parent; rolling it back runs them and leaves the parent open.
func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return &Tx{parent: t}, nil }

func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	if t.CommitErr != nil {
		t.mu.Unlock()
		return t.Rollback(ctx)
	}
	t.done = true
	t.Committed = true
	undo, finish := t.undo, t.finish
	t.undo, t.finish = nil, nil
	t.mu.Unlock()
	if t.parent != nil {
		for _, fn := range undo {
			t.parent.OnRollback(fn)
		}
		for _, fn := range finish {
			t.parent.OnFinish(fn)
		}
		return nil
	}
	for _, fn := range finish {
		fn()
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.done = true
	t.RolledBack = true
	undo, finish := t.undo, t.finish
	t.undo, t.finish = nil, nil
	commitErr := t.CommitErr
	t.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	for _, fn := range finish {
		fn()
	}
	return commitErr
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrNoSQL
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, ErrNoSQL }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return errRow{} }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, ErrNoSQL
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, ErrNoSQL
}
func (t *Tx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(...any) error { return ErrNoSQL }

// Beginner hands out fresh fake transactions and keeps them for inspection.
type Beginner struct {
	mu       sync.Mutex
	Txs      []*Tx
	BeginErr error
}

func (b *Beginner) Begin(context.Context) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BeginErr != nil {
		return nil, b.BeginErr
	}
	tx := &Tx{}
	b.Txs = append(b.Txs, tx)
	return tx, nil
}

// Last returns the most recently begun transaction, or nil.
func (b *Beginner) Last() *Tx {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Txs) == 0 {
		return nil
	}
	return b.Txs[len(b.Txs)-1]
}
