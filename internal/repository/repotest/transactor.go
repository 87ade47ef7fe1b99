// Package repotest provides in-memory stand-ins for the repository layer's
// PostgreSQL dependencies so services can be tested without a database.
package repotest

import (
	"context"
	"sync"
)

type txKey struct{}

type txScope struct {
	afterCommit []func(context.Context)
}

type snapshotter interface {
	snapshot() any
	restore(any)
}

// Transactor serializes transactions with a single lock, which gives every
// transaction the isolation a FOR UPDATE row lock would. A failed transaction
// restores every registered store to its state at begin.
type Transactor struct {
	lock   sync.Mutex
	mu     sync.Mutex
	stores []snapshotter

	// Commits counts successfully committed outermost transactions.
	Commits int
	// Rollbacks counts rolled back outermost transactions.
	Rollbacks int
	// FailCommit, when set, is returned in place of a commit: fn runs to
	// completion and its writes are rolled back, as when COMMIT itself fails.
	FailCommit error
}

// NewTransactor creates an in-memory Transactor.
func NewTransactor() *Transactor {
	return &Transactor{}
}

func (t *Transactor) register(s snapshotter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stores = append(t.stores, s)
}

// WithinTransaction runs fn with a transaction on the context. Nested calls join.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if t.InTransaction(ctx) {
		return fn(ctx)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.mu.Lock()
	snaps := make([]any, len(t.stores))
	for i, s := range t.stores {
		snaps[i] = s.snapshot()
	}
	stores := append([]snapshotter(nil), t.stores...)
	t.mu.Unlock()

	rollback := func() {
		for i, s := range stores {
			s.restore(snaps[i])
		}
		t.Rollbacks++
	}

	scope := &txScope{}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, scope)); err != nil {
		rollback()
		return err
	}
	if t.FailCommit != nil {
		rollback()
		return t.FailCommit
	}
	t.Commits++

	for _, hook := range scope.afterCommit {
		hook(ctx)
	}
	return nil
}

// InTransaction reports whether ctx carries a transaction.
func (t *Transactor) InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txScope)
	return ok
}

// AfterCommit queues fn to run after the outermost transaction commits.
func (t *Transactor) AfterCommit(ctx context.Context, fn func(context.Context)) bool {
	scope, ok := ctx.Value(txKey{}).(*txScope)
	if !ok {
		return false
	}
	scope.afterCommit = append(scope.afterCommit, fn)
	return true
}
