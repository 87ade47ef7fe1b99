package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type txScope struct {
	tx          pgx.Tx
	afterCommit []func(context.Context)
}

// Transactor runs callbacks inside a PostgreSQL transaction carried on the context.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor creates a Transactor over the pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTransaction executes fn inside a transaction. It commits when fn returns nil and
// rolls back on any error or panic. A nested call joins the outer transaction.
// After-commit hooks run only once the outermost transaction has committed.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*txScope); ok {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	scope := &txScope{tx: tx}
	txCtx := context.WithValue(ctx, txKey{}, scope)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, hook := range scope.afterCommit {
		hook(ctx)
	}
	return nil
}

// InTransaction reports whether ctx carries an open transaction.
func (t *Transactor) InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txScope)
	return ok
}

// AfterCommit registers fn to run after the transaction on ctx commits.
// It returns false when ctx carries no transaction.
func (t *Transactor) AfterCommit(ctx context.Context, fn func(context.Context)) bool {
	scope, ok := ctx.Value(txKey{}).(*txScope)
	if !ok {
		return false
	}
	scope.afterCommit = append(scope.afterCommit, fn)
	return true
}

// Conn returns the transaction on ctx, or the pool when there is none.
func (t *Transactor) Conn(ctx context.Context) DBTX {
	if scope, ok := ctx.Value(txKey{}).(*txScope); ok {
		return scope.tx
	}
	return t.pool
}
