// Package store wraps db.Querier with transaction support and groups the
// multi-step dispatch run writes that must execute atomically.
//
// Single-query reads (GetDispatchRun, ListPendingDispatchRuns, etc.) should be
// called directly on db.Querier via Q().
//
// Dependency rule: store imports db only. It never imports api, worker,
// bulkmail or email.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nyashahama/bulk-mail-dispatcher/internal/db"
)

// Store holds a *sql.DB for starting transactions and a db.Querier for
// executing queries outside of transactions. runs.go attaches the dispatch
// run operations to this type.
type Store struct {
	// pool is the raw connection pool, used only to begin transactions.
	pool *sql.DB

	// q is the Querier used for non-transactional calls.
	q db.Querier
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified (e.g. via db.PingContext) before calling New.
func New(pool *sql.DB, q db.Querier) *Store {
	return &Store{pool: pool, q: q}
}

// Q exposes the underlying Querier for single-query reads.
//
//	run, err := s.Q().GetDispatchRun(ctx, id)
func (s *Store) Q() db.Querier {
	return s.q
}

// txQuerier receives a transactional Querier. Returning a non-nil error causes
// withTx to roll back.
type txQuerier func(ctx context.Context, q db.Querier) error

// withTx begins a transaction, passes a Querier scoped to that transaction to
// fn, and commits on success or rolls back on any error (including panics).
//
// Serializable isolation is used because run creation reads the template
// before inserting and claiming is a conditional update.
func (s *Store) withTx(ctx context.Context, fn txQuerier) error {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var txQ db.Querier
	if qs, ok := s.q.(*db.Queries); ok {
		txQ = qs.WithTx(tx)
	} else {
		txQ = db.New(tx)
	}

	if err := fn(ctx, txQ); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: fn error: %w; rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
