// Package store is the transactional persistence layer (C2). It wraps
// jackc/pgx/v5 with a hand-written query surface in the shape of a
// sqlc-generated store: typed params/rows, one method per query, and
// pgx.Tx-scoped variants for multi-statement transactions.
//
// Every tenant-scoped method requires a tenant schema to already be set on
// the connection (via WithTenant) — the zero-value schema is refused so a
// caller cannot accidentally issue an unscoped query against shared tables.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx, letting
// query methods run directly against the pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the root handle for the transactional store.
type Store struct {
	Pool *pgxpool.Pool
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Tx runs fn inside a single read-committed transaction, committing if fn
// returns nil and rolling back otherwise. All writes that cross entities
// (post status + publication + event) must go through Tx.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// WithTenant acquires a dedicated connection and sets search_path to the
// tenant's schema, refusing to proceed for an empty schema. The returned
// connection must be released by the caller.
func (s *Store) WithTenant(ctx context.Context, schema string) (*pgxpool.Conn, error) {
	if schema == "" {
		return nil, fmt.Errorf("store: refusing tenant-scoped query with empty schema")
	}
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", schema+", public"); err != nil {
		conn.Release()
		return nil, fmt.Errorf("setting search_path to %s: %w", schema, err)
	}
	return conn, nil
}

// TxWithTenant runs fn inside a transaction on a connection scoped to the
// tenant's schema.
func (s *Store) TxWithTenant(ctx context.Context, schema string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if schema == "" {
		return fmt.Errorf("store: refusing tenant-scoped transaction with empty schema")
	}
	conn, err := s.WithTenant(ctx, schema)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
