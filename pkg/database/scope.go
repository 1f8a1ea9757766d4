package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoScope is returned by repositories called without a scope in context.
var ErrNoScope = errors.New("no database scope in context")

// Querier is the statement surface shared by a pooled connection and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Scope is one acquired connection carried through a request or job.
// While a transaction is open on it, statements run inside that transaction.
type Scope struct {
	Conn *pgxpool.Conn
	tx   pgx.Tx
}

// Querier returns the open transaction if there is one, otherwise the connection.
func (s *Scope) Querier() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.Conn
}

// Close releases the connection to the pool.
// This MUST be called, normally with defer, once the scope is no longer needed.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}

// Acquire takes a connection from the pool and wraps it in a Scope.
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}

type contextKey string

// ScopeKey is the context key for storing the request database scope.
const ScopeKey contextKey = "dbScope"

// GetScope retrieves the database scope from context.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil
}

// SetScope stores the database scope in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// QuerierFromContext returns the statement target for the scope in ctx.
func QuerierFromContext(ctx context.Context) (Querier, error) {
	scope, ok := GetScope(ctx)
	if !ok {
		return nil, ErrNoScope
	}
	return scope.Querier(), nil
}

// InTx runs fn inside a transaction on the scope in ctx. Repositories called
// from fn with the returned context execute inside that transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	scope, ok := GetScope(ctx)
	if !ok {
		return ErrNoScope
	}
	if scope.tx != nil {
		return fn(ctx)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txScope := &Scope{Conn: scope.Conn, tx: tx}

	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(SetScope(ctx, txScope)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ScopeProvider creates scoped contexts for work that does not start from an
// HTTP request, such as queue consumers and the reconciliation sweeper.
type ScopeProvider interface {
	WithScope(ctx context.Context) (context.Context, func(), error)
}

type poolScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) ScopeProvider {
	return &poolScopeProvider{db: db}
}

// WithScope returns a context holding a fresh scope and its cleanup function.
func (p *poolScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}

// TxManager runs work inside a transaction on the scope in ctx.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type scopeTxManager struct{}

// NewTxManager returns a TxManager backed by InTx.
func NewTxManager() TxManager {
	return scopeTxManager{}
}

func (scopeTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return InTx(ctx, fn)
}
