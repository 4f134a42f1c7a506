package sqlxtrace

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Conn is a single connection checked out of a Pool. It spans the same
// query surface as the pool, pinned to one underlying connection, and
// shares the pool's attribute set. Return it with Close.
type Conn struct {
	*sqlx.Conn

	cfg *config
}

func (c *Conn) exec() executor { return executor{q: c.Conn, cfg: c.cfg} }

// PingContext verifies the connection is still alive.
func (c *Conn) PingContext(ctx context.Context) error {
	return c.cfg.tracedOp(ctx, SpanConnPing, func(ctx context.Context) error {
		return c.Conn.PingContext(ctx)
	})
}

// BeginTxx starts a transaction on this connection. The returned Tx
// keeps ctx for spanning its commit or rollback.
func (c *Conn) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	var tx *sqlx.Tx
	err := c.cfg.tracedOp(ctx, SpanTxBegin, func(ctx context.Context) error {
		var beginErr error
		tx, beginErr = c.Conn.BeginTxx(ctx, opts)
		return beginErr
	})
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, cfg: c.cfg, ctx: ctx}, nil
}

// Beginx starts a transaction with default options.
func (c *Conn) Beginx(ctx context.Context) (*Tx, error) {
	return c.BeginTxx(ctx, nil)
}

// ExecContext executes a statement that returns no rows.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.exec().execute(ctx, query, args...)
}

// ExecManyContext executes the same statement once per argument set
// inside a single span, stopping at the first failure.
func (c *Conn) ExecManyContext(ctx context.Context, query string, argSets [][]interface{}) ([]sql.Result, error) {
	return c.exec().executeMany(ctx, query, argSets)
}

// QueryxContext runs a streaming query whose span stays open until the
// returned Rows are closed.
func (c *Conn) QueryxContext(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	return c.exec().fetch(ctx, SpanFetch, query, args...)
}

// QueryManyContext is QueryxContext for bounded reads.
func (c *Conn) QueryManyContext(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	return c.exec().fetch(ctx, SpanFetchMany, query, args...)
}

// QueryRowxContext runs a query expected to return at most one row.
func (c *Conn) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return c.exec().fetchRow(ctx, query, args...)
}

// GetContext runs a query and scans exactly one row into dest.
func (c *Conn) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.exec().fetchOne(ctx, dest, query, args...)
}

// GetOptionalContext runs a query that may match nothing. It reports
// whether a row was found; a missing row is not an error.
func (c *Conn) GetOptionalContext(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	return c.exec().fetchOptional(ctx, dest, query, args...)
}

// SelectContext runs a query and scans all rows into the slice pointed
// to by dest.
func (c *Conn) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.exec().fetchAll(ctx, dest, query, args...)
}

// DescribeContext executes the statement and reports the shape of its
// result set without consuming rows.
func (c *Conn) DescribeContext(ctx context.Context, query string, args ...interface{}) (*Description, error) {
	return c.exec().describe(ctx, query, args...)
}

// PreparexContext prepares a statement on this connection.
func (c *Conn) PreparexContext(ctx context.Context, query string) (*Stmt, error) {
	return c.exec().prepare(ctx, SpanPrepare, query)
}

// PrepareWithContext rewrites the query's bindvars for the connection's
// driver before preparing it.
func (c *Conn) PrepareWithContext(ctx context.Context, query string) (*Stmt, error) {
	return c.exec().prepare(ctx, SpanPrepareWith, c.Conn.Rebind(query))
}
