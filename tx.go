package sqlxtrace

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Tx is a transaction spanning the same query surface as the Pool it
// was started from. It keeps the context it was begun with so that the
// commit and rollback spans land in the same trace.
type Tx struct {
	*sqlx.Tx

	cfg *config
	ctx context.Context
}

func (t *Tx) exec() executor { return executor{q: t.Tx, cfg: t.cfg} }

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.cfg.tracedOp(t.ctx, SpanTxCommit, func(context.Context) error {
		return t.Tx.Commit()
	})
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	return t.cfg.tracedOp(t.ctx, SpanTxRollback, func(context.Context) error {
		return t.Tx.Rollback()
	})
}

// ExecContext executes a statement that returns no rows.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.exec().execute(ctx, query, args...)
}

// ExecManyContext executes the same statement once per argument set
// inside a single span, stopping at the first failure.
func (t *Tx) ExecManyContext(ctx context.Context, query string, argSets [][]interface{}) ([]sql.Result, error) {
	return t.exec().executeMany(ctx, query, argSets)
}

// QueryxContext runs a streaming query whose span stays open until the
// returned Rows are closed.
func (t *Tx) QueryxContext(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	return t.exec().fetch(ctx, SpanFetch, query, args...)
}

// QueryManyContext is QueryxContext for bounded reads.
func (t *Tx) QueryManyContext(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	return t.exec().fetch(ctx, SpanFetchMany, query, args...)
}

// QueryRowxContext runs a query expected to return at most one row.
func (t *Tx) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return t.exec().fetchRow(ctx, query, args...)
}

// GetContext runs a query and scans exactly one row into dest.
func (t *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return t.exec().fetchOne(ctx, dest, query, args...)
}

// GetOptionalContext runs a query that may match nothing. It reports
// whether a row was found; a missing row is not an error.
func (t *Tx) GetOptionalContext(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	return t.exec().fetchOptional(ctx, dest, query, args...)
}

// SelectContext runs a query and scans all rows into the slice pointed
// to by dest.
func (t *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return t.exec().fetchAll(ctx, dest, query, args...)
}

// DescribeContext executes the statement and reports the shape of its
// result set without consuming rows.
func (t *Tx) DescribeContext(ctx context.Context, query string, args ...interface{}) (*Description, error) {
	return t.exec().describe(ctx, query, args...)
}

// PreparexContext prepares a statement scoped to the transaction.
func (t *Tx) PreparexContext(ctx context.Context, query string) (*Stmt, error) {
	return t.exec().prepare(ctx, SpanPrepare, query)
}

// PrepareWithContext rewrites the query's bindvars for the driver before
// preparing it within the transaction.
func (t *Tx) PrepareWithContext(ctx context.Context, query string) (*Stmt, error) {
	return t.exec().prepare(ctx, SpanPrepareWith, t.Tx.Rebind(query))
}

// NamedExecContext executes a statement with named parameters bound
// from arg.
func (t *Tx) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	return t.cfg.tracedExecCall(ctx, SpanExecute, query, func(ctx context.Context) (sql.Result, error) {
		return t.Tx.NamedExecContext(ctx, query, arg)
	})
}
