package sqlxtrace

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
)

// Pool wraps an *sqlx.DB so that every query, acquisition and lifecycle
// operation runs inside a client span carrying the pool's attribute set.
// Build one with a Builder; the attribute set is shared by reference
// with every Conn and Tx derived from the pool.
type Pool struct {
	*sqlx.DB

	cfg    *config
	closed atomic.Bool
}

func (p *Pool) exec() executor { return executor{q: p.DB, cfg: p.cfg} }

// Attributes returns the frozen attribute set the pool spans with.
func (p *Pool) Attributes() *Attributes { return p.cfg.attrs }

// Acquire checks a single connection out of the pool, blocking until one
// is available or ctx is done. The wait is covered by a span.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	var conn *sqlx.Conn
	err := p.cfg.tracedOp(ctx, SpanPoolAcquire, func(ctx context.Context) error {
		var acquireErr error
		conn, acquireErr = p.DB.Connx(ctx)
		return acquireErr
	})
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, cfg: p.cfg}, nil
}

// tryAcquireTimeout bounds the checkout in TryAcquire for the window
// where another caller takes the last connection between the stats read
// and the checkout.
const tryAcquireTimeout = 100 * time.Millisecond

// TryAcquire checks a connection out only if the pool is not saturated,
// reporting false instead of blocking. database/sql has no non-blocking
// checkout, so saturation is judged from pool statistics: no idle
// connections with the pool at its open-connection limit. A checkout
// that still ends up waiting is cut off after tryAcquireTimeout and
// reported as absent.
func (p *Pool) TryAcquire() (*Conn, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), tryAcquireTimeout)
	defer cancel()

	ctx, span := p.cfg.startOpSpan(ctx, SpanPoolAcquire)
	defer span.End()

	stats := p.DB.Stats()
	if stats.Idle == 0 && stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		return nil, false
	}

	conn, err := p.DB.Connx(ctx)
	if err != nil {
		p.cfg.recordSpanError(span, err)
		return nil, false
	}
	return &Conn{Conn: conn, cfg: p.cfg}, true
}

// Close closes the pool and waits for outstanding connections to drain,
// up to ctx's deadline. The closed flag flips only once the drain
// completes, so a Close that timed out can be retried. Closing a closed
// pool is a no-op.
func (p *Pool) Close(ctx context.Context) error {
	if p.closed.Load() {
		return nil
	}
	err := p.cfg.tracedOp(ctx, SpanPoolClose, func(ctx context.Context) error {
		if err := p.DB.Close(); err != nil {
			return err
		}
		// sql.DB.Close does not wait for checked-out connections.
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for p.DB.Stats().OpenConnections > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		return nil
	})
	if err == nil {
		p.closed.Store(true)
	}
	return err
}

// IsClosed reports whether Close has completed.
func (p *Pool) IsClosed() bool { return p.closed.Load() }

// Size reports the number of connections currently open, in use or idle.
func (p *Pool) Size() int { return p.DB.Stats().OpenConnections }

// NumIdle reports the number of idle connections in the pool.
func (p *Pool) NumIdle() int { return p.DB.Stats().Idle }

// PingContext verifies the database is reachable.
func (p *Pool) PingContext(ctx context.Context) error {
	return p.cfg.tracedOp(ctx, SpanConnPing, func(ctx context.Context) error {
		return p.DB.PingContext(ctx)
	})
}

// BeginTxx starts a transaction with the given options. The returned Tx
// keeps ctx for spanning its commit or rollback.
func (p *Pool) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	var tx *sqlx.Tx
	err := p.cfg.tracedOp(ctx, SpanTxBegin, func(ctx context.Context) error {
		var beginErr error
		tx, beginErr = p.DB.BeginTxx(ctx, opts)
		return beginErr
	})
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, cfg: p.cfg, ctx: ctx}, nil
}

// Beginx starts a transaction with default options.
func (p *Pool) Beginx(ctx context.Context) (*Tx, error) {
	return p.BeginTxx(ctx, nil)
}

// ExecContext executes a statement that returns no rows.
func (p *Pool) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return p.exec().execute(ctx, query, args...)
}

// ExecManyContext executes the same statement once per argument set
// inside a single span, stopping at the first failure.
func (p *Pool) ExecManyContext(ctx context.Context, query string, argSets [][]interface{}) ([]sql.Result, error) {
	return p.exec().executeMany(ctx, query, argSets)
}

// QueryContext runs a query and returns the raw *sql.Rows. The span
// covers only the call; prefer QueryxContext for spans that cover
// iteration.
func (p *Pool) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := p.cfg.tracedCall(ctx, SpanFetch, query, func(ctx context.Context) error {
		var queryErr error
		rows, queryErr = p.DB.QueryContext(ctx, query, args...)
		return queryErr
	}, nil)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryxContext runs a streaming query whose span stays open until the
// returned Rows are closed.
func (p *Pool) QueryxContext(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	return p.exec().fetch(ctx, SpanFetch, query, args...)
}

// QueryManyContext is QueryxContext for reads the caller intends to
// consume only a bounded prefix of; the span is named accordingly.
func (p *Pool) QueryManyContext(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	return p.exec().fetch(ctx, SpanFetchMany, query, args...)
}

// QueryRowxContext runs a query expected to return at most one row.
func (p *Pool) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return p.exec().fetchRow(ctx, query, args...)
}

// QueryRowContext runs a query expected to return at most one row.
func (p *Pool) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := p.cfg.startQuerySpan(ctx, SpanFetchOne, query)
	defer span.End()
	return p.DB.QueryRowContext(ctx, query, args...)
}

// GetContext runs a query and scans exactly one row into dest. A
// missing row reports sql.ErrNoRows, recorded as a client error.
func (p *Pool) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return p.exec().fetchOne(ctx, dest, query, args...)
}

// GetOptionalContext runs a query that may match nothing. It reports
// whether a row was found; a missing row is not an error.
func (p *Pool) GetOptionalContext(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	return p.exec().fetchOptional(ctx, dest, query, args...)
}

// SelectContext runs a query and scans all rows into the slice pointed
// to by dest. The span records the number of rows returned.
func (p *Pool) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return p.exec().fetchAll(ctx, dest, query, args...)
}

// DescribeContext executes the statement and reports the columns and
// column types of its result set without consuming rows.
func (p *Pool) DescribeContext(ctx context.Context, query string, args ...interface{}) (*Description, error) {
	return p.exec().describe(ctx, query, args...)
}

// PreparexContext prepares a statement whose executions are spanned
// with the query text.
func (p *Pool) PreparexContext(ctx context.Context, query string) (*Stmt, error) {
	return p.exec().prepare(ctx, SpanPrepare, query)
}

// PrepareWithContext rewrites the query's bindvars for the pool's driver
// (via Rebind) before preparing it.
func (p *Pool) PrepareWithContext(ctx context.Context, query string) (*Stmt, error) {
	return p.exec().prepare(ctx, SpanPrepareWith, p.DB.Rebind(query))
}

// NamedExecContext executes a statement with named parameters bound
// from arg.
func (p *Pool) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	return p.cfg.tracedExecCall(ctx, SpanExecute, query, func(ctx context.Context) (sql.Result, error) {
		return p.DB.NamedExecContext(ctx, query, arg)
	})
}

// NamedQueryContext runs a streaming query with named parameters bound
// from arg. The span ends when the returned Rows are closed.
func (p *Pool) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*Rows, error) {
	return p.cfg.tracedRows(ctx, SpanFetch, query, func(ctx context.Context) (*sqlx.Rows, error) {
		return p.DB.NamedQueryContext(ctx, query, arg)
	})
}
