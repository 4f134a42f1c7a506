package sqlxtrace

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/trace"
)

// Stmt is a prepared statement that spans its executions with the query
// text it was prepared from.
type Stmt struct {
	*sqlx.Stmt

	cfg   *config
	query string
}

// Query returns the SQL text the statement was prepared from.
func (s *Stmt) Query() string { return s.query }

// ExecContext executes the prepared statement.
func (s *Stmt) ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error) {
	return s.cfg.tracedExecCall(ctx, SpanExecute, s.query, func(ctx context.Context) (sql.Result, error) {
		return s.Stmt.ExecContext(ctx, args...)
	})
}

// QueryxContext runs the prepared statement as a streaming query. The
// span ends when the returned Rows are closed.
func (s *Stmt) QueryxContext(ctx context.Context, args ...interface{}) (*Rows, error) {
	return s.cfg.tracedRows(ctx, SpanFetch, s.query, func(ctx context.Context) (*sqlx.Rows, error) {
		return s.Stmt.QueryxContext(ctx, args...)
	})
}

// GetContext runs the prepared statement and scans exactly one row into
// dest. A missing row reports sql.ErrNoRows.
func (s *Stmt) GetContext(ctx context.Context, dest interface{}, args ...interface{}) error {
	return s.cfg.tracedCall(ctx, SpanFetchOne, s.query, func(ctx context.Context) error {
		return s.Stmt.GetContext(ctx, dest, args...)
	}, func(span trace.Span) {
		recordReturnedRows(span, 1)
	})
}

// SelectContext runs the prepared statement and scans all rows into the
// slice pointed to by dest.
func (s *Stmt) SelectContext(ctx context.Context, dest interface{}, args ...interface{}) error {
	prior := destLen(dest)
	return s.cfg.tracedCall(ctx, SpanFetchAll, s.query, func(ctx context.Context) error {
		return s.Stmt.SelectContext(ctx, dest, args...)
	}, func(span trace.Span) {
		recordReturnedRows(span, destLen(dest)-prior)
	})
}
