package sqlxtrace

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/trace"
)

// querier is the query surface shared by *sqlx.DB, *sqlx.Conn and
// *sqlx.Tx. The executor instruments it; Named* helpers are not part of
// it because sqlx connections do not carry them.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	PreparexContext(ctx context.Context, query string) (*sqlx.Stmt, error)
	Rebind(query string) string
}

// executor implements the instrumented query operations once, on top of
// whichever carrier is executing them.
type executor struct {
	q   querier
	cfg *config
}

// Description reports the shape of a statement's result set without
// consuming it.
type Description struct {
	Columns     []string
	ColumnTypes []*sql.ColumnType
}

// tracedCall runs call inside a query span and ends the span when the
// call returns. onSuccess, if non-nil, runs on the live span after a
// successful call.
func (cfg *config) tracedCall(ctx context.Context, spanName, query string, call func(ctx context.Context) error, onSuccess func(span trace.Span)) error {
	ctx, span := cfg.startQuerySpan(ctx, spanName, query)
	defer span.End()

	start := time.Now()
	err := call(ctx)
	cfg.observe(ctx, spanName, query, time.Since(start), err)
	if err != nil {
		cfg.recordSpanError(span, err)
		return err
	}
	if onSuccess != nil {
		onSuccess(span)
	}
	return nil
}

// tracedExecCall is tracedCall for calls that yield a sql.Result.
func (cfg *config) tracedExecCall(ctx context.Context, spanName, query string, call func(ctx context.Context) (sql.Result, error)) (sql.Result, error) {
	var res sql.Result
	err := cfg.tracedCall(ctx, spanName, query, func(ctx context.Context) error {
		var callErr error
		res, callErr = call(ctx)
		return callErr
	}, nil)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// tracedRows runs call inside a query span whose lifetime extends to the
// returned Rows: the span stays open while the caller iterates and ends
// when the Rows are closed. On error the span ends immediately.
func (cfg *config) tracedRows(ctx context.Context, spanName, query string, call func(ctx context.Context) (*sqlx.Rows, error)) (*Rows, error) {
	ctx, span := cfg.startQuerySpan(ctx, spanName, query)

	start := time.Now()
	rows, err := call(ctx)
	cfg.observe(ctx, spanName, query, time.Since(start), err)
	if err != nil {
		cfg.recordSpanError(span, err)
		span.End()
		return nil, err
	}
	return &Rows{Rows: rows, span: span, cfg: cfg}, nil
}

// tracedOp runs call inside a lifecycle span (no query attributes).
func (cfg *config) tracedOp(ctx context.Context, spanName string, call func(ctx context.Context) error) error {
	ctx, span := cfg.startOpSpan(ctx, spanName)
	defer span.End()

	start := time.Now()
	err := call(ctx)
	cfg.observe(ctx, spanName, "", time.Since(start), err)
	if err != nil {
		cfg.recordSpanError(span, err)
	}
	return err
}

// observe feeds metrics and the failure/slow-query logs for one
// completed operation.
func (cfg *config) observe(ctx context.Context, spanName, query string, d time.Duration, err error) {
	if cfg.metrics != nil {
		cfg.metrics.recordOperationDuration(ctx, d, spanName, cfg.attrs, err)
	}

	switch {
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		evt := cfg.logger.Error().Err(err).Str("operation", spanName).Dur("duration", d)
		if cfg.attrs.recordQueryText && query != "" {
			evt = evt.Str("query", query)
		}
		evt.Msg("database operation failed")
	case cfg.slow > 0 && d >= cfg.slow:
		evt := cfg.logger.Warn().Str("operation", spanName).Dur("duration", d)
		if cfg.attrs.recordQueryText && query != "" {
			evt = evt.Str("query", query)
		}
		evt.Msg("slow database operation")
	}
}

func (e executor) execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return e.cfg.tracedExecCall(ctx, SpanExecute, query, func(ctx context.Context) (sql.Result, error) {
		return e.q.ExecContext(ctx, query, args...)
	})
}

// executeMany runs the same statement once per argument set inside a
// single span. It stops at the first failure, returning the results of
// the argument sets that succeeded along with the error.
func (e executor) executeMany(ctx context.Context, query string, argSets [][]interface{}) ([]sql.Result, error) {
	results := make([]sql.Result, 0, len(argSets))
	err := e.cfg.tracedCall(ctx, SpanExecuteMany, query, func(ctx context.Context) error {
		for _, args := range argSets {
			res, err := e.q.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	}, nil)
	return results, err
}

// fetch starts a streaming query. The span name distinguishes bounded
// (fetch_many) from unbounded (fetch) streams; the span ends when the
// returned Rows are closed.
func (e executor) fetch(ctx context.Context, spanName, query string, args ...interface{}) (*Rows, error) {
	return e.cfg.tracedRows(ctx, spanName, query, func(ctx context.Context) (*sqlx.Rows, error) {
		return e.q.QueryxContext(ctx, query, args...)
	})
}

func (e executor) fetchAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	// SelectContext appends, so count only what this call added.
	prior := destLen(dest)
	return e.cfg.tracedCall(ctx, SpanFetchAll, query, func(ctx context.Context) error {
		return e.q.SelectContext(ctx, dest, query, args...)
	}, func(span trace.Span) {
		recordReturnedRows(span, destLen(dest)-prior)
	})
}

func (e executor) fetchOne(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return e.cfg.tracedCall(ctx, SpanFetchOne, query, func(ctx context.Context) error {
		return e.q.GetContext(ctx, dest, query, args...)
	}, func(span trace.Span) {
		recordReturnedRows(span, 1)
	})
}

// fetchOptional is fetchOne for queries that may legitimately match
// nothing: a missing row reports found=false with a nil error, and the
// span stays unerrored with zero returned rows.
func (e executor) fetchOptional(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	ctx, span := e.cfg.startQuerySpan(ctx, SpanFetchOptional, query)
	defer span.End()

	start := time.Now()
	err := e.q.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		e.cfg.observe(ctx, SpanFetchOptional, query, time.Since(start), nil)
		recordReturnedRows(span, 0)
		return false, nil
	}
	e.cfg.observe(ctx, SpanFetchOptional, query, time.Since(start), err)
	if err != nil {
		e.cfg.recordSpanError(span, err)
		return false, err
	}
	recordReturnedRows(span, 1)
	return true, nil
}

// fetchRow wraps QueryRowxContext. Errors surface when the row is
// scanned, after the span has ended, so the span records only the call.
func (e executor) fetchRow(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	ctx, span := e.cfg.startQuerySpan(ctx, SpanFetchOne, query)
	defer span.End()

	start := time.Now()
	row := e.q.QueryRowxContext(ctx, query, args...)
	e.cfg.observe(ctx, SpanFetchOne, query, time.Since(start), nil)
	return row
}

// describe executes the statement and reports the shape of its result
// set without consuming any rows.
func (e executor) describe(ctx context.Context, query string, args ...interface{}) (*Description, error) {
	var desc *Description
	err := e.cfg.tracedCall(ctx, SpanDescribe, query, func(ctx context.Context) error {
		rows, err := e.q.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		types, err := rows.ColumnTypes()
		if err != nil {
			return err
		}
		desc = &Description{Columns: cols, ColumnTypes: types}
		return rows.Err()
	}, nil)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

func (e executor) prepare(ctx context.Context, spanName, query string) (*Stmt, error) {
	var stmt *sqlx.Stmt
	err := e.cfg.tracedCall(ctx, spanName, query, func(ctx context.Context) error {
		var prepErr error
		stmt, prepErr = e.q.PreparexContext(ctx, query)
		return prepErr
	}, nil)
	if err != nil {
		return nil, err
	}
	return &Stmt{Stmt: stmt, cfg: e.cfg, query: query}, nil
}

// destLen reports the length of a pointer-to-slice scan destination, or
// zero when dest has another shape.
func destLen(dest interface{}) int64 {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return 0
	}
	v = v.Elem()
	if v.Kind() != reflect.Slice {
		return 0
	}
	return int64(v.Len())
}
