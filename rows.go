package sqlxtrace

import (
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/trace"
)

// Rows is a streaming result set whose span covers the whole iteration.
// The span opened by the originating fetch stays live while rows are
// consumed and ends when Close is called, recording the number of rows
// returned and any iteration error. Rows must be closed.
type Rows struct {
	*sqlx.Rows

	span   trace.Span
	cfg    *config
	count  int64
	closed bool
}

// Next advances to the next row, counting rows handed to the caller.
func (r *Rows) Next() bool {
	ok := r.Rows.Next()
	if ok {
		r.count++
	}
	return ok
}

// Close closes the underlying rows and ends the iteration span. Safe to
// call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return r.Rows.Close()
	}
	r.closed = true

	err := r.Rows.Close()

	recordReturnedRows(r.span, r.count)
	if iterErr := r.Rows.Err(); iterErr != nil {
		r.cfg.recordSpanError(r.span, iterErr)
	} else if err != nil {
		r.cfg.recordSpanError(r.span, err)
	}
	r.span.End()
	return err
}
