package sqlxtrace

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/tracelake/sqlxtrace"

// Span names, one per instrumented operation shape.
const (
	SpanDescribe      = "sqlx.describe"
	SpanExecute       = "sqlx.execute"
	SpanExecuteMany   = "sqlx.execute_many"
	SpanFetch         = "sqlx.fetch"
	SpanFetchAll      = "sqlx.fetch_all"
	SpanFetchMany     = "sqlx.fetch_many"
	SpanFetchOne      = "sqlx.fetch_one"
	SpanFetchOptional = "sqlx.fetch_optional"
	SpanPrepare       = "sqlx.prepare"
	SpanPrepareWith   = "sqlx.prepare_with"
	SpanPoolAcquire   = "sqlx.pool.acquire"
	SpanPoolClose     = "sqlx.pool.close"
	SpanTxBegin       = "sqlx.transaction.begin"
	SpanTxCommit      = "sqlx.transaction.commit"
	SpanTxRollback    = "sqlx.transaction.rollback"
	SpanConnPing      = "sqlx.connection.ping"
)

// Span attribute keys. db.response.affected_rows, db.response.status_code
// and db.sql.table are part of the schema but reserved: no operation
// populates them.
const (
	attrDBName          = "db.name"
	attrDBOperation     = "db.operation"
	attrDBQueryText     = "db.query.text"
	attrAffectedRows    = "db.response.affected_rows"
	attrReturnedRows    = "db.response.returned_rows"
	attrStatusCode      = "db.response.status_code"
	attrDBTable         = "db.sql.table"
	attrDBSystem        = "db.system.name"
	attrErrorType       = "error.type"
	attrErrorMessage    = "error.message"
	attrErrorStacktrace = "error.stacktrace"
	attrPeerName        = "net.peer.name"
	attrPeerPort        = "net.peer.port"
	attrPeerService     = "peer.service"
)

// extractOperation extracts the SQL operation (first word) from a query.
// Returns uppercase operation name or empty string if query is empty.
func extractOperation(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	spaceIdx := strings.IndexAny(query, " \t\n\r")
	if spaceIdx == -1 {
		return strings.ToUpper(query)
	}

	return strings.ToUpper(query[:spaceIdx])
}

// spanAttributes returns the static attributes shared by every span
// produced under this attribute set.
func (a *Attributes) spanAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	if a.database != "" {
		attrs = append(attrs, attribute.String(attrDBName, a.database))
	}
	if a.system != "" {
		attrs = append(attrs, attribute.String(attrDBSystem, a.system))
	}
	if a.host != "" {
		attrs = append(attrs, attribute.String(attrPeerName, a.host))
	}
	if a.port != 0 {
		attrs = append(attrs, attribute.Int(attrPeerPort, a.port))
	}
	if a.name != "" {
		attrs = append(attrs, attribute.String(attrPeerService, a.name))
	}
	return attrs
}

// queryAttributes returns the attributes for a SQL-operation span.
// The query text is recorded only when the attribute set allows it;
// db.operation is derived from the first SQL keyword either way.
func (cfg *config) queryAttributes(query string) []attribute.KeyValue {
	attrs := cfg.attrs.spanAttributes()

	if cfg.attrs.recordQueryText && query != "" {
		attrs = append(attrs, attribute.String(attrDBQueryText, query))
	}
	if op := extractOperation(query); op != "" {
		attrs = append(attrs, attribute.String(attrDBOperation, op))
	}

	return attrs
}

// startQuerySpan starts a client span for an operation carrying SQL text.
func (cfg *config) startQuerySpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return cfg.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(cfg.queryAttributes(query)...),
	)
}

// startOpSpan starts a client span for a lifecycle operation, which
// carries no SQL-specific fields.
func (cfg *config) startOpSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return cfg.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(cfg.attrs.spanAttributes()...),
	)
}

// recordSpanError fills the deferred error fields of a span. The span
// always gets an error status and a client/server classification; the
// message, status description, exception event and debug representation
// are withheld when error detail recording is disabled.
func (cfg *config) recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.SetAttributes(attribute.String(attrErrorType, classifyError(err)))

	if !cfg.attrs.recordErrorDetails {
		span.SetStatus(codes.Error, "")
		return
	}

	msg := err.Error()
	span.SetStatus(codes.Error, msg)
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(attrErrorMessage, msg),
		attribute.String(attrErrorStacktrace, fmt.Sprintf("%+v", err)),
	)
}

// recordReturnedRows fills the deferred row-count field on a span.
func recordReturnedRows(span trace.Span, n int64) {
	span.SetAttributes(attribute.Int64(attrReturnedRows, n))
}
