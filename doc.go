// Package sqlxtrace wraps a jmoiron/sqlx database pool with OpenTelemetry
// tracing. Every operation on the wrapped pool, on connections checked out
// of it, and on transactions begun from it runs inside a client span with a
// fixed telemetry schema; results and errors are passed through untouched.
//
// # Quick Start
//
//	builder, err := sqlxtrace.Connect(ctx, "postgres", dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pool := builder.
//	    WithName("billing").
//	    Build()
//	defer pool.Close(ctx)
//
//	var users []User
//	err = pool.SelectContext(ctx, &users, "SELECT * FROM users WHERE active = true")
//
// An existing *sqlx.DB can be wrapped directly:
//
//	pool := sqlxtrace.Wrap(db)
//
// # Spans
//
// Each operation produces one span named after the operation shape
// (sqlx.execute, sqlx.fetch_all, sqlx.fetch_one, ...) with db.name,
// db.system.name, db.operation, net.peer.name/port and peer.service
// attributes taken from the pool's attribute set. Row-returning shapes
// additionally record db.response.returned_rows once the outcome is known.
// Streaming queries (QueryxContext, QueryManyContext) keep their span open
// for the whole iteration; the span ends, and the row count is recorded,
// when the returned Rows is closed.
//
// # Redaction
//
// Two toggles gate sensitive content. WithQueryTextRecording(false) stops
// SQL text from ever reaching the db.query.text attribute (and the
// optional logger). WithErrorDetailRecording(false) reduces a failure to
// its error.type classification and an error status code, withholding the
// message and debug representation. Both are enabled by default.
//
// # Errors
//
// Failures are classified into exactly two buckets for the error.type
// attribute: "client" for malformed access patterns (no rows, scan/decode
// failures, missing destination columns, argument conversion) and
// "server" for everything else. The error value returned to the caller is
// never wrapped or altered.
//
// # Escape hatch
//
// The raw sqlx handles stay reachable through the embedded fields
// (pool.DB, conn.Conn, tx.Tx) for operations the shim does not cover;
// calls made through them are simply not instrumented.
package sqlxtrace
