package sqlxtrace

import (
	"database/sql"
	"errors"
	"strings"
)

// Error classification values for the error.type span attribute.
const (
	// ErrorTypeClient marks malformed access patterns: a missing row
	// where one was required, scan/decode failures, destination columns
	// that do not exist, argument conversion failures.
	ErrorTypeClient = "client"

	// ErrorTypeServer marks everything else: connectivity, protocol,
	// constraint violations, timeouts, driver-internal failures.
	ErrorTypeServer = "server"
)

// clientErrorMarkers identifies the decode/encode/column-shape faults
// database/sql and sqlx report. Neither library exports sentinel values
// for these (sql.ErrNoRows aside), so the partition is over their
// well-known message shapes.
var clientErrorMarkers = []string{
	"sql: Scan error",          // column decode failure
	"sql: expected",            // destination count mismatch
	"sql: converting argument", // argument encode failure
	"unsupported Scan",         // value decode failure
	"missing destination name", // column not found in struct destination
	"non-struct dest type",     // invalid scan destination shape
	"could not find name",      // named parameter not found
}

// classifyError partitions an operation error into exactly two buckets
// for the error.type span attribute. The partition is fixed, not a
// heuristic: sql.ErrNoRows and the marker list above are client faults,
// every other error is a server fault.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrorTypeClient
	}

	msg := err.Error()
	for _, marker := range clientErrorMarkers {
		if strings.Contains(msg, marker) {
			return ErrorTypeClient
		}
	}

	return ErrorTypeServer
}
