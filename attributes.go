package sqlxtrace

import (
	"context"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Attributes is the identifying metadata attached to every span produced
// by a pool and the connections and transactions derived from it. It is
// frozen when the pool is built and shared by reference afterwards.
type Attributes struct {
	name     string
	host     string
	port     int
	database string
	system   string

	recordQueryText    bool
	recordErrorDetails bool
}

// Name returns the logical service name (peer.service).
func (a *Attributes) Name() string { return a.name }

// Host returns the database host (net.peer.name).
func (a *Attributes) Host() string { return a.host }

// Port returns the database port (net.peer.port), 0 when unset.
func (a *Attributes) Port() int { return a.port }

// Database returns the database name (db.name).
func (a *Attributes) Database() string { return a.database }

// System returns the database system identifier (db.system.name).
func (a *Attributes) System() string { return a.system }

// RecordsQueryText reports whether SQL text is written into spans.
func (a *Attributes) RecordsQueryText() bool { return a.recordQueryText }

// RecordsErrorDetails reports whether error messages and debug
// representations are written into spans.
func (a *Attributes) RecordsErrorDetails() bool { return a.recordErrorDetails }

// config is the frozen instrumentation state shared by a pool and every
// carrier derived from it.
type config struct {
	attrs   *Attributes
	tracer  trace.Tracer
	metrics *metrics
	logger  zerolog.Logger
	slow    time.Duration
}

// Builder constructs an instrumented Pool around an existing *sqlx.DB.
// Setters chain; Build freezes the attribute set.
type Builder struct {
	db    *sqlx.DB
	attrs Attributes

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	logger         zerolog.Logger
	slowThreshold  time.Duration
}

// NewBuilder creates a builder for db. The database system identifier is
// derived from the driver name; query-text and error-detail recording
// start enabled, so redaction is opt-out.
func NewBuilder(db *sqlx.DB) *Builder {
	return &Builder{
		db: db,
		attrs: Attributes{
			system:             systemForDriver(db.DriverName()),
			recordQueryText:    true,
			recordErrorDetails: true,
		},
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		logger:         zerolog.Nop(),
	}
}

// NewBuilderDSN creates a builder for db and best-effort populates host,
// port and database name by inspecting the connection string. File-backed
// DSNs (such as SQLite paths) populate only a filename-derived host.
// Unparseable DSNs leave the fields empty; introspection never fails.
func NewBuilderDSN(db *sqlx.DB, dsn string) *Builder {
	b := NewBuilder(db)
	b.attrs.host, b.attrs.port, b.attrs.database = introspectDSN(dsn)
	return b
}

// WithName sets the logical service name recorded as peer.service.
func (b *Builder) WithName(name string) *Builder {
	b.attrs.name = name
	return b
}

// WithHost sets the host recorded as net.peer.name.
func (b *Builder) WithHost(host string) *Builder {
	b.attrs.host = host
	return b
}

// WithPort sets the port recorded as net.peer.port.
func (b *Builder) WithPort(port int) *Builder {
	b.attrs.port = port
	return b
}

// WithDatabase sets the database name recorded as db.name.
func (b *Builder) WithDatabase(database string) *Builder {
	b.attrs.database = database
	return b
}

// WithSystem overrides the database system identifier recorded as
// db.system.name ("postgresql", "sqlite", "mysql", ...).
func (b *Builder) WithSystem(system string) *Builder {
	b.attrs.system = system
	return b
}

// WithQueryTextRecording enables or disables recording of SQL text in
// spans. When disabled, no span carries a db.query.text attribute; this
// is a hard boundary, useful when queries may embed sensitive data.
//
// Enabled by default.
func (b *Builder) WithQueryTextRecording(enabled bool) *Builder {
	b.attrs.recordQueryText = enabled
	return b
}

// WithErrorDetailRecording enables or disables recording of error detail
// in spans. When disabled, a failing operation's span carries only the
// client/server error.type and an error status code; the message, status
// description and debug representation are withheld. Useful when error
// text might contain connection strings or query parameters.
//
// Enabled by default.
func (b *Builder) WithErrorDetailRecording(enabled bool) *Builder {
	b.attrs.recordErrorDetails = enabled
	return b
}

// WithTracerProvider sets a custom tracer provider. Defaults to the
// global provider from otel.GetTracerProvider().
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithMeterProvider sets a custom meter provider. Defaults to the global
// provider from otel.GetMeterProvider().
func (b *Builder) WithMeterProvider(mp metric.MeterProvider) *Builder {
	b.meterProvider = mp
	return b
}

// WithLogger sets a logger for failed and slow operations. Logging is
// disabled by default. Query text in log lines honours the query-text
// recording toggle.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithSlowQueryThreshold enables a warning log for operations that take
// at least d. Zero (the default) disables slow-query logging.
func (b *Builder) WithSlowQueryThreshold(d time.Duration) *Builder {
	b.slowThreshold = d
	return b
}

// Build freezes the attributes into a shared read-only set and pairs it
// with the driver pool to produce the instrumented Pool.
func (b *Builder) Build() *Pool {
	attrs := b.attrs
	cfg := &config{
		attrs:  &attrs,
		tracer: b.tracerProvider.Tracer(scope),
		logger: b.logger,
		slow:   b.slowThreshold,
	}
	cfg.metrics, _ = newMetrics(b.meterProvider.Meter(scope))

	return &Pool{DB: b.db, cfg: cfg}
}

// Open opens a database and returns a builder pre-populated from the DSN.
func Open(driverName, dsn string) (*Builder, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return NewBuilderDSN(db, dsn), nil
}

// Connect opens a database, verifies the connection, and returns a
// builder pre-populated from the DSN.
func Connect(ctx context.Context, driverName, dsn string) (*Builder, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, err
	}
	return NewBuilderDSN(db, dsn), nil
}

// Wrap wraps an existing *sqlx.DB with default attributes.
func Wrap(db *sqlx.DB) *Pool {
	return NewBuilder(db).Build()
}

// systemForDriver maps a database/sql driver name to the db.system.name
// identifier of the backend it speaks to.
func systemForDriver(driverName string) string {
	switch driverName {
	case "postgres", "pgx", "pq":
		return "postgresql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mysql":
		return "mysql"
	case "sqlserver", "mssql":
		return "mssql"
	default:
		return driverName
	}
}

// introspectDSN extracts host, port and database name from a connection
// string. It understands URL DSNs (postgres://host:port/db), libpq-style
// key=value DSNs, and treats anything else as a file-backed DSN whose
// filename becomes the host. Best effort only: unknown shapes yield
// empty fields, never an error.
func introspectDSN(dsn string) (host string, port int, database string) {
	if dsn == "" {
		return "", 0, ""
	}

	if u, err := url.Parse(dsn); err == nil && u.Host != "" {
		host = u.Hostname()
		if p := u.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
		path := strings.TrimPrefix(u.Path, "/")
		if idx := strings.IndexByte(path, '/'); idx >= 0 {
			path = path[:idx]
		}
		database = path
		return host, port, database
	}

	if strings.ContainsRune(dsn, '=') {
		for _, tok := range strings.Fields(dsn) {
			key, value, ok := strings.Cut(tok, "=")
			if !ok {
				continue
			}
			switch key {
			case "host":
				host = value
			case "port":
				port, _ = strconv.Atoi(value)
			case "dbname", "database":
				database = value
			}
		}
		return host, port, database
	}

	// File-backed DSN (e.g. SQLite): only a filename-derived host.
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	return filepath.Base(path), 0, ""
}
