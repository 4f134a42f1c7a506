package database

import (
	"context"
	"os"
	"time"

	_ "github.com/lib/pq" // Register postgres driver
	"github.com/rs/zerolog"
	"github.com/tracelake/sqlxtrace"
	"github.com/tracelake/sqlxtrace/example/internal/config"

	"go.opentelemetry.io/otel"
)

// DB wraps the instrumented pool with the example's query helpers.
type DB struct {
	*sqlxtrace.Pool

	logger zerolog.Logger
}

// New opens an instrumented postgres pool. Host, port and database name
// are introspected from the DSN; the service name and slow-query log
// are set explicitly.
func New(ctx context.Context) (*DB, error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	builder, err := sqlxtrace.Connect(ctx, "postgres", config.DefaultDSN)
	if err != nil {
		return nil, err
	}
	pool := builder.
		WithName(config.DefaultServiceName).
		WithLogger(logger).
		WithSlowQueryThreshold(250 * time.Millisecond).
		Build()

	pool.DB.SetMaxOpenConns(config.DefaultMaxOpen)
	pool.DB.SetMaxIdleConns(config.DefaultMaxIdle)
	pool.DB.SetConnMaxLifetime(time.Duration(config.DefaultMaxLifetime) * time.Second)
	pool.DB.SetConnMaxIdleTime(time.Duration(config.DefaultMaxIdleTime) * time.Second)

	err = sqlxtrace.RecordPoolMetrics(pool, otel.GetMeterProvider().Meter("example-app"))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to register pool metrics")
	}

	return &DB{Pool: pool, logger: logger}, nil
}
