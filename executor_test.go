package sqlxtrace

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLogging(t *testing.T) {
	t.Run("given a failing exec with a logger, then the query is logged", func(t *testing.T) {
		var buf bytes.Buffer
		pool, mock, _ := newTestPool(t, func(b *Builder) *Builder {
			return b.WithLogger(zerolog.New(&buf))
		})
		query := "DELETE FROM users"
		mock.ExpectExec(regexp.QuoteMeta(query)).
			WillReturnError(errors.New("pq: permission denied for table users"))

		_, err := pool.ExecContext(context.Background(), query)
		require.Error(t, err)

		out := buf.String()
		assert.Contains(t, out, "database operation failed")
		assert.Contains(t, out, `"operation":"sqlx.execute"`)
		assert.Contains(t, out, `"query":"DELETE FROM users"`)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given query text recording disabled, then log lines omit the SQL", func(t *testing.T) {
		var buf bytes.Buffer
		pool, mock, _ := newTestPool(t, func(b *Builder) *Builder {
			return b.WithLogger(zerolog.New(&buf)).WithQueryTextRecording(false)
		})
		query := "DELETE FROM users"
		mock.ExpectExec(regexp.QuoteMeta(query)).
			WillReturnError(errors.New("pq: permission denied for table users"))

		_, err := pool.ExecContext(context.Background(), query)
		require.Error(t, err)

		out := buf.String()
		assert.Contains(t, out, "database operation failed")
		assert.NotContains(t, out, "DELETE FROM users")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given a slow query threshold, then a slow operation warns with the query", func(t *testing.T) {
		var buf bytes.Buffer
		pool, mock, _ := newTestPool(t, func(b *Builder) *Builder {
			return b.WithLogger(zerolog.New(&buf)).WithSlowQueryThreshold(time.Nanosecond)
		})
		query := "SELECT id FROM users"
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		var ids []int
		require.NoError(t, pool.SelectContext(context.Background(), &ids, query))

		out := buf.String()
		assert.Contains(t, out, "slow database operation")
		assert.Contains(t, out, `"query":"SELECT id FROM users"`)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given no threshold, then fast successful operations log nothing", func(t *testing.T) {
		var buf bytes.Buffer
		pool, mock, _ := newTestPool(t, func(b *Builder) *Builder {
			return b.WithLogger(zerolog.New(&buf))
		})
		query := "SELECT id FROM users"
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		var ids []int
		require.NoError(t, pool.SelectContext(context.Background(), &ids, query))

		assert.Empty(t, buf.String())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
