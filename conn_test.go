package sqlxtrace

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnQueries(t *testing.T) {
	t.Run("given exec on a checked-out connection, then spans as on the pool", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		query := "INSERT INTO users (name) VALUES ($1)"
		mock.ExpectExec(regexp.QuoteMeta(query)).
			WithArgs("alice").
			WillReturnResult(sqlmock.NewResult(1, 1))

		conn, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.ExecContext(context.Background(), query, "alice")
		require.NoError(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		assert.Equal(t, "sqlx.pool.acquire", spans[0].Name)
		assert.Equal(t, "sqlx.execute", spans[1].Name)
		requireAttrString(t, spans[1], "peer.service", "orders")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given get on a connection, then one returned row recorded", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		query := "SELECT id FROM users WHERE name = $1"
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		conn, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer conn.Close()

		var id int
		require.NoError(t, conn.GetContext(context.Background(), &id, query, "alice"))
		assert.Equal(t, 7, id)

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		assert.Equal(t, "sqlx.fetch_one", spans[1].Name)
		requireAttrInt(t, spans[1], "db.response.returned_rows", 1)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given ping on a connection, then a ping span is produced", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		mock.ExpectPing()

		conn, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.PingContext(context.Background()))

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		assert.Equal(t, "sqlx.connection.ping", spans[1].Name)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given begin on a connection, then the transaction spans from it", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		mock.ExpectBegin()
		mock.ExpectCommit()

		conn, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer conn.Close()

		tx, err := conn.Beginx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		spans := exporter.GetSpans()
		require.Len(t, spans, 3)
		assert.Equal(t, "sqlx.transaction.begin", spans[1].Name)
		assert.Equal(t, "sqlx.transaction.commit", spans[2].Name)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
