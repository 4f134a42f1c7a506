package sqlxtrace

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/codes"
)

func TestTransactionCommit(t *testing.T) {
	t.Run("given insert then commit, then spans cover the full lifecycle", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		query := "INSERT INTO users (name) VALUES ($1)"
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(query)).
			WithArgs("alice").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := pool.Beginx(context.Background())
		require.NoError(t, err)

		_, err = tx.ExecContext(context.Background(), query, "alice")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		spans := exporter.GetSpans()
		require.Len(t, spans, 3)
		assert.Equal(t, "sqlx.transaction.begin", spans[0].Name)
		assert.Equal(t, "sqlx.execute", spans[1].Name)
		assert.Equal(t, "sqlx.transaction.commit", spans[2].Name)
		for _, span := range spans {
			assert.Equal(t, codes.Unset, span.Status.Code, "span %q", span.Name)
		}
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given commit failure, then the commit span records a server error", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		commitErr := errors.New("pq: could not serialize access due to concurrent update")
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(commitErr)

		tx, err := pool.Beginx(context.Background())
		require.NoError(t, err)
		require.ErrorIs(t, tx.Commit(), commitErr)

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		commit := spans[1]
		assert.Equal(t, "sqlx.transaction.commit", commit.Name)
		assert.Equal(t, codes.Error, commit.Status.Code)
		requireAttrString(t, commit, "error.type", ErrorTypeServer)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRollback(t *testing.T) {
	t.Run("given rollback, then the abort is spanned and nothing persists", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		query := "INSERT INTO users (name) VALUES ($1)"
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(query)).
			WithArgs("alice").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectRollback()

		tx, err := pool.Beginx(context.Background())
		require.NoError(t, err)

		_, err = tx.ExecContext(context.Background(), query, "alice")
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		spans := exporter.GetSpans()
		require.Len(t, spans, 3)
		assert.Equal(t, "sqlx.transaction.rollback", spans[2].Name)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionQueries(t *testing.T) {
	t.Run("given select inside a transaction, then rows are counted", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		query := "SELECT id FROM users"
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
		mock.ExpectCommit()

		tx, err := pool.Beginx(context.Background())
		require.NoError(t, err)

		var ids []int
		require.NoError(t, tx.SelectContext(context.Background(), &ids, query))
		require.NoError(t, tx.Commit())
		assert.Len(t, ids, 2)

		spans := exporter.GetSpans()
		require.Len(t, spans, 3)
		assert.Equal(t, "sqlx.fetch_all", spans[1].Name)
		requireAttrInt(t, spans[1], "db.response.returned_rows", 2)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given named exec inside a transaction, then span is an execute", func(t *testing.T) {
		pool, mock, exporter := newTestPool(t, nil)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (name) VALUES (?)")).
			WithArgs("alice").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := pool.Beginx(context.Background())
		require.NoError(t, err)

		_, err = tx.NamedExecContext(context.Background(),
			"INSERT INTO users (name) VALUES (:name)",
			map[string]interface{}{"name": "alice"})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		spans := exporter.GetSpans()
		require.Len(t, spans, 3)
		assert.Equal(t, "sqlx.execute", spans[1].Name)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
