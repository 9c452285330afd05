package storage

import (
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLiteStore(t *testing.T, quota int64) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	s := &SQLiteStore{db: db, quota: quota, log: slog.Default(), done: make(chan struct{})}
	t.Cleanup(func() {
		_ = s.Close()
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return s, mock
}

func TestSQLiteStore_Get(t *testing.T) {
	s, mock := newMockSQLiteStore(t, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv WHERE key = ?")).
		WithArgs("chat.sessions").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("[]"))

	v, err := s.Get("chat.sessions")
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	s, mock := newMockSQLiteStore(t, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv WHERE key = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Set(t *testing.T) {
	s, mock := newMockSQLiteStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO kv").
		WithArgs("chat.active", "abc", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Set("chat.active", "abc"))
}

func TestSQLiteStore_SetQuotaExceeded(t *testing.T) {
	s, mock := newMockSQLiteStore(t, 100)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("chat.active").
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(95))
	mock.ExpectRollback()

	err := s.Set("chat.active", "abc")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestSQLiteStore_SetWithinQuota(t *testing.T) {
	s, mock := newMockSQLiteStore(t, 100)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("chat.active").
		WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(10))
	mock.ExpectExec("INSERT INTO kv").
		WithArgs("chat.active", "abc", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Set("chat.active", "abc"))
}

func TestSQLiteStore_Delete(t *testing.T) {
	s, mock := newMockSQLiteStore(t, 0)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM kv WHERE key = ?")).
		WithArgs("chat.active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete("chat.active"))
}
