package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/systmms/pgrotate/internal/errors"
	"github.com/systmms/pgrotate/internal/secretdict"
)

func dict() secretdict.Dictionary {
	return secretdict.Dictionary{
		Host:     "db.internal",
		Username: "app",
		Password: `it's a \secret`,
		Engine:   "postgres",
	}
}

func TestDSN(t *testing.T) {
	t.Parallel()

	c := NewPostgresConnector(Options{})
	assert.Equal(t,
		`host='db.internal' port=5432 dbname='postgres' user='app' password='it\'s a \\secret' sslmode='require' connect_timeout=5`,
		c.dsn(dict()))

	d := dict()
	d.Port = 6432
	d.DBName = "orders"
	c = NewPostgresConnector(Options{SSLMode: "verify-full", ConnectTimeout: 500 * time.Millisecond})
	assert.Equal(t,
		`host='db.internal' port=6432 dbname='orders' user='app' password='it\'s a \\secret' sslmode='verify-full' connect_timeout=1`,
		c.dsn(d))
}

func mockOpener(t *testing.T, setup func(sqlmock.Sqlmock)) (Opener, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	setup(mock)
	return func(string) (*sql.DB, error) { return db, nil }, mock
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		open, mock := mockOpener(t, func(m sqlmock.Sqlmock) { m.ExpectPing() })
		c := NewPostgresConnector(Options{}, WithOpener(open))

		db, err := c.Connect(context.Background(), dict())
		require.NoError(t, err)
		require.NotNil(t, db)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejected credentials", func(t *testing.T) {
		open, mock := mockOpener(t, func(m sqlmock.Sqlmock) {
			m.ExpectPing().WillReturnError(&pq.Error{Code: "28P01", Message: `password authentication failed for user "app"`})
			m.ExpectClose()
		})
		c := NewPostgresConnector(Options{}, WithOpener(open))

		db, err := c.Connect(context.Background(), dict())
		assert.Nil(t, db)
		var ae *rerrors.AuthenticationError
		require.ErrorAs(t, err, &ae)
		assert.Contains(t, err.Error(), "rejected")
		assert.NotContains(t, err.Error(), "secret")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unreachable", func(t *testing.T) {
		open, _ := mockOpener(t, func(m sqlmock.Sqlmock) {
			m.ExpectPing().WillReturnError(errors.New("dial tcp: connection refused"))
			m.ExpectClose()
		})
		c := NewPostgresConnector(Options{}, WithOpener(open))

		_, err := c.Connect(context.Background(), dict())
		var ae *rerrors.AuthenticationError
		require.ErrorAs(t, err, &ae)
		assert.Contains(t, err.Error(), "unable to connect to db.internal as app")
	})

	t.Run("open fails", func(t *testing.T) {
		c := NewPostgresConnector(Options{}, WithOpener(func(string) (*sql.DB, error) {
			return nil, errors.New("bad dsn")
		}))

		_, err := c.Connect(context.Background(), dict())
		var ae *rerrors.AuthenticationError
		assert.ErrorAs(t, err, &ae)
	})
}

func TestProbe(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT NOW").WillReturnRows(sqlmock.NewRows([]string{"now"}).AddRow(time.Now()))
	require.NoError(t, Probe(context.Background(), db))

	mock.ExpectQuery("SELECT NOW").WillReturnError(errors.New("permission denied"))
	err = Probe(context.Background(), db)
	var de *rerrors.DatabaseError
	assert.ErrorAs(t, err, &de)
}
