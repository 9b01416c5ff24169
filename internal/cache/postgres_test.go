package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_GetHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	value := testResult("cached")
	raw, err := json.Marshal(value)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery("cache_get").
		WithArgs("analysis:test-ward:abcd", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"etag", "value", "created_at", "expires_at"}).
			AddRow("etag-1", raw, now.Add(-time.Minute), now.Add(59*time.Minute)))

	c := NewPostgresFromPool(mock)
	e, err := c.Get(context.Background(), "analysis:test-ward:abcd")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "etag-1", e.ETag)
	assert.Equal(t, "cached", e.Value.Summary)
	assert.Greater(t, e.RemainingTTL, 58*time.Minute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("cache_get").
		WithArgs("analysis:test-ward:abcd", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	c := NewPostgresFromPool(mock)
	e, err := c.Get(context.Background(), "analysis:test-ward:abcd")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Set(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("cache_set").
		WithArgs("analysis:test-ward:abcd", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	c := NewPostgresFromPool(mock)
	etag, err := c.Set(context.Background(), "analysis:test-ward:abcd", testResult("fresh"), time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, etag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Invalidate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("cache_invalidate").
		WithArgs("analysis:test-ward:%").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	c := NewPostgresFromPool(mock)
	n, err := c.Invalidate(context.Background(), "analysis:test-ward:*")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PurgeExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("cache_purge").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	c := NewPostgresFromPool(mock)
	n, err := c.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
