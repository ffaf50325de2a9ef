package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-dispatcher/internal/models"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestClaimDueLogs(t *testing.T) {
	d, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE alert_log\s+SET status = 'sending'`).
		WithArgs(now, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(4)).AddRow(int64(9)))

	ids, err := d.ClaimDueLogs(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedReturnsRetryCount(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectQuery(`SET status = 'failed', retry_count = retry_count \+ 1`).
		WithArgs(int64(5), "network error").
		WillReturnRows(pgxmock.NewRows([]string{"retry_count"}).AddRow(2))

	count, err := d.MarkFailed(context.Background(), 5, "network error")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedRequiresClaim(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectQuery(`SET status = 'failed'`).
		WithArgs(int64(5), "boom").
		WillReturnRows(pgxmock.NewRows([]string{"retry_count"}))

	_, err := d.MarkFailed(context.Background(), 5, "boom")
	assert.True(t, errors.Is(err, ErrNotClaimed))
}

func TestClaimRetry(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectExec(`SET status = 'sending'\s+WHERE id = \$1 AND status = 'failed' AND retry_count < \$2`).
		WithArgs(int64(3), 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET status = 'sending'`).
		WithArgs(int64(3), 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := d.ClaimRetry(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ClaimRetry(context.Background(), 3, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseClaim(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE alert_log SET status = 'queued'\s+WHERE id = \$1 AND status = 'sending'`).
		WithArgs(int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, d.ReleaseClaim(context.Background(), 11))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDeliveryAdvancesRecurrence(t *testing.T) {
	d, mock := newMockDB(t)
	sentAt := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	next := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	nextLog := models.AlertLog{
		SampleID:     3,
		ServiceID:    1,
		ConfigID:     2,
		Audience:     models.AudienceAll,
		Status:       models.StatusQueued,
		ScheduledFor: next,
		QueuedAt:     sentAt,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`SET status = 'sent'`).
		WithArgs(int64(7), sentAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE alert_sample SET start_date`).
		WithArgs(int64(3), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO alert_log`).
		WithArgs(int64(3), int64(1), int64(2), pgxmock.AnyArg(), pgxmock.AnyArg(), "all", "queued", next, sentAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectCommit()

	id, err := d.CompleteDelivery(context.Background(), Completion{
		LogID:     7,
		SentAt:    sentAt,
		SampleID:  3,
		NextStart: &next,
		NextLog:   &nextLog,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteDeliveryRollsBackWhenNotClaimed(t *testing.T) {
	d, mock := newMockDB(t)
	next := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`SET status = 'sent'`).
		WithArgs(int64(7), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := d.CompleteDelivery(context.Background(), Completion{LogID: 7, SentAt: time.Now(), SampleID: 3, NextStart: &next})
	assert.True(t, errors.Is(err, ErrNotClaimed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateTestCredentialsDeactivatesSiblings(t *testing.T) {
	d, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT service_code FROM test_credentials`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"service_code"}).AddRow("billing"))
	mock.ExpectExec(`SET is_active = FALSE`).
		WithArgs("billing", int64(2), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET is_active = TRUE`).
		WithArgs(int64(2), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, d.ActivateTestCredentials(context.Background(), 2, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitJoinDateTime(t *testing.T) {
	at := time.Date(2026, 7, 4, 13, 45, 30, 0, time.UTC)
	d, tm := splitDateTime(at)
	assert.True(t, joinDateTime(d, tm).Equal(at))
}
