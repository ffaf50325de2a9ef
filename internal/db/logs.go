package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alert-dispatcher/internal/models"
)

const logColumns = `
	id, sample_id, COALESCE(service_id, 0), COALESCE(config_id, 0), sender_id, target_user_id,
	audience, status, scheduled_for, queued_at, sent_at, retry_count, COALESCE(error_message, '')`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertLog(ctx context.Context, q rowQuerier, l models.AlertLog) (int64, error) {
	query := `
	INSERT INTO alert_log (
		sample_id, service_id, config_id, sender_id, target_user_id, audience,
		status, scheduled_for, queued_at, retry_count
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
	RETURNING id`
	var id int64
	err := q.QueryRow(ctx, query,
		l.SampleID,
		l.ServiceID,
		l.ConfigID,
		l.SenderID,
		l.TargetUserID,
		string(l.Audience),
		string(l.Status),
		l.ScheduledFor.UTC(),
		l.QueuedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert log for sample %d: %w", l.SampleID, err)
	}
	return id, nil
}

// ClaimDueLogs moves every queued log due at or before now to sending and
// returns the claimed ids. Rows locked by a concurrent scan are skipped, so
// each due row is claimed by exactly one caller.
func (d *DB) ClaimDueLogs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query := `
	UPDATE alert_log
	SET status = 'sending'
	WHERE id IN (
		SELECT id FROM alert_log
		WHERE status = 'queued' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id`
	rows, err := d.Pool.Query(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due logs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan claimed log id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to claim due logs: %w", err)
	}
	return ids, nil
}

// ClaimRetry moves a failed log back to sending when it still has attempts
// left. It reports false when the log is no longer retryable.
func (d *DB) ClaimRetry(ctx context.Context, id int64, maxAttempts int) (bool, error) {
	query := `
	UPDATE alert_log
	SET status = 'sending'
	WHERE id = $1 AND status = 'failed' AND retry_count < $2`
	tag, err := d.Pool.Exec(ctx, query, id, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to claim log %d for retry: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseClaim returns a claimed log to queued so the next scan picks it up
// again. Used when a claimed log could not be handed to a worker.
func (d *DB) ReleaseClaim(ctx context.Context, id int64) error {
	_, err := d.Pool.Exec(ctx, `
	UPDATE alert_log SET status = 'queued'
	WHERE id = $1 AND status = 'sending'`, id)
	if err != nil {
		return fmt.Errorf("failed to release log %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt on a claimed log and returns the new
// retry count.
func (d *DB) MarkFailed(ctx context.Context, id int64, errMsg string) (int, error) {
	query := `
	UPDATE alert_log
	SET status = 'failed', retry_count = retry_count + 1, error_message = $2
	WHERE id = $1 AND status = 'sending'
	RETURNING retry_count`
	var count int
	err := d.Pool.QueryRow(ctx, query, id, errMsg).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("log %d: %w", id, ErrNotClaimed)
		}
		return 0, fmt.Errorf("failed to mark log %d failed: %w", id, err)
	}
	return count, nil
}

// Completion describes everything a successful delivery changes.
type Completion struct {
	LogID    int64
	SentAt   time.Time
	SampleID int64
	// NextStart advances the sample's start date/time when set.
	NextStart *time.Time
	// NextLog is inserted as the queued log of the next occurrence when set.
	NextLog *models.AlertLog
}

// CompleteDelivery marks a claimed log sent and applies the recurrence
// advancement in the same transaction.
func (d *DB) CompleteDelivery(ctx context.Context, c Completion) (int64, error) {
	var nextID int64
	err := d.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
		UPDATE alert_log
		SET status = 'sent', sent_at = $2, error_message = NULL
		WHERE id = $1 AND status = 'sending'`, c.LogID, c.SentAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to mark log %d sent: %w", c.LogID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("log %d: %w", c.LogID, ErrNotClaimed)
		}

		if c.NextStart != nil {
			startDate, startTime := splitDateTime(*c.NextStart)
			_, err = tx.Exec(ctx, `
			UPDATE alert_sample SET start_date = $2, start_time = $3 WHERE id = $1`,
				c.SampleID, startDate, startTime)
			if err != nil {
				return fmt.Errorf("failed to advance sample %d: %w", c.SampleID, err)
			}
		}

		if c.NextLog != nil {
			nextID, err = insertLog(ctx, tx, *c.NextLog)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return nextID, nil
}

// GetLog loads one log by id.
func (d *DB) GetLog(ctx context.Context, id int64) (models.AlertLog, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+logColumns+` FROM alert_log WHERE id = $1`, id)
	l, err := scanLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AlertLog{}, fmt.Errorf("log %d: %w", id, ErrNotFound)
		}
		return models.AlertLog{}, fmt.Errorf("failed to get log %d: %w", id, err)
	}
	return l, nil
}

// LogFilter narrows ListLogs. Zero values mean no filter.
type LogFilter struct {
	Status   models.LogStatus
	SampleID int64
	Limit    int
	Offset   int
}

// ListLogs returns logs newest first together with the total match count.
func (d *DB) ListLogs(ctx context.Context, f LogFilter) ([]models.AlertLog, int, error) {
	where := ` WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR sample_id = $2)`
	args := []any{string(f.Status), f.SampleID}

	var total int
	if err := d.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM alert_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT ` + logColumns + ` FROM alert_log` + where + ` ORDER BY scheduled_for DESC, id DESC LIMIT $3 OFFSET $4`
	rows, err := d.Pool.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var list []models.AlertLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan log: %w", err)
		}
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list logs: %w", err)
	}
	return list, total, nil
}

func scanLog(row pgx.Row) (models.AlertLog, error) {
	var (
		l                models.AlertLog
		audience, status string
	)
	err := row.Scan(
		&l.ID,
		&l.SampleID,
		&l.ServiceID,
		&l.ConfigID,
		&l.SenderID,
		&l.TargetUserID,
		&audience,
		&status,
		&l.ScheduledFor,
		&l.QueuedAt,
		&l.SentAt,
		&l.RetryCount,
		&l.ErrorMessage,
	)
	if err != nil {
		return models.AlertLog{}, err
	}
	if l.Audience, err = models.ParseAudience(audience); err != nil {
		return models.AlertLog{}, err
	}
	if l.Status, err = models.ParseLogStatus(status); err != nil {
		return models.AlertLog{}, err
	}
	l.ScheduledFor = l.ScheduledFor.UTC()
	l.QueuedAt = l.QueuedAt.UTC()
	l.SentAt = utcPtr(l.SentAt)
	return l, nil
}
