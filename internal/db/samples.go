package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"alert-dispatcher/internal/models"
)

const sampleColumns = `
	id, COALESCE(service_id, 0), COALESCE(config_id, 0), user_id, title, body,
	photo_upload, document_upload, company_name, sender_name, is_common,
	start_date, start_time, end_date, is_recurring, recurrence_interval, created_at`

// CreateSample inserts a sample together with the queued log of its first
// occurrence.
func (d *DB) CreateSample(ctx context.Context, s models.AlertSample, now time.Time) (models.AlertSample, models.AlertLog, error) {
	var first models.AlertLog
	err := d.withTx(ctx, func(tx pgx.Tx) error {
		startDate, startTime := splitDateTime(s.StartAt)
		query := `
		INSERT INTO alert_sample (
			service_id, config_id, user_id, title, body, photo_upload, document_upload,
			company_name, sender_name, is_common, start_date, start_time, end_date,
			is_recurring, recurrence_interval, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`
		err := tx.QueryRow(ctx, query,
			s.ServiceID,
			s.ConfigID,
			s.UserID,
			s.Title,
			s.Body,
			nullString(s.PhotoUpload),
			nullString(s.DocumentUpload),
			nullString(s.CompanyName),
			nullString(s.SenderName),
			s.IsCommon,
			startDate,
			startTime,
			utcPtr(s.EndDate),
			s.IsRecurring,
			nullString(s.RecurrenceInterval),
			now.UTC(),
		).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
		s.CreatedAt = now.UTC()

		first = models.NewOccurrenceLog(s, s.StartAt, now)
		first.ID, err = insertLog(ctx, tx, first)
		return err
	})
	if err != nil {
		return models.AlertSample{}, models.AlertLog{}, err
	}
	return s, first, nil
}

// GetSample loads one sample by id.
func (d *DB) GetSample(ctx context.Context, id int64) (models.AlertSample, error) {
	row := d.Pool.QueryRow(ctx, `SELECT `+sampleColumns+` FROM alert_sample WHERE id = $1`, id)
	s, err := scanSample(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AlertSample{}, fmt.Errorf("sample %d: %w", id, ErrNotFound)
		}
		return models.AlertSample{}, fmt.Errorf("failed to get sample %d: %w", id, err)
	}
	return s, nil
}

// DeleteSample removes a sample; its logs go with it through the cascade.
func (d *DB) DeleteSample(ctx context.Context, id int64) error {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM alert_sample WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sample %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sample %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanSample(row pgx.Row) (models.AlertSample, error) {
	var (
		s                        models.AlertSample
		photo, document, company *string
		sender, interval         *string
		startDate                pgtype.Date
		startTime                pgtype.Time
	)
	err := row.Scan(
		&s.ID,
		&s.ServiceID,
		&s.ConfigID,
		&s.UserID,
		&s.Title,
		&s.Body,
		&photo,
		&document,
		&company,
		&sender,
		&s.IsCommon,
		&startDate,
		&startTime,
		&s.EndDate,
		&s.IsRecurring,
		&interval,
		&s.CreatedAt,
	)
	if err != nil {
		return models.AlertSample{}, err
	}
	s.PhotoUpload = derefString(photo)
	s.DocumentUpload = derefString(document)
	s.CompanyName = derefString(company)
	s.SenderName = derefString(sender)
	s.RecurrenceInterval = derefString(interval)
	s.StartAt = joinDateTime(startDate, startTime)
	s.EndDate = utcPtr(s.EndDate)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}
