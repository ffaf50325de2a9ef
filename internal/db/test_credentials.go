package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"alert-dispatcher/internal/models"
)

// GetActiveTestCredentials returns the active test destination of a service.
func (d *DB) GetActiveTestCredentials(ctx context.Context, serviceCode string) (models.TestCredentials, error) {
	query := `
	SELECT id, service_code, COALESCE(group_id, ''), COALESCE(auth_token, ''), is_active, updated_at
	FROM test_credentials
	WHERE service_code = $1 AND is_active`
	var tc models.TestCredentials
	err := d.Pool.QueryRow(ctx, query, serviceCode).Scan(
		&tc.ID, &tc.ServiceCode, &tc.GroupID, &tc.AuthToken, &tc.IsActive, &tc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TestCredentials{}, fmt.Errorf("active test credentials for %s: %w", serviceCode, ErrNotFound)
		}
		return models.TestCredentials{}, fmt.Errorf("failed to get test credentials for %s: %w", serviceCode, err)
	}
	return tc, nil
}

// ActivateTestCredentials makes one row the active test destination of its
// service, deactivating its siblings in the same transaction.
func (d *DB) ActivateTestCredentials(ctx context.Context, id int64, now time.Time) error {
	return d.withTx(ctx, func(tx pgx.Tx) error {
		var code string
		err := tx.QueryRow(ctx, `SELECT service_code FROM test_credentials WHERE id = $1 FOR UPDATE`, id).Scan(&code)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("test credentials %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to lock test credentials %d: %w", id, err)
		}

		_, err = tx.Exec(ctx, `
		UPDATE test_credentials SET is_active = FALSE, updated_at = $3
		WHERE service_code = $1 AND id <> $2 AND is_active`, code, id, now.UTC())
		if err != nil {
			return fmt.Errorf("failed to deactivate test credentials for %s: %w", code, err)
		}

		_, err = tx.Exec(ctx, `
		UPDATE test_credentials SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, now.UTC())
		if err != nil {
			return fmt.Errorf("failed to activate test credentials %d: %w", id, err)
		}
		return nil
	})
}
