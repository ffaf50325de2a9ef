package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"alert-dispatcher/internal/models"
)

// GetConfig loads a delivery config by id, disabled ones included.
func (d *DB) GetConfig(ctx context.Context, id int64) (models.AlertConfig, error) {
	query := `
	SELECT id, service_id, COALESCE(group_name, ''), COALESCE(group_id, ''), COALESCE(auth_token, ''), status
	FROM alert_config
	WHERE id = $1`
	var c models.AlertConfig
	err := d.Pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.ServiceID,
		&c.GroupName,
		&c.GroupID,
		&c.AuthToken,
		&c.Enabled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AlertConfig{}, fmt.Errorf("config %d: %w", id, ErrNotFound)
		}
		return models.AlertConfig{}, fmt.Errorf("failed to get config %d: %w", id, err)
	}
	return c, nil
}

func (d *DB) GetService(ctx context.Context, id int64) (models.AlertService, error) {
	query := `SELECT id, code, name, COALESCE(description, '') FROM alert_service WHERE id = $1`
	var s models.AlertService
	err := d.Pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.Code, &s.Name, &s.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AlertService{}, fmt.Errorf("service %d: %w", id, ErrNotFound)
		}
		return models.AlertService{}, fmt.Errorf("failed to get service %d: %w", id, err)
	}
	return s, nil
}

// GetUser loads the account fields needed for direct delivery.
func (d *DB) GetUser(ctx context.Context, id int64) (models.User, error) {
	query := `SELECT id, username, telegram_chat_id FROM users WHERE id = $1`
	var u models.User
	err := d.Pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.TelegramChatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return models.User{}, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}
