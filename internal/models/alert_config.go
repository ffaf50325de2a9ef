package models

import "time"

// AlertService is a tenant/integration category owning configs and samples.
type AlertService struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AlertConfig is a Telegram destination bound to a service.
type AlertConfig struct {
	ID        int64  `json:"id"`
	ServiceID int64  `json:"service_id"`
	GroupName string `json:"group_name,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	AuthToken string `json:"-"`
	Enabled   bool   `json:"enabled"`
}

// Destination returns the configured group id, treating the legacy "None"
// literal as unset.
func (c AlertConfig) Destination() string {
	if c.GroupID == "None" {
		return ""
	}
	return c.GroupID
}

// TestCredentials redirect test sends away from production destinations.
type TestCredentials struct {
	ID          int64     `json:"id"`
	ServiceCode string    `json:"service_code"`
	GroupID     string    `json:"group_id"`
	AuthToken   string    `json:"-"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is the read-only slice of the account record used for direct sends.
type User struct {
	ID             int64   `json:"id"`
	Username       string  `json:"username"`
	TelegramChatID *string `json:"telegram_chat_id,omitempty"`
}
