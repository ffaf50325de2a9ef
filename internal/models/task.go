package models

import "time"

// DeliveryTask references one claimed log. Attempt starts at 1; a task with
// NotBefore in the future must not run before that instant.
type DeliveryTask struct {
	RequestID string    `json:"request_id"`
	LogID     int64     `json:"log_id"`
	Attempt   int       `json:"attempt"`
	NotBefore time.Time `json:"not_before,omitempty"`
}
