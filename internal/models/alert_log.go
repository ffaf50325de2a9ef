package models

import (
	"fmt"
	"time"
)

// LogStatus is the delivery state of an AlertLog.
type LogStatus string

const (
	StatusScheduled LogStatus = "scheduled"
	StatusQueued    LogStatus = "queued"
	StatusSending   LogStatus = "sending"
	StatusSent      LogStatus = "sent"
	StatusFailed    LogStatus = "failed"
)

// ParseLogStatus rejects values outside the state machine.
func ParseLogStatus(s string) (LogStatus, error) {
	switch st := LogStatus(s); st {
	case StatusScheduled, StatusQueued, StatusSending, StatusSent, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown log status %q", s)
	}
}

// Audience tells who a log was addressed to.
type Audience string

const (
	AudienceSingle Audience = "single"
	AudienceCommon Audience = "common"
	AudienceAll    Audience = "all"
)

func ParseAudience(s string) (Audience, error) {
	switch a := Audience(s); a {
	case AudienceSingle, AudienceCommon, AudienceAll:
		return a, nil
	default:
		return "", fmt.Errorf("unknown audience %q", s)
	}
}

// AlertLog is one delivery lifecycle of one scheduled occurrence.
type AlertLog struct {
	ID           int64      `json:"id"`
	SampleID     int64      `json:"sample_id"`
	ServiceID    int64      `json:"service_id"`
	ConfigID     int64      `json:"config_id"`
	SenderID     *int64     `json:"sender_id,omitempty"`
	TargetUserID *int64     `json:"target_user_id,omitempty"`
	Audience     Audience   `json:"audience"`
	Status       LogStatus  `json:"status"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	QueuedAt     time.Time  `json:"queued_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewOccurrenceLog builds the queued log for one occurrence of a sample.
func NewOccurrenceLog(s AlertSample, scheduledFor, now time.Time) AlertLog {
	return AlertLog{
		SampleID:     s.ID,
		ServiceID:    s.ServiceID,
		ConfigID:     s.ConfigID,
		SenderID:     s.UserID,
		TargetUserID: s.UserID,
		Audience:     s.Audience(),
		Status:       StatusQueued,
		ScheduledFor: scheduledFor.UTC(),
		QueuedAt:     now.UTC(),
	}
}

// LogStatusUpdate is pushed to live subscribers whenever a log changes state.
type LogStatusUpdate struct {
	LogID        int64     `json:"log_id"`
	SampleID     int64     `json:"sample_id"`
	Status       LogStatus `json:"status"`
	RetryCount   int       `json:"retry_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}
