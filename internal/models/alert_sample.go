package models

import (
	"path/filepath"
	"strings"
	"time"
)

// AlertSample is an announcement definition, possibly recurring.
// StartAt is persisted as the start_date/start_time UTC pair.
type AlertSample struct {
	ID                 int64      `json:"id"`
	ServiceID          int64      `json:"service_id"`
	ConfigID           int64      `json:"config_id"`
	UserID             *int64     `json:"user_id,omitempty"`
	Title              string     `json:"title"`
	Body               string     `json:"body"`
	PhotoUpload        string     `json:"photo_upload,omitempty"`
	DocumentUpload     string     `json:"document_upload,omitempty"`
	CompanyName        string     `json:"company_name,omitempty"`
	SenderName         string     `json:"sender_name,omitempty"`
	IsCommon           bool       `json:"is_common"`
	StartAt            time.Time  `json:"start_at"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	IsRecurring        bool       `json:"is_recurring"`
	RecurrenceInterval string     `json:"recurrence_interval,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// SampleCreate is the input accepted by the admin API.
type SampleCreate struct {
	ServiceID          int64      `json:"service_id" binding:"required"`
	ConfigID           int64      `json:"config_id" binding:"required"`
	UserID             *int64     `json:"user_id,omitempty"`
	Title              string     `json:"title" binding:"required"`
	Body               string     `json:"body"`
	PhotoUpload        string     `json:"photo_upload,omitempty"`
	DocumentUpload     string     `json:"document_upload,omitempty"`
	CompanyName        string     `json:"company_name,omitempty"`
	SenderName         string     `json:"sender_name,omitempty"`
	IsCommon           bool       `json:"is_common"`
	StartAt            *time.Time `json:"start_at,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	IsRecurring        bool       `json:"is_recurring"`
	RecurrenceInterval string     `json:"recurrence_interval,omitempty"`
}

// Attachment returns the file that travels with the message: the photo when
// one is set, otherwise the document.
func (s AlertSample) Attachment() string {
	if s.PhotoUpload != "" {
		return s.PhotoUpload
	}
	return s.DocumentUpload
}

// Audience derives the log audience from the sample's targeting.
func (s AlertSample) Audience() Audience {
	switch {
	case s.UserID != nil:
		return AudienceSingle
	case s.IsCommon:
		return AudienceCommon
	default:
		return AudienceAll
	}
}

// AttachmentPath resolves the attachment under uploadDir. Only the base name
// of the stored filename is used.
func (s AlertSample) AttachmentPath(uploadDir string) string {
	name := s.Attachment()
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return filepath.Join(uploadDir, filepath.Base(name))
}
