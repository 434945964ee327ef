package db

import (
	"time"

	"gorm.io/datatypes"
)

// Event is a single application log event. Rows are immutable once written;
// only the retention worker ever removes them.
type Event struct {
	ID string `gorm:"primaryKey;size:36"`

	ProjectID string    `gorm:"size:64;not null;index:idx_events_project_ts,priority:1"`
	Timestamp time.Time `gorm:"column:occurred_at;not null;index:idx_events_project_ts,priority:2,sort:desc"`

	// KeyID and KeyType record the credential that produced the event. Keys
	// are never physically deleted, so this join always resolves.
	KeyID   string `gorm:"size:36;not null;index"`
	KeyType string `gorm:"size:8;not null;index"`

	Message string `gorm:"type:text;not null"`
	UserID  string `gorm:"size:255;index"`

	// Meta holds an opaque, size-bounded key/value payload.
	Meta datatypes.JSONMap `gorm:"type:json"`

	RemoteIP  string `gorm:"size:64"`
	UserAgent string `gorm:"size:512"`

	CreatedAt time.Time

	// ExpiresAt is the timestamp after which this event is eligible
	// for deletion by the retention worker. A nil value means the
	// event does not currently expire.
	ExpiresAt *time.Time `gorm:"index"`
}

// BucketCounter accumulates the number of events a project received in one
// fixed-width UTC window. ID is the bucket id ({project}_{YYYYMMDD}_{HHmm}).
// Rows are created lazily and only ever incremented.
type BucketCounter struct {
	ID string `gorm:"primaryKey;size:128"`

	ProjectID   string    `gorm:"size:64;not null;index:idx_bucket_project_start,priority:1"`
	WindowStart time.Time `gorm:"not null;index:idx_bucket_project_start,priority:2"`
	WindowEnd   time.Time `gorm:"not null"`

	EventCount int64 `gorm:"not null;default:0"`
}

// Project is owned by the project-management collaborator. The core reads
// it for bucket width, retention and alert configuration.
type Project struct {
	ID   string `gorm:"primaryKey;size:64"`
	Name string `gorm:"size:128;not null"`

	// BucketWidthMinutes overrides the system default when > 0.
	BucketWidthMinutes int `gorm:"not null;default:0"`

	// RetentionDays overrides the system default when > 0.
	RetentionDays int `gorm:"not null;default:0"`

	AlertSMSEnabled bool                        `gorm:"not null;default:false"`
	AlertTargets    datatypes.JSONSlice[string] `gorm:"type:json"`

	// AlertThresholdCount <= 0 disables alerting for the project.
	AlertThresholdCount int `gorm:"not null;default:0"`
	AlertWindowMinutes  int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	AlertStatusPending = "pending"
	AlertStatusSent    = "sent"
	AlertStatusFailed  = "failed"
)

// Alert records one breach episode. Status only moves forward:
// pending -> sent or pending -> failed.
type Alert struct {
	ID string `gorm:"primaryKey;size:128"`

	ProjectID string `gorm:"size:64;not null;index"`
	Status    string `gorm:"size:16;not null;index"`
	Message   string `gorm:"type:text;not null"`

	EventCount  int64     `gorm:"not null"`
	WindowStart time.Time `gorm:"not null"`
	WindowEnd   time.Time `gorm:"not null"`

	SentAt *time.Time

	// ClaimedUntil is the delivery lease held by a dispatcher. Other
	// dispatchers skip the alert until it lapses.
	ClaimedUntil *time.Time `gorm:"index"`

	Recipients datatypes.JSONSlice[string] `gorm:"type:json"`
	Error      string                      `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// AlertGuard holds the window of the last alert claimed for a project.
// The evaluator advances it with a conditional update so that concurrent
// evaluations cannot both open an alert for overlapping windows.
type AlertGuard struct {
	ProjectID   string    `gorm:"primaryKey;size:64"`
	WindowStart time.Time `gorm:"not null"`
	WindowEnd   time.Time `gorm:"not null"`
}

// BucketWidth returns the project's bucket width, or def when unset.
func (p *Project) BucketWidth(def int) int {
	if p.BucketWidthMinutes > 0 {
		return p.BucketWidthMinutes
	}
	return def
}

// Retention returns the project's event retention in days, or def when unset.
func (p *Project) Retention(def int) int {
	if p.RetentionDays > 0 {
		return p.RetentionDays
	}
	return def
}

// AlertingEnabled reports whether the project has a usable threshold.
func (p *Project) AlertingEnabled() bool {
	return p.AlertThresholdCount > 0 && p.AlertWindowMinutes > 0
}
