package models

import (
	"time"
)

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
)

// Recurrence holds the bookkeeping shared by every recurring job definition:
// when it runs next, how the last attempt went, and who currently holds it.
type Recurrence struct {
	NextRunAt  *time.Time `gorm:"index" json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at"`
	LastStatus RunStatus  `gorm:"size:16;default:pending" json:"last_status"`
	LastError  string     `gorm:"type:text" json:"last_error"`

	// Claim columns. A row is claimed while ClaimToken is set and ClaimedAt
	// is within the lease; Version changes on every claim and completion.
	ClaimToken string     `gorm:"size:36" json:"-"`
	ClaimedAt  *time.Time `json:"-"`
	Version    int        `gorm:"not null;default:0" json:"-"`
}

// ReportSchedule is a recurring PDF report definition.
type ReportSchedule struct {
	ID               uint              `gorm:"primarykey" json:"id"`
	Name             string            `gorm:"size:255;uniqueIndex;not null" json:"name" validate:"required"`
	Template         string            `gorm:"size:64;not null" json:"template" validate:"required,oneof=domain_summary top_sources forensic_digest"`
	Title            string            `json:"title"`
	Frequency        string            `gorm:"size:64;not null" json:"frequency" validate:"required,frequency"` // daily, weekly, monthly or cron
	Recipients       []string          `gorm:"serializer:json" json:"recipients" validate:"required,min=1,dive,email"`
	DomainFilter     string            `gorm:"size:255" json:"domain_filter,omitempty"`
	Parameters       map[string]string `gorm:"serializer:json" json:"parameters,omitempty"`
	Enabled          bool              `json:"enabled"`
	LastGenerationID *uint             `json:"last_generation_id"`
	Recurrence       `gorm:"embedded"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ReportGeneration records one executed report run. Rows are never updated.
type ReportGeneration struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	ScheduleID *uint     `gorm:"index" json:"schedule_id"` // nil for manual runs
	Template   string    `gorm:"size:64" json:"template"`
	Title      string    `json:"title"`
	Status     RunStatus `gorm:"size:16;not null" json:"status"`
	FilePath   string    `json:"file_path"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// DigestSubscription is a recurring summary email.
type DigestSubscription struct {
	ID           uint     `gorm:"primarykey" json:"id"`
	Name         string   `gorm:"size:255;not null" json:"name" validate:"required"`
	Cadence      string   `gorm:"size:64;not null" json:"cadence" validate:"required,frequency"`
	Recipients   []string `gorm:"serializer:json" json:"recipients" validate:"required,min=1,dive,email"`
	DomainFilter string   `gorm:"size:255" json:"domain_filter,omitempty"`
	Enabled      bool     `json:"enabled"`
	Recurrence   `gorm:"embedded"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
