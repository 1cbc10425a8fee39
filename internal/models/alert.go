package models

import (
	"time"
)

type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "INFO"
	AlertLevelWarning  AlertLevel = "WARNING"
	AlertLevelCritical AlertLevel = "CRITICAL"
)

type IncidentStatus string

const (
	IncidentStatusActive   IncidentStatus = "ACTIVE"
	IncidentStatusResolved IncidentStatus = "RESOLVED"
)

// AlertIncident records that a rule fired for a scope (a domain).
type AlertIncident struct {
	ID           uint           `gorm:"primarykey" json:"id"`
	RuleID       uint           `gorm:"index:idx_incident_rule_scope" json:"rule_id"`
	RuleName     string         `json:"rule_name"`
	Scope        string         `gorm:"size:255;index:idx_incident_rule_scope" json:"scope"`
	Metric       Metric         `gorm:"size:32" json:"metric"`
	Operator     Operator       `gorm:"size:4" json:"operator"`
	Threshold    float64        `json:"threshold"`
	CurrentValue float64        `json:"current_value"`
	Level        AlertLevel     `gorm:"size:16" json:"level"`
	Message      string         `gorm:"type:text" json:"message"`
	Status       IncidentStatus `gorm:"size:16" json:"status"`
	FiredAt      time.Time      `gorm:"index" json:"fired_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	NotifyError  string         `gorm:"type:text" json:"notify_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AlertRuleState is the cool-down ledger for one (rule, scope) pair.
type AlertRuleState struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	RuleID      uint       `gorm:"uniqueIndex:idx_rule_state_scope;not null" json:"rule_id"`
	Scope       string     `gorm:"size:255;uniqueIndex:idx_rule_state_scope;not null" json:"scope"`
	LastFiredAt *time.Time `json:"last_fired_at"`
	FireCount   int        `gorm:"not null;default:0" json:"fire_count"`
}
