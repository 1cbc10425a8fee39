package models

import (
	"time"
)

type Operator string

const (
	OperatorGT  Operator = ">"
	OperatorLT  Operator = "<"
	OperatorGTE Operator = ">="
	OperatorLTE Operator = "<="
	OperatorEQ  Operator = "=="
)

type Metric string

const (
	MetricDMARCFailureRate Metric = "dmarc_failure_rate" // percent of messages failing DMARC
	MetricSPFFailureRate   Metric = "spf_failure_rate"
	MetricDKIMFailureRate  Metric = "dkim_failure_rate"
	MetricTLSFailureRate   Metric = "tls_failure_rate" // percent of failed TLS sessions
	MetricMessageVolume    Metric = "message_volume"
	MetricForensicCount    Metric = "forensic_count"
)

type AlertRule struct {
	ID             uint       `gorm:"primarykey" json:"id"`
	Name           string     `gorm:"size:255;uniqueIndex;not null" json:"name" validate:"required"`
	Description    string     `json:"description"`
	Domain         string     `gorm:"size:255" json:"domain"` // Optional, empty evaluates every domain
	Metric         Metric     `gorm:"size:32;not null" json:"metric" validate:"required,oneof=dmarc_failure_rate spf_failure_rate dkim_failure_rate tls_failure_rate message_volume forensic_count"`
	Operator       Operator   `gorm:"size:4;not null" json:"operator" validate:"required,oneof=> < >= <= =="`
	Threshold      float64    `gorm:"not null" json:"threshold"`
	Window         int        `gorm:"not null" json:"window" validate:"gt=0"` // In seconds
	MinMessages    int        `json:"min_messages"`
	CooldownPeriod int        `json:"cooldown_period" validate:"gte=0"` // In seconds, minimum time between alerts per scope
	Level          AlertLevel `gorm:"size:16;not null" json:"level" validate:"required,oneof=INFO WARNING CRITICAL"`
	Recipients     []string   `gorm:"serializer:json" json:"recipients" validate:"dive,email"`
	IsEnabled      bool       `json:"is_enabled"`
	LastTriggered  *time.Time `json:"last_triggered"`
	LastChecked    *time.Time `json:"last_checked"`
	TriggerCount   int        `gorm:"default:0" json:"trigger_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
