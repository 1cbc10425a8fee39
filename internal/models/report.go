package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type ReportKind string

const (
	ReportKindAggregate ReportKind = "aggregate"
	ReportKindForensic  ReportKind = "forensic"
	ReportKindTLS       ReportKind = "tls"
)

// AggregateReport is one DMARC aggregate (RUA) report as received from a
// reporting organization.
type AggregateReport struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	DedupKey         string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	OrgName          string    `gorm:"size:255;index" json:"org_name"`
	Email            string    `json:"email"`
	ExtraContactInfo string    `json:"extra_contact_info,omitempty"`
	ReportID         string    `gorm:"size:255;index" json:"report_id"`
	Domain           string    `gorm:"size:255;index" json:"domain"`
	DateBegin        time.Time `gorm:"index" json:"date_begin"`
	DateEnd          time.Time `gorm:"index" json:"date_end"`

	// Published policy
	PolicyADKIM string `gorm:"size:8" json:"policy_adkim"`
	PolicyASPF  string `gorm:"size:8" json:"policy_aspf"`
	PolicyP     string `gorm:"size:16" json:"policy_p"`
	PolicySP    string `gorm:"size:16" json:"policy_sp"`
	PolicyPct   int    `json:"policy_pct"`

	Records   []AggregateRecord `json:"records"`
	CreatedAt time.Time         `json:"created_at"`
}

// AggregateRecord is a single <record> row: one source IP and its
// authentication outcome.
type AggregateRecord struct {
	ID                uint   `gorm:"primarykey" json:"id"`
	AggregateReportID uint   `gorm:"index;not null" json:"aggregate_report_id"`
	SourceIP          string `gorm:"size:64;index" json:"source_ip"`
	Count             int    `json:"count"`
	Disposition       string `gorm:"size:16" json:"disposition"`
	DKIMResult        string `gorm:"size:16" json:"dkim_result"` // policy evaluated
	SPFResult         string `gorm:"size:16" json:"spf_result"`  // policy evaluated
	HeaderFrom        string `json:"header_from"`
	EnvelopeFrom      string `json:"envelope_from,omitempty"`
	DKIMDomain        string `json:"dkim_domain,omitempty"`
	DKIMSelector      string `json:"dkim_selector,omitempty"`
	DKIMAuthResult    string `gorm:"size:16" json:"dkim_auth_result,omitempty"`
	SPFDomain         string `json:"spf_domain,omitempty"`
	SPFAuthResult     string `gorm:"size:16" json:"spf_auth_result,omitempty"`
}

// Passed reports whether the row passed DMARC, i.e. either aligned DKIM or
// aligned SPF passed.
func (r AggregateRecord) Passed() bool {
	return strings.EqualFold(r.DKIMResult, "pass") || strings.EqualFold(r.SPFResult, "pass")
}

func (r *AggregateReport) NaturalKey() string {
	return naturalKey(ReportKindAggregate, r.OrgName, r.Domain, r.ReportID, stamp(r.DateBegin), stamp(r.DateEnd))
}

// ForensicReport is one DMARC failure (RUF) report in ARF format.
type ForensicReport struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	DedupKey         string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	Domain           string    `gorm:"size:255;index" json:"domain"`
	ReportingOrg     string    `gorm:"size:255" json:"reporting_org"`
	FeedbackType     string    `gorm:"size:32" json:"feedback_type"`
	ArrivalDate      time.Time `gorm:"index" json:"arrival_date"`
	SourceIP         string    `gorm:"size:64" json:"source_ip"`
	OriginalMailFrom string    `json:"original_mail_from"`
	OriginalRcptTo   string    `json:"original_rcpt_to"`
	Subject          string    `json:"subject"`
	MessageID        string    `json:"message_id"`
	AuthResults      string    `json:"auth_results"`
	SPFResult        string    `gorm:"size:16" json:"spf_result"`
	DKIMResult       string    `gorm:"size:16" json:"dkim_result"`
	DMARCResult      string    `gorm:"size:16" json:"dmarc_result"`
	DKIMDomain       string    `json:"dkim_domain,omitempty"`
	DKIMSelector     string    `json:"dkim_selector,omitempty"`
	DeliveryResult   string    `gorm:"size:32" json:"delivery_result"`
	CreatedAt        time.Time `json:"created_at"`
}

func (r *ForensicReport) NaturalKey() string {
	return naturalKey(ReportKindForensic, r.Domain, r.MessageID, r.SourceIP, stamp(r.ArrivalDate), r.FeedbackType)
}

// TLSReport is one SMTP TLS-RPT (RFC 8460) report.
type TLSReport struct {
	ID           uint        `gorm:"primarykey" json:"id"`
	DedupKey     string      `gorm:"size:64;uniqueIndex;not null" json:"-"`
	OrgName      string      `gorm:"size:255;index" json:"org_name"`
	ContactInfo  string      `json:"contact_info"`
	ReportID     string      `gorm:"size:255;index" json:"report_id"`
	Domain       string      `gorm:"size:255;index" json:"domain"`
	DateBegin    time.Time   `gorm:"index" json:"date_begin"`
	DateEnd      time.Time   `gorm:"index" json:"date_end"`
	TotalSuccess int64       `json:"total_success"`
	TotalFailure int64       `json:"total_failure"`
	Policies     []TLSPolicy `json:"policies"`
	CreatedAt    time.Time   `json:"created_at"`
}

type TLSPolicy struct {
	ID             uint   `gorm:"primarykey" json:"id"`
	TLSReportID    uint   `gorm:"index;not null" json:"tls_report_id"`
	PolicyType     string `gorm:"size:16" json:"policy_type"`
	PolicyDomain   string `gorm:"size:255;index" json:"policy_domain"`
	MXHosts        string `json:"mx_hosts"`
	SuccessCount   int64  `json:"success_count"`
	FailureCount   int64  `json:"failure_count"`
	FailureDetails string `gorm:"type:text" json:"failure_details"` // raw JSON
}

func (r *TLSReport) NaturalKey() string {
	return naturalKey(ReportKindTLS, r.OrgName, r.ReportID, stamp(r.DateBegin), stamp(r.DateEnd))
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func naturalKey(kind ReportKind, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
	}
	return hex.EncodeToString(h.Sum(nil))
}
