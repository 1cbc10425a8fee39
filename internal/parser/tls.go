package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
)

// JSON shape of an RFC 8460 TLS report.
type tlsrpt struct {
	OrganizationName string `json:"organization-name"`
	DateRange        struct {
		Start time.Time `json:"start-datetime"`
		End   time.Time `json:"end-datetime"`
	} `json:"date-range"`
	ContactInfo string `json:"contact-info"`
	ReportID    string `json:"report-id"`
	Policies    []struct {
		Policy struct {
			Type   string   `json:"policy-type"`
			Domain string   `json:"policy-domain"`
			MXHost []string `json:"mx-host"`
		} `json:"policy"`
		Summary struct {
			Success int64 `json:"total-successful-session-count"`
			Failure int64 `json:"total-failure-session-count"`
		} `json:"summary"`
		FailureDetails json.RawMessage `json:"failure-details"`
	} `json:"policies"`
}

// ParseTLS decodes an SMTP TLS-RPT JSON report. The report domain is the
// first policy's domain.
func ParseTLS(data []byte) (*models.TLSReport, error) {
	var doc tlsrpt
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, faults.Parse("decode tls report json", err)
	}

	r := &models.TLSReport{
		OrgName:     strings.TrimSpace(doc.OrganizationName),
		ContactInfo: strings.TrimSpace(doc.ContactInfo),
		ReportID:    strings.TrimSpace(doc.ReportID),
		DateBegin:   doc.DateRange.Start.UTC(),
		DateEnd:     doc.DateRange.End.UTC(),
	}
	switch {
	case r.OrgName == "":
		return nil, faults.Parse("tls report", fmt.Errorf("missing organization-name"))
	case r.ReportID == "":
		return nil, faults.Parse("tls report", fmt.Errorf("missing report-id"))
	case len(doc.Policies) == 0:
		return nil, faults.Parse("tls report", fmt.Errorf("no policies"))
	case r.DateEnd.Before(r.DateBegin):
		return nil, faults.Parse("tls report", fmt.Errorf("date range ends before it begins"))
	}

	for _, p := range doc.Policies {
		details := ""
		if len(p.FailureDetails) > 0 && string(p.FailureDetails) != "null" {
			details = string(p.FailureDetails)
		}
		policy := models.TLSPolicy{
			PolicyType:     strings.ToLower(strings.TrimSpace(p.Policy.Type)),
			PolicyDomain:   strings.ToLower(strings.TrimSpace(p.Policy.Domain)),
			MXHosts:        strings.Join(p.Policy.MXHost, ","),
			SuccessCount:   p.Summary.Success,
			FailureCount:   p.Summary.Failure,
			FailureDetails: details,
		}
		if r.Domain == "" {
			r.Domain = policy.PolicyDomain
		}
		r.TotalSuccess += policy.SuccessCount
		r.TotalFailure += policy.FailureCount
		r.Policies = append(r.Policies, policy)
	}
	return r, nil
}
