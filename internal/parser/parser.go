// Package parser turns raw DMARC aggregate, DMARC failure (ARF) and SMTP
// TLS-RPT payloads into store models.
package parser

import (
	"bytes"
	"fmt"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
)

// Report is the result of parsing one payload. Exactly one of the pointers
// is set, matching Kind.
type Report struct {
	Kind      models.ReportKind
	Aggregate *models.AggregateReport
	Forensic  *models.ForensicReport
	TLS       *models.TLSReport
}

// Domain returns the policy domain the report is about.
func (r *Report) Domain() string {
	switch {
	case r.Aggregate != nil:
		return r.Aggregate.Domain
	case r.Forensic != nil:
		return r.Forensic.Domain
	case r.TLS != nil:
		return r.TLS.Domain
	}
	return ""
}

// Detect guesses the report kind from the payload's content signature.
func Detect(data []byte) (models.ReportKind, error) {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))

	switch {
	case bytes.Contains(bytes.ToLower(head), []byte("message/feedback-report")):
		return models.ReportKindForensic, nil
	case bytes.HasPrefix(trimmed, []byte("<")) && bytes.Contains(data, []byte("<feedback")):
		return models.ReportKindAggregate, nil
	case bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(data, []byte(`"policies"`)):
		return models.ReportKindTLS, nil
	}
	return "", faults.Parse("detect", fmt.Errorf("unrecognized report payload"))
}

// Parse decodes data as a report of the given kind. An empty kind triggers
// detection. Every error returned is a ParseFailure.
func Parse(data []byte, kind models.ReportKind) (*Report, error) {
	if kind == "" {
		var err error
		if kind, err = Detect(data); err != nil {
			return nil, err
		}
	}

	switch kind {
	case models.ReportKindAggregate:
		r, err := ParseAggregate(data)
		if err != nil {
			return nil, err
		}
		return &Report{Kind: kind, Aggregate: r}, nil
	case models.ReportKindForensic:
		r, err := ParseForensic(data)
		if err != nil {
			return nil, err
		}
		return &Report{Kind: kind, Forensic: r}, nil
	case models.ReportKindTLS:
		r, err := ParseTLS(data)
		if err != nil {
			return nil, err
		}
		return &Report{Kind: kind, TLS: r}, nil
	}
	return nil, faults.Parse("parse", fmt.Errorf("unknown report kind %q", kind))
}
