package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
	"github.com/emersion/go-message/charset"
)

// XML shape of an RFC 7489 aggregate report.
type feedback struct {
	XMLName  xml.Name `xml:"feedback"`
	Metadata struct {
		OrgName          string `xml:"org_name"`
		Email            string `xml:"email"`
		ExtraContactInfo string `xml:"extra_contact_info"`
		ReportID         string `xml:"report_id"`
		DateRange        struct {
			Begin string `xml:"begin"`
			End   string `xml:"end"`
		} `xml:"date_range"`
	} `xml:"report_metadata"`
	Policy struct {
		Domain string `xml:"domain"`
		ADKIM  string `xml:"adkim"`
		ASPF   string `xml:"aspf"`
		P      string `xml:"p"`
		SP     string `xml:"sp"`
		Pct    string `xml:"pct"`
	} `xml:"policy_published"`
	Records []struct {
		Row struct {
			SourceIP  string `xml:"source_ip"`
			Count     string `xml:"count"`
			Evaluated struct {
				Disposition string `xml:"disposition"`
				DKIM        string `xml:"dkim"`
				SPF         string `xml:"spf"`
			} `xml:"policy_evaluated"`
		} `xml:"row"`
		Identifiers struct {
			HeaderFrom   string `xml:"header_from"`
			EnvelopeFrom string `xml:"envelope_from"`
		} `xml:"identifiers"`
		AuthResults struct {
			DKIM []struct {
				Domain   string `xml:"domain"`
				Selector string `xml:"selector"`
				Result   string `xml:"result"`
			} `xml:"dkim"`
			SPF []struct {
				Domain string `xml:"domain"`
				Result string `xml:"result"`
			} `xml:"spf"`
		} `xml:"auth_results"`
	} `xml:"record"`
}

// ParseAggregate decodes a DMARC aggregate XML report.
func ParseAggregate(data []byte) (*models.AggregateReport, error) {
	var fb feedback
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.Reader
	if err := dec.Decode(&fb); err != nil {
		return nil, faults.Parse("decode aggregate xml", err)
	}

	md := fb.Metadata
	r := &models.AggregateReport{
		OrgName:          strings.TrimSpace(md.OrgName),
		Email:            strings.TrimSpace(md.Email),
		ExtraContactInfo: strings.TrimSpace(md.ExtraContactInfo),
		ReportID:         strings.TrimSpace(md.ReportID),
		Domain:           strings.ToLower(strings.TrimSpace(fb.Policy.Domain)),
		PolicyADKIM:      strings.TrimSpace(fb.Policy.ADKIM),
		PolicyASPF:       strings.TrimSpace(fb.Policy.ASPF),
		PolicyP:          strings.TrimSpace(fb.Policy.P),
		PolicySP:         strings.TrimSpace(fb.Policy.SP),
		PolicyPct:        100,
	}
	if pct := strings.TrimSpace(fb.Policy.Pct); pct != "" {
		n, err := strconv.Atoi(pct)
		if err != nil {
			return nil, faults.Parse("aggregate policy pct", err)
		}
		r.PolicyPct = n
	}

	var err error
	if r.DateBegin, err = unixTime(md.DateRange.Begin); err != nil {
		return nil, faults.Parse("aggregate date_range begin", err)
	}
	if r.DateEnd, err = unixTime(md.DateRange.End); err != nil {
		return nil, faults.Parse("aggregate date_range end", err)
	}

	switch {
	case r.OrgName == "":
		return nil, faults.Parse("aggregate report", fmt.Errorf("missing org_name"))
	case r.ReportID == "":
		return nil, faults.Parse("aggregate report", fmt.Errorf("missing report_id"))
	case r.Domain == "":
		return nil, faults.Parse("aggregate report", fmt.Errorf("missing policy domain"))
	case r.DateEnd.Before(r.DateBegin):
		return nil, faults.Parse("aggregate report", fmt.Errorf("date range ends before it begins"))
	}

	for i, rec := range fb.Records {
		count, err := strconv.Atoi(strings.TrimSpace(rec.Row.Count))
		if err != nil || count < 0 {
			return nil, faults.Parse(fmt.Sprintf("aggregate record %d", i), fmt.Errorf("invalid count %q", rec.Row.Count))
		}
		row := models.AggregateRecord{
			SourceIP:     strings.TrimSpace(rec.Row.SourceIP),
			Count:        count,
			Disposition:  strings.ToLower(strings.TrimSpace(rec.Row.Evaluated.Disposition)),
			DKIMResult:   strings.ToLower(strings.TrimSpace(rec.Row.Evaluated.DKIM)),
			SPFResult:    strings.ToLower(strings.TrimSpace(rec.Row.Evaluated.SPF)),
			HeaderFrom:   strings.ToLower(strings.TrimSpace(rec.Identifiers.HeaderFrom)),
			EnvelopeFrom: strings.ToLower(strings.TrimSpace(rec.Identifiers.EnvelopeFrom)),
		}
		// The first auth result of each type is the one that counted.
		if len(rec.AuthResults.DKIM) > 0 {
			d := rec.AuthResults.DKIM[0]
			row.DKIMDomain = strings.TrimSpace(d.Domain)
			row.DKIMSelector = strings.TrimSpace(d.Selector)
			row.DKIMAuthResult = strings.ToLower(strings.TrimSpace(d.Result))
		}
		if len(rec.AuthResults.SPF) > 0 {
			s := rec.AuthResults.SPF[0]
			row.SPFDomain = strings.TrimSpace(s.Domain)
			row.SPFAuthResult = strings.ToLower(strings.TrimSpace(s.Result))
		}
		r.Records = append(r.Records, row)
	}
	return r, nil
}

func unixTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0).UTC(), nil
}
