package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// ParseForensic decodes an ARF (RFC 5965/6591) failure report from the full
// multipart/report message.
func ParseForensic(data []byte) (*models.ForensicReport, error) {
	entity, err := message.Read(bytes.NewReader(data))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, faults.Parse("read failure report", err)
	}
	mr := entity.MultipartReader()
	if mr == nil {
		return nil, faults.Parse("read failure report", fmt.Errorf("not a multipart message"))
	}

	var feedback, original textproto.Header
	var haveFeedback bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, faults.Parse("read failure report part", err)
		}
		ct, _, _ := part.Header.ContentType()
		switch strings.ToLower(ct) {
		case "message/feedback-report":
			h, herr := textproto.ReadHeader(bufio.NewReader(part.Body))
			if herr != nil && herr != io.EOF {
				return nil, faults.Parse("read feedback-report fields", herr)
			}
			feedback = h
			haveFeedback = true
		case "message/rfc822", "text/rfc822-headers", "message/rfc822-headers":
			// Only the headers of the original message are of interest.
			original, _ = textproto.ReadHeader(bufio.NewReader(part.Body))
		}
	}
	if !haveFeedback {
		return nil, faults.Parse("failure report", fmt.Errorf("no message/feedback-report part"))
	}

	r := &models.ForensicReport{
		FeedbackType:     strings.ToLower(strings.TrimSpace(feedback.Get("Feedback-Type"))),
		ReportingOrg:     strings.TrimSpace(feedback.Get("User-Agent")),
		SourceIP:         strings.TrimSpace(feedback.Get("Source-IP")),
		OriginalMailFrom: trimAngles(feedback.Get("Original-Mail-From")),
		OriginalRcptTo:   trimAngles(feedback.Get("Original-Rcpt-To")),
		AuthResults:      strings.TrimSpace(feedback.Get("Authentication-Results")),
		DKIMDomain:       strings.TrimSpace(feedback.Get("DKIM-Domain")),
		DKIMSelector:     strings.TrimSpace(feedback.Get("DKIM-Selector")),
		DeliveryResult:   strings.ToLower(strings.TrimSpace(feedback.Get("Delivery-Result"))),
		Domain:           strings.ToLower(strings.TrimSpace(feedback.Get("Reported-Domain"))),
		Subject:          strings.TrimSpace(original.Get("Subject")),
		MessageID:        strings.TrimSpace(original.Get("Message-Id")),
	}
	if r.ReportingOrg == "" {
		r.ReportingOrg = strings.TrimSpace(feedback.Get("Reporting-MTA"))
	}
	if r.Domain == "" {
		r.Domain = domainOf(original.Get("From"))
	}
	if r.Domain == "" {
		return nil, faults.Parse("failure report", fmt.Errorf("cannot determine reported domain"))
	}
	if r.FeedbackType == "" {
		r.FeedbackType = "auth-failure"
	}

	arrival := feedback.Get("Arrival-Date")
	if arrival == "" {
		arrival = feedback.Get("Received-Date")
	}
	if arrival == "" {
		arrival = original.Get("Date")
	}
	if arrival == "" {
		return nil, faults.Parse("failure report", fmt.Errorf("missing arrival date"))
	}
	t, err := mail.ParseDate(arrival)
	if err != nil {
		return nil, faults.Parse("failure report arrival date", err)
	}
	r.ArrivalDate = t.UTC()

	results := authResults(r.AuthResults)
	r.SPFResult = results["spf"]
	r.DKIMResult = results["dkim"]
	r.DMARCResult = results["dmarc"]
	return r, nil
}

// authResults pulls method=result pairs out of an Authentication-Results
// value. The first occurrence of a method wins.
func authResults(v string) map[string]string {
	out := map[string]string{}
	for _, clause := range strings.Split(v, ";") {
		for _, field := range strings.Fields(clause) {
			method, result, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			method = strings.ToLower(method)
			switch method {
			case "spf", "dkim", "dmarc":
				if _, seen := out[method]; !seen {
					out[method] = strings.ToLower(strings.Trim(result, "()"))
				}
			}
		}
	}
	return out
}

func trimAngles(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

func domainOf(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return ""
	}
	_, domain, ok := strings.Cut(addr.Address, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}
