package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/parser"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Attachment is a part of a message that may carry a report.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

var reportTypes = map[string]bool{
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/zip":              true,
	"application/x-zip":            true,
	"application/x-zip-compressed": true,
	"application/xml":              true,
	"text/xml":                     true,
	"application/json":             true,
	"application/tlsrpt+json":      true,
	"application/tlsrpt+gzip":      true,
	"application/octet-stream":     true,
}

// Attachments returns the report candidates carried by raw. A failure report
// (multipart/report with a feedback-report part) is returned whole, since the
// report spans several MIME parts.
func Attachments(raw []byte) ([]Attachment, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, faults.Parse("read message", err)
	}
	defer mr.Close()

	ct, params, _ := mr.Header.ContentType()
	if strings.EqualFold(ct, "multipart/report") && strings.EqualFold(params["report-type"], "feedback-report") {
		return []Attachment{{Name: "failure-report.eml", ContentType: "message/feedback-report", Data: raw}}, nil
	}

	var out []Attachment
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, faults.Parse("read message part", err)
		}

		var name, partType string
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			name, _ = h.Filename()
			partType, _, _ = h.ContentType()
		case *mail.InlineHeader:
			partType, params, _ = h.ContentType()
			name = params["name"]
		}
		partType = strings.ToLower(partType)
		if !reportTypes[partType] && !hasReportExtension(name) {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(p.Body, parser.MaxPayloadSize+1))
		if err != nil {
			return nil, faults.Parse("read attachment "+name, err)
		}
		if len(data) > parser.MaxPayloadSize {
			return nil, faults.Parse("read attachment "+name, fmt.Errorf("attachment exceeds %d bytes", parser.MaxPayloadSize))
		}
		out = append(out, Attachment{Name: name, ContentType: partType, Data: data})
	}
	return out, nil
}

func hasReportExtension(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range []string{".xml", ".gz", ".zip", ".json"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
