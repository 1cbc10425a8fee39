package digest

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/dmarceye/internal/store"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	htmlTemplate = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/digest.html.tmpl"))
	textTemplate = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/digest.txt.tmpl"))
)

// View is the data a digest is rendered from.
type View struct {
	Title   string
	Start   time.Time
	End     time.Time
	Domains []store.DomainSummary
	Sources []store.SourceSummary
}

// Render produces the plain text and HTML bodies of a digest.
func Render(v View) (text, html string, err error) {
	var tb, hb bytes.Buffer
	if err := textTemplate.Execute(&tb, v); err != nil {
		return "", "", err
	}
	if err := htmlTemplate.Execute(&hb, v); err != nil {
		return "", "", err
	}
	return tb.String(), hb.String(), nil
}
