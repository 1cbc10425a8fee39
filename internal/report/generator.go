// Package report renders scheduled PDF reports and runs the report
// schedules that produce them.
package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/store"
	"github.com/jung-kurt/gofpdf"
)

const (
	TemplateDomainSummary  = "domain_summary"
	TemplateTopSources     = "top_sources"
	TemplateForensicDigest = "forensic_digest"

	defaultLimit = 20
)

// Templates lists the report templates a schedule may use.
var Templates = []string{TemplateDomainSummary, TemplateTopSources, TemplateForensicDigest}

type Request struct {
	Template string
	Title    string
	Domain   string // optional filter
	Start    time.Time
	End      time.Time
	Limit    int
}

type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Generator renders a report for a period.
type Generator interface {
	Generate(ctx context.Context, req Request) (Artifact, error)
}

type ReportData struct {
	StartTime time.Time
	EndTime   time.Time
	Totals    Totals
	Domains   []store.DomainSummary
	Sources   []store.SourceSummary
	Forensic  []models.ForensicReport
}

type Totals struct {
	Reports     int64
	Messages    int64
	Passed      int64
	Quarantined int64
	Rejected    int64
	Forensic    int64
}

func (t Totals) PassRate() float64 {
	if t.Messages == 0 {
		return 0
	}
	return float64(t.Passed) / float64(t.Messages) * 100
}

// PDFGenerator builds reports from the store with gofpdf.
type PDFGenerator struct {
	store *store.Store
}

func NewPDFGenerator(st *store.Store) *PDFGenerator {
	return &PDFGenerator{store: st}
}

func (g *PDFGenerator) Generate(ctx context.Context, req Request) (Artifact, error) {
	if !knownTemplate(req.Template) {
		return Artifact{}, faults.Invalid("generate report", fmt.Errorf("unknown report template %q", req.Template))
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}

	data, err := g.collectReportData(ctx, req)
	if err != nil {
		return Artifact{}, faults.Store("collect report data", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(req.Title, true)
	pdf.SetCreator("DMARCEye", true)
	pdf.SetCreationDate(req.End)
	pdf.AddPage()
	w := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	w.header(req, data)

	switch req.Template {
	case TemplateDomainSummary:
		w.domainTable(data.Domains)
	case TemplateTopSources:
		w.sourceTable(data.Sources)
	case TemplateForensicDigest:
		w.forensicList(data.Forensic)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Artifact{}, fmt.Errorf("render pdf: %w", err)
	}
	return Artifact{
		FileName:    fileName(req),
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

func (g *PDFGenerator) collectReportData(ctx context.Context, req Request) (*ReportData, error) {
	data := &ReportData{
		StartTime: req.Start.UTC(),
		EndTime:   req.End.UTC(),
	}

	var err error
	if data.Domains, err = g.store.DomainSummaries(ctx, req.Domain, req.Start, req.End); err != nil {
		return nil, err
	}
	data.Totals = g.processDomains(data.Domains)

	switch req.Template {
	case TemplateTopSources:
		if data.Sources, err = g.store.TopSources(ctx, req.Domain, req.Start, req.End, req.Limit); err != nil {
			return nil, err
		}
	case TemplateForensicDigest:
		if data.Forensic, err = g.store.ForensicSamples(ctx, req.Domain, req.Start, req.End, req.Limit); err != nil {
			return nil, err
		}
	case TemplateDomainSummary:
		// Busiest domains first, then keep the top rows.
		sort.SliceStable(data.Domains, func(i, j int) bool {
			return data.Domains[i].Messages > data.Domains[j].Messages
		})
		if len(data.Domains) > req.Limit {
			data.Domains = data.Domains[:req.Limit]
		}
	}
	return data, nil
}

func (g *PDFGenerator) processDomains(domains []store.DomainSummary) Totals {
	var t Totals
	for _, d := range domains {
		t.Reports += d.Reports
		t.Messages += d.Messages
		t.Passed += d.DmarcPass
		t.Quarantined += d.Quarantined
		t.Rejected += d.Rejected
		t.Forensic += d.ForensicSeen
	}
	return t
}

func knownTemplate(name string) bool {
	for _, t := range Templates {
		if t == name {
			return true
		}
	}
	return false
}

func fileName(req Request) string {
	name := req.Template
	if req.Domain != "" {
		name += "-" + strings.ReplaceAll(req.Domain, ".", "_")
	}
	return fmt.Sprintf("%s-%s.pdf", name, req.End.UTC().Format("20060102"))
}

type pdfWriter struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

func (w *pdfWriter) header(req Request, data *ReportData) {
	pdf := w.pdf
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, w.tr(req.Title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	period := fmt.Sprintf("%s to %s UTC", data.StartTime.Format("2006-01-02 15:04"), data.EndTime.Format("2006-01-02 15:04"))
	if req.Domain != "" {
		period += " - " + req.Domain
	}
	pdf.CellFormat(0, 6, w.tr(period), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	t := data.Totals
	summary := fmt.Sprintf("%d reports, %d messages, %.1f%% DMARC pass, %d quarantined, %d rejected, %d failure reports",
		t.Reports, t.Messages, t.PassRate(), t.Quarantined, t.Rejected, t.Forensic)
	pdf.MultiCell(0, 5, w.tr(summary), "", "L", false)
	pdf.Ln(4)
}

func (w *pdfWriter) tableHeader(widths []float64, titles ...string) {
	w.pdf.SetFont("Helvetica", "B", 9)
	w.pdf.SetFillColor(230, 230, 230)
	for i, title := range titles {
		w.pdf.CellFormat(widths[i], 7, title, "1", 0, "C", true, 0, "")
	}
	w.pdf.Ln(-1)
	w.pdf.SetFont("Helvetica", "", 9)
}

func (w *pdfWriter) row(widths []float64, cells ...string) {
	for i, c := range cells {
		align := "R"
		if i == 0 {
			align = "L"
		}
		w.pdf.CellFormat(widths[i], 6, w.tr(c), "1", 0, align, false, 0, "")
	}
	w.pdf.Ln(-1)
}

func (w *pdfWriter) empty() {
	w.pdf.SetFont("Helvetica", "I", 10)
	w.pdf.CellFormat(0, 8, "No data for this period.", "", 1, "L", false, 0, "")
}

func (w *pdfWriter) domainTable(domains []store.DomainSummary) {
	if len(domains) == 0 {
		w.empty()
		return
	}
	widths := []float64{50, 20, 25, 25, 25, 22, 23}
	w.tableHeader(widths, "Domain", "Reports", "Messages", "DMARC pass", "Quarantined", "Rejected", "TLS fail")
	for _, d := range domains {
		w.row(widths,
			d.Domain,
			fmt.Sprint(d.Reports),
			fmt.Sprint(d.Messages),
			fmt.Sprintf("%.1f%%", d.PassRate()),
			fmt.Sprint(d.Quarantined),
			fmt.Sprint(d.Rejected),
			fmt.Sprintf("%.1f%%", d.TLSFailureRate()),
		)
	}
}

func (w *pdfWriter) sourceTable(sources []store.SourceSummary) {
	if len(sources) == 0 {
		w.empty()
		return
	}
	widths := []float64{70, 40, 40, 40}
	w.tableHeader(widths, "Source IP", "Messages", "Passed", "Failed")
	for _, s := range sources {
		w.row(widths, s.SourceIP, fmt.Sprint(s.Messages), fmt.Sprint(s.Passed), fmt.Sprint(s.Failed))
	}
}

func (w *pdfWriter) forensicList(reports []models.ForensicReport) {
	if len(reports) == 0 {
		w.empty()
		return
	}
	for _, r := range reports {
		w.pdf.SetFont("Helvetica", "B", 10)
		w.pdf.CellFormat(0, 6, w.tr(fmt.Sprintf("%s  %s  from %s", r.ArrivalDate.UTC().Format(time.RFC3339), r.Domain, r.SourceIP)), "", 1, "L", false, 0, "")
		w.pdf.SetFont("Helvetica", "", 9)
		lines := []string{
			"Subject: " + r.Subject,
			"Mail from: " + r.OriginalMailFrom,
			fmt.Sprintf("SPF %s, DKIM %s, DMARC %s, delivery %s", r.SPFResult, r.DKIMResult, r.DMARCResult, r.DeliveryResult),
		}
		for _, l := range lines {
			w.pdf.MultiCell(0, 5, w.tr(l), "", "L", false)
		}
		w.pdf.Ln(2)
	}
}
