package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/store"
	"github.com/dmarceye/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReports(t *testing.T, st *store.Store) {
	ctx := context.Background()
	day := testutil.Date(2024, 1, 1, 0, 0, 0)
	for i, domain := range []string{"example.com", "example.org"} {
		_, err := st.SaveAggregate(ctx, &models.AggregateReport{
			OrgName:   "google.com",
			ReportID:  domain,
			Domain:    domain,
			DateBegin: day,
			DateEnd:   day.Add(24*time.Hour - time.Second),
			Records: []models.AggregateRecord{
				{SourceIP: "192.0.2.1", Count: 10 * (i + 1), Disposition: "none", DKIMResult: "pass", SPFResult: "pass"},
				{SourceIP: "198.51.100.7", Count: 2, Disposition: "reject", DKIMResult: "fail", SPFResult: "fail"},
			},
		})
		require.NoError(t, err)
	}
	_, err := st.SaveForensic(ctx, &models.ForensicReport{
		Domain:      "example.com",
		ArrivalDate: day.Add(3 * time.Hour),
		SourceIP:    "198.51.100.7",
		MessageID:   "<1@spoofer.example>",
		Subject:     "Ünïcode invoice",
	})
	require.NoError(t, err)
}

func TestPDFGeneratorTemplates(t *testing.T) {
	st := store.New(testutil.NewDB(t), time.Minute)
	seedReports(t, st)
	g := NewPDFGenerator(st)

	for _, tmpl := range Templates {
		art, err := g.Generate(context.Background(), Request{
			Template: tmpl,
			Title:    "Weekly " + tmpl,
			Start:    testutil.Date(2024, 1, 1, 0, 0, 0),
			End:      testutil.Date(2024, 1, 2, 0, 0, 0),
		})
		require.NoError(t, err, tmpl)
		assert.Equal(t, "application/pdf", art.ContentType)
		assert.Equal(t, tmpl+"-20240102.pdf", art.FileName)
		assert.True(t, bytes.HasPrefix(art.Data, []byte("%PDF-")), tmpl)
	}
}

func TestPDFGeneratorRejectsUnknownTemplate(t *testing.T) {
	g := NewPDFGenerator(store.New(testutil.NewDB(t), time.Minute))
	_, err := g.Generate(context.Background(), Request{Template: "pie_chart"})
	assert.True(t, faults.Is(err, faults.Validation))
}

func TestCollectReportData(t *testing.T) {
	st := store.New(testutil.NewDB(t), time.Minute)
	seedReports(t, st)
	g := NewPDFGenerator(st)

	data, err := g.collectReportData(context.Background(), Request{
		Template: TemplateDomainSummary,
		Start:    testutil.Date(2024, 1, 1, 0, 0, 0),
		End:      testutil.Date(2024, 1, 2, 0, 0, 0),
		Limit:    1,
	})
	require.NoError(t, err)
	require.Len(t, data.Domains, 1)
	assert.Equal(t, "example.org", data.Domains[0].Domain)
	assert.Equal(t, int64(34), data.Totals.Messages)
	assert.Equal(t, int64(4), data.Totals.Rejected)
	assert.Equal(t, int64(1), data.Totals.Forensic)
	assert.InDelta(t, 30.0/34.0*100, data.Totals.PassRate(), 0.001)
}
