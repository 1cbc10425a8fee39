package store

import (
	"testing"
	"time"

	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	return New(testutil.NewDB(t), time.Minute)
}

func aggregateFixture(domain, reportID string, begin time.Time, records ...models.AggregateRecord) *models.AggregateReport {
	return &models.AggregateReport{
		OrgName:   "google.com",
		Email:     "noreply-dmarc-support@google.com",
		ReportID:  reportID,
		Domain:    domain,
		DateBegin: begin,
		DateEnd:   begin.Add(24*time.Hour - time.Second),
		PolicyP:   "none",
		Records:   records,
		CreatedAt: begin.Add(25 * time.Hour),
	}
}

func record(ip string, count int, dkim, spf string) models.AggregateRecord {
	return models.AggregateRecord{
		SourceIP:    ip,
		Count:       count,
		Disposition: "none",
		DKIMResult:  dkim,
		SPFResult:   spf,
		HeaderFrom:  "example.com",
	}
}
