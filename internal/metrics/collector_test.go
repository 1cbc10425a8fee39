package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmarceye/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportIngested(t *testing.T) {
	c := NewCollector()
	c.ReportIngested(models.ReportKindAggregate, "stored")
	c.ReportIngested(models.ReportKindAggregate, "stored")
	c.ReportIngested(models.ReportKindTLS, "duplicate")

	err := testutil.CollectAndCompare(c.reportsIngested, strings.NewReader(`
		# HELP dmarceye_reports_ingested_total Reports seen by the ingestor, by kind and outcome.
		# TYPE dmarceye_reports_ingested_total counter
		dmarceye_reports_ingested_total{kind="aggregate",outcome="stored"} 2
		dmarceye_reports_ingested_total{kind="tls",outcome="duplicate"} 1
	`))
	require.NoError(t, err)
}

func TestObserveTask(t *testing.T) {
	c := NewCollector()
	c.ObserveTask("hourly", "digests", true, 3, 1, 2*time.Second)
	c.ObserveTask("hourly", "digests", false, 0, 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskRuns.WithLabelValues("hourly", "digests", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskRuns.WithLabelValues("hourly", "digests", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.taskItems.WithLabelValues("digests", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskItems.WithLabelValues("digests", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.taskDuration))
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCollector()
	c.ReportIngested(models.ReportKindAggregate, "stored")
	c.ObserveTask("daily", "retention", true, 4, 0, time.Second)
	c.SetStoredReports(models.ReportKindForensic, 7)
	c.MarkSuccess("daily", time.Unix(1700000000, 0))

	require.NoError(t, c.Push(context.Background(), srv.URL, "dmarceye"))
	assert.Equal(t, "/metrics/job/dmarceye", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushWithoutGateway(t *testing.T) {
	assert.NoError(t, NewCollector().Push(context.Background(), "", "dmarceye"))
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCollector()
	c.ReportIngested(models.ReportKindAggregate, "stored")
	assert.Error(t, c.Push(context.Background(), srv.URL, "dmarceye"))
}
