package jobs

import (
	"context"
	"fmt"

	"github.com/dmarceye/internal/ingest"
	"github.com/dmarceye/internal/metrics"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/retention"
	"github.com/dmarceye/internal/schedule"
	"github.com/dmarceye/internal/store"
)

// SourceOpener connects to the mail source for one run.
type SourceOpener func(ctx context.Context) (ingest.MailSource, error)

// IngestTask opens the mail source, ingests pending reports and closes the
// source again.
func IngestTask(open SourceOpener, st *store.Store, queueSize int, rec ingest.Recorder) Task {
	return Task{
		Name: "ingest",
		Run: func(ctx context.Context) (Summary, error) {
			src, err := open(ctx)
			if err != nil {
				return Summary{}, fmt.Errorf("open mail source: %w", err)
			}
			defer src.Close()

			res, err := ingest.NewIngestor(src, st, queueSize, rec).ProcessReports(ctx)
			sum := Summary{
				Processed: res.Processed,
				Failed:    res.Errors,
				Lines:     res.Messages,
			}
			sum.Lines = append(sum.Lines, fmt.Sprintf("duplicates skipped: %d", res.Duplicates))
			return sum, err
		},
	}
}

type AlertChecker interface {
	RunAlertChecks(ctx context.Context) ([]models.AlertIncident, error)
}

func AlertTask(checker AlertChecker) Task {
	return Task{
		Name: "alerts",
		Run: func(ctx context.Context) (Summary, error) {
			incidents, err := checker.RunAlertChecks(ctx)
			var sum Summary
			for _, inc := range incidents {
				sum.Processed++
				line := fmt.Sprintf("incident #%d %s [%s] %s: %.2f", inc.ID, inc.RuleName, inc.Level, inc.Scope, inc.CurrentValue)
				if inc.NotifyError != "" {
					sum.Failed++
					line += " (notify failed: " + inc.NotifyError + ")"
				}
				sum.Lines = append(sum.Lines, line)
			}
			return sum, err
		},
	}
}

// DueRun processes the due items of one recurring kind.
type DueRun func(ctx context.Context) ([]schedule.Result, error)

// RecurringTask wraps a digest or schedule run. Skipped items count as
// neither processed nor failed.
func RecurringTask(name string, run DueRun) Task {
	return Task{
		Name: name,
		Run: func(ctx context.Context) (Summary, error) {
			results, err := run(ctx)
			var sum Summary
			for _, r := range results {
				switch {
				case r.Skipped:
				case r.Success:
					sum.Processed++
				default:
					sum.Failed++
				}
				sum.Lines = append(sum.Lines, r.String())
			}
			return sum, err
		},
	}
}

// RetentionTask deletes expired reports when any are due.
func RetentionTask(sw *retention.Sweeper) Task {
	return Task{
		Name: "retention",
		Run: func(ctx context.Context) (Summary, error) {
			needed, err := sw.IsCleanupNeeded(ctx)
			if err != nil {
				return Summary{}, err
			}
			if !needed {
				return Summary{Lines: []string{"nothing to clean up"}}, nil
			}
			res := sw.CleanupOldReports(ctx)
			sum := Summary{
				Processed: int(res.Total()),
				Failed:    len(res.Errors),
				Lines: []string{fmt.Sprintf("deleted aggregate=%d forensic=%d tls=%d",
					res.AggregateDeleted, res.ForensicDeleted, res.TLSDeleted)},
			}
			sum.Lines = append(sum.Lines, res.Errors...)
			return sum, nil
		},
	}
}

// StatsTask reports what the store holds and exports the counts as gauges.
func StatsTask(sw *retention.Sweeper, m *metrics.Collector) Task {
	return Task{
		Name: "stats",
		Run: func(ctx context.Context) (Summary, error) {
			st, err := sw.StorageStats(ctx)
			if err != nil {
				return Summary{}, err
			}
			types := []struct {
				kind models.ReportKind
				ts   store.TypeStats
			}{
				{models.ReportKindAggregate, st.Aggregate},
				{models.ReportKindForensic, st.Forensic},
				{models.ReportKindTLS, st.TLS},
			}
			var sum Summary
			for _, t := range types {
				if m != nil {
					m.SetStoredReports(t.kind, t.ts.Count)
				}
				sum.Lines = append(sum.Lines, formatTypeStats(t.kind, t.ts))
			}
			sum.Lines = append(sum.Lines, fmt.Sprintf("incidents=%d generations=%d schedules=%d digests=%d",
				st.Incidents, st.Generations, st.Schedules, st.Digests))
			return sum, nil
		},
	}
}

func formatTypeStats(kind models.ReportKind, ts store.TypeStats) string {
	if ts.Count == 0 {
		return fmt.Sprintf("%s: 0 reports", kind)
	}
	return fmt.Sprintf("%s: %d reports, oldest %s, newest %s", kind, ts.Count,
		ts.Oldest.Format("2006-01-02"), ts.Newest.Format("2006-01-02"))
}
