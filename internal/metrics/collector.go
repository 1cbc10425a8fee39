// Package metrics records job outcomes and pushes them to a Prometheus
// Pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarceye/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "dmarceye"

// Collector owns a private registry so each invocation pushes only its own
// series.
type Collector struct {
	registry *prometheus.Registry

	reportsIngested *prometheus.CounterVec
	taskRuns        *prometheus.CounterVec
	taskItems       *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	storedReports   *prometheus.GaugeVec
	lastSuccess     *prometheus.GaugeVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		reportsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_ingested_total",
			Help:      "Reports seen by the ingestor, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task executions, by job, task and status.",
		}, []string{"job_type", "task", "status"}),
		taskItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_items_total",
			Help:      "Items handled by a task, by outcome.",
		}, []string{"task", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of each task.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"task"}),
		storedReports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_reports",
			Help:      "Reports currently kept in the store, by kind.",
		}, []string{"kind"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last job that finished without task failures.",
		}, []string{"job_type"}),
	}
	c.registry.MustRegister(
		c.reportsIngested,
		c.taskRuns,
		c.taskItems,
		c.taskDuration,
		c.storedReports,
		c.lastSuccess,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ReportIngested implements ingest.Recorder.
func (c *Collector) ReportIngested(kind models.ReportKind, outcome string) {
	c.reportsIngested.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveTask records one task execution.
func (c *Collector) ObserveTask(job, task string, ok bool, processed, failed int, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	c.taskRuns.WithLabelValues(job, task, status).Inc()
	c.taskItems.WithLabelValues(task, "processed").Add(float64(processed))
	c.taskItems.WithLabelValues(task, "failed").Add(float64(failed))
	c.taskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

func (c *Collector) SetStoredReports(kind models.ReportKind, n int64) {
	c.storedReports.WithLabelValues(string(kind)).Set(float64(n))
}

func (c *Collector) MarkSuccess(job string, at time.Time) {
	c.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

// Push sends every collected series to the gateway under the given job
// name, replacing what was pushed there before. The gateway owns the "job"
// label, so no collected series may carry one.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
