// Package jobs dispatches a job type to its tasks and summarises the outcome.
package jobs

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	JobDaily  = "daily"
	JobHourly = "hourly"
	JobIMAP   = "imap"
)

// JobTypes lists the accepted job arguments.
var JobTypes = []string{JobDaily, JobHourly, JobIMAP}

// Summary is what one task reports back to the runner.
type Summary struct {
	Processed int
	Failed    int
	Lines     []string
}

// Task is one component run within a job. Run returning an error means the
// component failed as a whole; per-item failures belong in the Summary.
type Task struct {
	Name string
	Run  func(ctx context.Context) (Summary, error)
}

type TaskReport struct {
	Name    string
	Summary Summary
	Err     error
	Elapsed time.Duration
}

type Report struct {
	Job   string
	Tasks []TaskReport
}

func (r Report) Failed() bool {
	for _, t := range r.Tasks {
		if t.Err != nil {
			return true
		}
	}
	return false
}

// Write prints the line-oriented run summary.
func (r Report) Write(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s\n", r.Job)
	for _, t := range r.Tasks {
		status := "ok"
		if t.Err != nil {
			status = "error: " + t.Err.Error()
		}
		fmt.Fprintf(&b, "task %s: %s, processed=%d failed=%d (%s)\n",
			t.Name, status, t.Summary.Processed, t.Summary.Failed, t.Elapsed.Round(time.Millisecond))
		for _, line := range t.Summary.Lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

type Runner struct {
	tasks   map[string][]Task
	metrics *metrics.Collector
	now     func() time.Time
}

func NewRunner(m *metrics.Collector) *Runner {
	return &Runner{
		tasks:   make(map[string][]Task),
		metrics: m,
		now:     time.Now,
	}
}

// Register appends tasks to a job. Tasks run in registration order.
func (r *Runner) Register(job string, tasks ...Task) {
	r.tasks[job] = append(r.tasks[job], tasks...)
}

// Run executes every task of job. A failing or panicking task is recorded
// and the remaining tasks still run. Only an unknown job is an error.
func (r *Runner) Run(ctx context.Context, job string) (Report, error) {
	tasks, ok := r.tasks[job]
	if !ok {
		known := make([]string, 0, len(r.tasks))
		for name := range r.tasks {
			known = append(known, name)
		}
		sort.Strings(known)
		return Report{}, faults.Configf("unknown job type %q, expected one of %s", job, strings.Join(known, ", "))
	}

	log := logging.FromContext(ctx).WithField("job", job)
	report := Report{Job: job}
	for _, task := range tasks {
		tlog := log.WithField("task", task.Name)
		start := r.now()

		var sum Summary
		var err error
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("not started: %w", ctxErr)
		} else {
			sum, err = runTask(logging.WithLogger(ctx, tlog), task)
		}
		elapsed := r.now().Sub(start)

		if err != nil {
			tlog.WithError(err).Error("Task failed")
		} else {
			tlog.WithFields(logrus.Fields{
				"processed": sum.Processed,
				"failed":    sum.Failed,
			}).Info("Task finished")
		}
		if r.metrics != nil {
			r.metrics.ObserveTask(job, task.Name, err == nil, sum.Processed, sum.Failed, elapsed)
		}
		report.Tasks = append(report.Tasks, TaskReport{Name: task.Name, Summary: sum, Err: err, Elapsed: elapsed})
	}

	if r.metrics != nil && !report.Failed() {
		r.metrics.MarkSuccess(job, r.now())
	}
	return report, nil
}

func runTask(ctx context.Context, task Task) (sum Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.FromContext(ctx).WithField("stack", string(debug.Stack())).Error("Task panicked")
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return task.Run(ctx)
}
