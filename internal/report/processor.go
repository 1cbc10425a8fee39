package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/notify"
	"github.com/dmarceye/internal/schedule"
	"github.com/dmarceye/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Processor runs due report schedules: generate, deliver, record, reschedule.
type Processor struct {
	store     *store.Store
	generator Generator
	sender    notify.Sender
	validate  *validator.Validate
	outputDir string
	queueSize int
	now       func() time.Time
}

func NewProcessor(st *store.Store, gen Generator, sender notify.Sender, outputDir string, queueSize int) *Processor {
	return &Processor{
		store:     st,
		generator: gen,
		sender:    sender,
		validate:  schedule.NewValidator(),
		outputDir: outputDir,
		queueSize: queueSize,
		now:       time.Now,
	}
}

// ProcessDueSchedules runs every due schedule once in (next_run_at, id)
// order. Every attempted schedule gets a generation record and moves one
// frequency step past the occurrence it ran for.
func (p *Processor) ProcessDueSchedules(ctx context.Context) ([]schedule.Result, error) {
	log := logging.FromContext(ctx)
	now := p.now().UTC()

	due, err := p.store.DueSchedules(ctx, now, p.queueSize)
	if err != nil {
		return nil, faults.Store("select due schedules", err)
	}

	results := make([]schedule.Result, 0, len(due))
	for i := range due {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warnf("Stopping with %d schedules left", len(due)-i)
			break
		}
		rs := &due[i]
		rlog := log.WithFields(logrus.Fields{"schedule_id": rs.ID, "schedule": rs.Name, "template": rs.Template})
		res := p.processOne(ctx, rlog, rs, now)
		rlog.Info(res.String())
		results = append(results, res)
	}
	return results, nil
}

func (p *Processor) processOne(ctx context.Context, log logrus.FieldLogger, rs *models.ReportSchedule, now time.Time) schedule.Result {
	res := schedule.Result{ID: rs.ID, Name: rs.Name}

	token, ok, err := p.store.ClaimSchedule(ctx, rs, now)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	if !ok {
		res.Skipped = true
		res.Message = "claimed by another run"
		return res
	}

	scheduled := *rs.NextRunAt
	gen := &models.ReportGeneration{
		ScheduleID: &rs.ID,
		Template:   rs.Template,
		Title:      title(rs),
		Status:     models.RunStatusSuccess,
		StartedAt:  now,
	}
	completion := store.Completion{RanAt: now, Status: models.RunStatusSuccess}

	freq, runErr := schedule.ParseFrequency(rs.Frequency)
	if runErr != nil {
		runErr = faults.Invalid("parse frequency", runErr)
	} else {
		next := freq.Next(scheduled)
		completion.NextRunAt = &next
		runErr = p.run(ctx, rs, freq, scheduled, gen)
	}

	gen.FinishedAt = p.now().UTC()
	if runErr != nil {
		gen.Status = models.RunStatusFailure
		gen.Error = runErr.Error()
		completion.Status = models.RunStatusFailure
		completion.Error = runErr.Error()
		log.WithError(runErr).Warn("Scheduled report failed")
	}

	// Recorded past the run's deadline too, so a finished occurrence is never
	// left claimed and picked up again once the lease expires.
	if err := p.store.CompleteSchedule(context.WithoutCancel(ctx), rs.ID, token, completion, gen); err != nil {
		res.Message = fmt.Sprintf("record outcome: %v", err)
		return res
	}

	res.NextRun = completion.NextRunAt
	if runErr != nil {
		res.Message = runErr.Error()
		return res
	}
	res.Success = true
	res.Message = fmt.Sprintf("%s sent to %d recipients", gen.FilePath, len(rs.Recipients))
	if gen.FilePath == "" {
		res.Message = fmt.Sprintf("sent to %d recipients", len(rs.Recipients))
	}
	return res
}

func (p *Processor) run(ctx context.Context, rs *models.ReportSchedule, freq schedule.Frequency, scheduled time.Time, gen *models.ReportGeneration) error {
	if err := p.validate.Struct(rs); err != nil {
		return faults.Invalid("validate schedule", err)
	}
	req, err := buildRequest(rs, freq, scheduled)
	if err != nil {
		return err
	}

	artifact, err := p.generator.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate %s: %w", rs.Template, err)
	}

	if p.outputDir != "" {
		path := filepath.Join(p.outputDir, fmt.Sprintf("%d-%s", rs.ID, artifact.FileName))
		if err := os.MkdirAll(p.outputDir, 0755); err != nil {
			return faults.Transient("create report directory", err)
		}
		if err := os.WriteFile(path, artifact.Data, 0644); err != nil {
			return faults.Transient("write report file", err)
		}
		gen.FilePath = path
	}

	return p.sender.Send(ctx, notify.Message{
		To:      rs.Recipients,
		Subject: fmt.Sprintf("%s (%s to %s)", req.Title, req.Start.Format("2006-01-02"), req.End.Format("2006-01-02")),
		Text:    fmt.Sprintf("Attached is the %s report for %s to %s UTC.\n", rs.Template, req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339)),
		Attachments: []notify.File{{
			Name:        artifact.FileName,
			ContentType: artifact.ContentType,
			Data:        artifact.Data,
		}},
	})
}

// buildRequest covers the period ending at the scheduled time: one frequency
// step back, or the "days" parameter when set.
func buildRequest(rs *models.ReportSchedule, freq schedule.Frequency, scheduled time.Time) (Request, error) {
	req := Request{
		Template: rs.Template,
		Title:    title(rs),
		Domain:   rs.DomainFilter,
		Start:    freq.Previous(scheduled),
		End:      scheduled,
	}
	if v, ok := rs.Parameters["days"]; ok {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return req, faults.Invalid("report parameters", fmt.Errorf("days must be a positive integer, got %q", v))
		}
		req.Start = scheduled.AddDate(0, 0, -days)
	}
	if v, ok := rs.Parameters["limit"]; ok {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return req, faults.Invalid("report parameters", fmt.Errorf("limit must be a positive integer, got %q", v))
		}
		req.Limit = limit
	}
	return req, nil
}

func title(rs *models.ReportSchedule) string {
	if rs.Title != "" {
		return rs.Title
	}
	return rs.Name
}
