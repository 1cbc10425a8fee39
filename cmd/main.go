package main

import (
	"context"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dmarceye/internal/alert"
	"github.com/dmarceye/internal/config"
	"github.com/dmarceye/internal/database"
	"github.com/dmarceye/internal/digest"
	"github.com/dmarceye/internal/ingest"
	"github.com/dmarceye/internal/jobs"
	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/mailbox"
	"github.com/dmarceye/internal/metrics"
	"github.com/dmarceye/internal/notify"
	"github.com/dmarceye/internal/report"
	"github.com/dmarceye/internal/retention"
	"github.com/dmarceye/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const pushTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "dmarceye <" + strings.Join(jobs.JobTypes, "|") + ">",
	Short: "DMARCEye - DMARC and TLS-RPT report processing jobs",
	Long: `DMARCEye ingests DMARC aggregate, forensic and SMTP TLS reports from a
mailbox, evaluates alert rules, sends digests and scheduled PDF reports, and
prunes old data. Each invocation runs one job type and is meant to be
triggered by cron.

Configuration is read from config.yaml in $DMARCEYE_CONFIG_PATH (default: the
working directory) and DMARCEYE_* environment variables.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: jobs.JobTypes,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run(cmd, args[0])
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("DMARCEYE_CONFIG_PATH"); p != "" {
		return p
	}
	return "."
}

func run(cmd *cobra.Command, job string) error {
	// Initialize configuration
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return err
	}
	if err := cfg.Validate(job); err != nil {
		return err
	}
	if cfg.Jobs.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.Jobs.MemoryLimit)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return err
	}

	ctx := logging.WithLogger(cmd.Context(), logger)
	if cfg.Jobs.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Jobs.MaxExecutionTime)
		defer cancel()
	}

	// Initialize database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	st := store.New(db, cfg.Jobs.ClaimLease)
	collector := metrics.NewCollector()
	runner := newRunner(cfg, st, collector)

	rep, err := runner.Run(ctx, job)
	if err != nil {
		return err
	}
	if err := rep.Write(cmd.OutOrStdout()); err != nil {
		logger.WithError(err).Warn("Failed to write job summary")
	}

	pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := collector.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		logger.WithError(err).Warn("Failed to push job metrics")
	}

	logger.WithFields(logrus.Fields{
		"job":    job,
		"failed": rep.Failed(),
	}).Info("Job finished")
	return nil
}

func newRunner(cfg *config.Config, st *store.Store, collector *metrics.Collector) *jobs.Runner {
	runner := jobs.NewRunner(collector)

	openMailbox := func(ctx context.Context) (ingest.MailSource, error) {
		src, err := mailbox.Dial(cfg.IMAP)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	runner.Register(jobs.JobIMAP, jobs.IngestTask(openMailbox, st, cfg.Jobs.QueueSize, collector))

	sender := notify.NewSMTPSender(cfg.Email)
	var poster alert.IncidentPoster
	if cfg.Slack.Token != "" {
		poster = notify.NewSlackNotifier(cfg.Slack)
	}
	evaluator := alert.NewRuleEvaluator(st, alert.NewAlertManager(sender, poster, cfg.Email.Receivers))
	dispatcher := digest.NewDispatcher(st, sender, cfg.Jobs.QueueSize)
	processor := report.NewProcessor(st, report.NewPDFGenerator(st), sender, cfg.Reports.OutputDir, cfg.Jobs.QueueSize)
	runner.Register(jobs.JobHourly,
		jobs.AlertTask(evaluator),
		jobs.RecurringTask("digests", dispatcher.ProcessDueDigests),
		jobs.RecurringTask("schedules", processor.ProcessDueSchedules),
	)

	sweeper := retention.NewSweeper(st, cfg.Retention)
	runner.Register(jobs.JobDaily,
		jobs.RetentionTask(sweeper),
		jobs.StatsTask(sweeper, collector),
	)

	return runner
}
