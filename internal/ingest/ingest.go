// Package ingest pulls report emails from a mail source and stores the
// reports they carry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/mailbox"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/parser"
	"github.com/dmarceye/internal/store"
	"github.com/sirupsen/logrus"
)

// MailSource is where report emails come from.
type MailSource interface {
	Fetch(ctx context.Context, limit int) ([]mailbox.Message, error)
	MarkProcessed(ctx context.Context, uid uint32) error
	MarkFailed(ctx context.Context, uid uint32) error
	Close() error
}

type IngestResult struct {
	Processed  int
	Duplicates int
	Errors     int
	Messages   []string
}

func (r *IngestResult) addError(format string, args ...interface{}) {
	r.Errors++
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// Recorder receives per-report outcomes. It may be nil.
type Recorder interface {
	ReportIngested(kind models.ReportKind, outcome string)
}

type Ingestor struct {
	source    MailSource
	store     *store.Store
	queueSize int
	recorder  Recorder
	now       func() time.Time
}

func NewIngestor(source MailSource, st *store.Store, queueSize int, recorder Recorder) *Ingestor {
	return &Ingestor{
		source:    source,
		store:     st,
		queueSize: queueSize,
		recorder:  recorder,
		now:       time.Now,
	}
}

// ProcessReports fetches up to the queue size of unseen messages and stores
// every report found in them. A message is marked processed once all of its
// reports are stored or known duplicates; a message that cannot be parsed is
// marked failed so it is not picked up again; a message hit by a storage or
// transient error is left alone and retried on the next run.
func (i *Ingestor) ProcessReports(ctx context.Context) (IngestResult, error) {
	log := logging.FromContext(ctx)
	var result IngestResult

	msgs, err := i.source.Fetch(ctx, i.queueSize)
	if err != nil {
		return result, fmt.Errorf("fetch messages: %w", err)
	}
	log.WithField("messages", len(msgs)).Info("Fetched report messages")

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			result.Messages = append(result.Messages, fmt.Sprintf("stopped before message %d: %v", msg.UID, err))
			break
		}
		mlog := log.WithFields(logrus.Fields{"uid": msg.UID, "subject": msg.Subject})

		stored, dups, err := i.processMessage(ctx, mlog, msg)
		result.Processed += stored
		result.Duplicates += dups
		switch {
		case err == nil:
			if err := i.source.MarkProcessed(ctx, msg.UID); err != nil {
				mlog.WithError(err).Warn("Failed to mark message processed")
				result.Messages = append(result.Messages, fmt.Sprintf("message %d: mark processed: %v", msg.UID, err))
			}
		case faults.Is(err, faults.ParseFailure):
			mlog.WithError(err).Warn("Unparsable report message")
			result.addError("message %d (%s): %v", msg.UID, msg.Subject, err)
			if err := i.source.MarkFailed(ctx, msg.UID); err != nil {
				mlog.WithError(err).Warn("Failed to mark message failed")
			}
		default:
			mlog.WithError(err).Error("Failed to ingest message, leaving it for the next run")
			result.addError("message %d (%s): %v", msg.UID, msg.Subject, err)
		}
	}

	log.WithFields(logrus.Fields{
		"processed":  result.Processed,
		"duplicates": result.Duplicates,
		"errors":     result.Errors,
	}).Info("Report ingestion finished")
	return result, nil
}

// processMessage stores every report in msg. Storage is attempted for all
// reports even if one fails; the first error decides how the message is
// treated, with storage failures taking precedence over parse failures.
func (i *Ingestor) processMessage(ctx context.Context, log logrus.FieldLogger, msg mailbox.Message) (int, int, error) {
	attachments, err := mailbox.Attachments(msg.Raw)
	if err != nil {
		return 0, 0, err
	}
	if len(attachments) == 0 {
		return 0, 0, faults.Parse("extract reports", errors.New("message carries no report attachment"))
	}

	var stored, dups int
	var parseErr, storeErr error
	for _, att := range attachments {
		hint := kindHint(att.ContentType)
		payloads, err := parser.Decompress(att.Name, att.Data)
		if err != nil {
			parseErr = firstErr(parseErr, err)
			i.record(guessKind(hint, nil), "invalid")
			continue
		}
		for _, p := range payloads {
			rep, err := parser.Parse(p.Data, hint)
			if err != nil {
				parseErr = firstErr(parseErr, fmt.Errorf("%s: %w", p.Name, err))
				i.record(guessKind(hint, p.Data), "invalid")
				continue
			}
			inserted, err := i.save(ctx, rep)
			if err != nil {
				storeErr = firstErr(storeErr, faults.Store("save "+p.Name, err))
				i.record(rep.Kind, "error")
				continue
			}
			fields := logrus.Fields{"kind": rep.Kind, "domain": rep.Domain(), "file": p.Name}
			if inserted {
				stored++
				i.record(rep.Kind, "stored")
				log.WithFields(fields).Debug("Stored report")
			} else {
				dups++
				i.record(rep.Kind, "duplicate")
				log.WithFields(fields).Debug("Skipped duplicate report")
			}
		}
	}
	if storeErr != nil {
		return stored, dups, storeErr
	}
	return stored, dups, parseErr
}

func (i *Ingestor) save(ctx context.Context, rep *parser.Report) (bool, error) {
	now := i.now().UTC()
	switch rep.Kind {
	case models.ReportKindAggregate:
		rep.Aggregate.CreatedAt = now
		return i.store.SaveAggregate(ctx, rep.Aggregate)
	case models.ReportKindForensic:
		rep.Forensic.CreatedAt = now
		return i.store.SaveForensic(ctx, rep.Forensic)
	case models.ReportKindTLS:
		rep.TLS.CreatedAt = now
		return i.store.SaveTLS(ctx, rep.TLS)
	}
	return false, fmt.Errorf("unknown report kind %q", rep.Kind)
}

func (i *Ingestor) record(kind models.ReportKind, outcome string) {
	if i.recorder == nil {
		return
	}
	i.recorder.ReportIngested(kind, outcome)
}

func kindHint(contentType string) models.ReportKind {
	if contentType == "message/feedback-report" {
		return models.ReportKindForensic
	}
	return ""
}

// unknownKind labels payloads that failed before their type could be told.
const unknownKind models.ReportKind = "unknown"

// guessKind names the report type of a payload that did not parse, so
// rejected reports still land under a kind.
func guessKind(hint models.ReportKind, data []byte) models.ReportKind {
	if hint != "" {
		return hint
	}
	if kind, err := parser.Detect(data); err == nil {
		return kind
	}
	return unknownKind
}

func firstErr(cur, next error) error {
	if cur != nil {
		return cur
	}
	return next
}
