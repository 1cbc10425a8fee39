// Package digest sends recurring summary emails to subscribers.
package digest

import (
	"context"
	"fmt"
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

const topSourcesInDigest = 10

type Dispatcher struct {
	store     *store.Store
	sender    notify.Sender
	validate  *validator.Validate
	queueSize int
	now       func() time.Time
}

func NewDispatcher(st *store.Store, sender notify.Sender, queueSize int) *Dispatcher {
	return &Dispatcher{
		store:     st,
		sender:    sender,
		validate:  schedule.NewValidator(),
		queueSize: queueSize,
		now:       time.Now,
	}
}

// ProcessDueDigests sends every due subscription once, oldest first. Each
// subscription is rescheduled exactly one cadence step past its previous
// run time whether or not the send succeeded; failures wait for the next
// occurrence rather than being retried in this run.
func (d *Dispatcher) ProcessDueDigests(ctx context.Context) ([]schedule.Result, error) {
	log := logging.FromContext(ctx)
	now := d.now().UTC()

	due, err := d.store.DueDigests(ctx, now, d.queueSize)
	if err != nil {
		return nil, faults.Store("select due digests", err)
	}

	results := make([]schedule.Result, 0, len(due))
	for i := range due {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warnf("Stopping with %d digests left", len(due)-i)
			break
		}
		sub := &due[i]
		dlog := log.WithFields(logrus.Fields{"digest_id": sub.ID, "digest": sub.Name})
		res := d.processOne(ctx, dlog, sub, now)
		dlog.Info(res.String())
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) processOne(ctx context.Context, log logrus.FieldLogger, sub *models.DigestSubscription, now time.Time) schedule.Result {
	res := schedule.Result{ID: sub.ID, Name: sub.Name}

	token, ok, err := d.store.ClaimDigest(ctx, sub, now)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	if !ok {
		res.Skipped = true
		res.Message = "claimed by another run"
		return res
	}

	scheduled := *sub.NextRunAt
	completion := store.Completion{RanAt: now, Status: models.RunStatusSuccess}

	// Without a valid cadence there is no next occurrence; the subscription
	// stops being due until it is fixed.
	freq, ferr := schedule.ParseFrequency(sub.Cadence)
	if ferr != nil {
		ferr = faults.Invalid("parse cadence", ferr)
	} else {
		next := freq.Next(scheduled)
		completion.NextRunAt = &next
	}

	sendErr := ferr
	if sendErr == nil {
		sendErr = d.send(ctx, sub, freq, scheduled)
	}
	if sendErr != nil {
		completion.Status = models.RunStatusFailure
		completion.Error = sendErr.Error()
		log.WithError(sendErr).Warn("Digest failed")
	}

	// The outcome is written even if the run's deadline passed during the
	// send, otherwise the claim would expire and the occurrence be sent again.
	if err := d.store.CompleteDigest(context.WithoutCancel(ctx), sub.ID, token, completion); err != nil {
		res.Message = fmt.Sprintf("record outcome: %v", err)
		return res
	}

	res.NextRun = completion.NextRunAt
	if sendErr != nil {
		res.Message = sendErr.Error()
		return res
	}
	res.Success = true
	res.Message = fmt.Sprintf("sent to %d recipients", len(sub.Recipients))
	return res
}

// send renders the digest for the cadence period ending at scheduled.
func (d *Dispatcher) send(ctx context.Context, sub *models.DigestSubscription, freq schedule.Frequency, scheduled time.Time) error {
	if err := d.validate.Struct(sub); err != nil {
		return faults.Invalid("validate digest", err)
	}

	start := freq.Previous(scheduled)
	domains, err := d.store.DomainSummaries(ctx, sub.DomainFilter, start, scheduled)
	if err != nil {
		return faults.Store("summarize domains", err)
	}
	sources, err := d.store.TopSources(ctx, sub.DomainFilter, start, scheduled, topSourcesInDigest)
	if err != nil {
		return faults.Store("top sources", err)
	}

	view := View{
		Title:   fmt.Sprintf("%s: DMARC digest", sub.Name),
		Start:   start,
		End:     scheduled,
		Domains: domains,
		Sources: sources,
	}
	text, html, err := Render(view)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}

	return d.sender.Send(ctx, notify.Message{
		To:      sub.Recipients,
		Subject: fmt.Sprintf("%s (%s to %s)", view.Title, start.Format("2006-01-02"), scheduled.Format("2006-01-02")),
		Text:    text,
		HTML:    html,
	})
}
