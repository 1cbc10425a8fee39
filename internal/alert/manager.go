package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/notify"
)

// Notifier delivers a fired incident.
type Notifier interface {
	Notify(ctx context.Context, rule *models.AlertRule, inc *models.AlertIncident) error
}

// IncidentPoster is a chat channel for incidents, such as Slack.
type IncidentPoster interface {
	NotifyIncident(ctx context.Context, inc *models.AlertIncident) error
}

// AlertManager sends incidents by email to the rule's recipients (or the
// default receivers) and, when configured, to Slack.
type AlertManager struct {
	sender    notify.Sender
	poster    IncidentPoster
	receivers []string
}

func NewAlertManager(sender notify.Sender, poster IncidentPoster, defaultReceivers []string) *AlertManager {
	return &AlertManager{
		sender:    sender,
		poster:    poster,
		receivers: defaultReceivers,
	}
}

// Notify tries every channel and reports all failures together.
func (am *AlertManager) Notify(ctx context.Context, rule *models.AlertRule, inc *models.AlertIncident) error {
	var errs []error

	to := rule.Recipients
	if len(to) == 0 {
		to = am.receivers
	}
	if am.sender != nil && len(to) > 0 {
		if err := am.SendEmailAlert(ctx, to, inc); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if am.poster != nil {
		if err := am.poster.NotifyIncident(ctx, inc); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (am *AlertManager) SendEmailAlert(ctx context.Context, to []string, inc *models.AlertIncident) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Domain: %s\n", inc.Scope)
	fmt.Fprintf(&body, "Alert Level: %s\n", inc.Level)
	fmt.Fprintf(&body, "Metric: %s\n", inc.Metric)
	fmt.Fprintf(&body, "Current Value: %.2f\n", inc.CurrentValue)
	fmt.Fprintf(&body, "Threshold: %s %.2f\n", inc.Operator, inc.Threshold)
	fmt.Fprintf(&body, "Message: %s\n", inc.Message)
	fmt.Fprintf(&body, "Time: %s\n", inc.FiredAt.UTC().Format(time.RFC3339))

	return am.sender.Send(ctx, notify.Message{
		To:      to,
		Subject: fmt.Sprintf("[%s] DMARC alert for %s: %s", inc.Level, inc.Scope, inc.RuleName),
		Text:    body.String(),
	})
}
