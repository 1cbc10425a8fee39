package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmarceye/internal/config"
	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
	"github.com/slack-go/slack"
)

type SlackNotifier struct {
	client  *slack.Client
	channel string
}

func NewSlackNotifier(cfg config.SlackConfig, options ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(cfg.Token, options...),
		channel: cfg.Channel,
	}
}

// NotifyIncident posts inc to the configured channel.
func (s *SlackNotifier) NotifyIncident(ctx context.Context, inc *models.AlertIncident) error {
	attachment := slack.Attachment{
		Color: getAlertColor(inc.Level),
		Title: fmt.Sprintf("%s DMARC alert: %s", getAlertEmoji(inc.Level), inc.RuleName),
		Text:  inc.Message,
		Fields: []slack.AttachmentField{
			{
				Title: "Domain",
				Value: inc.Scope,
				Short: true,
			},
			{
				Title: "Level",
				Value: string(inc.Level),
				Short: true,
			},
			{
				Title: "Metric",
				Value: string(inc.Metric),
				Short: true,
			},
			{
				Title: "Current Value",
				Value: fmt.Sprintf("%.2f", inc.CurrentValue),
				Short: true,
			},
			{
				Title: "Threshold",
				Value: fmt.Sprintf("%s %.2f", inc.Operator, inc.Threshold),
				Short: true,
			},
			{
				Title: "Fired",
				Value: inc.FiredAt.UTC().Format(time.RFC3339),
				Short: true,
			},
		},
		Footer: "DMARCEye",
		Ts:     json.Number(strconv.FormatInt(inc.FiredAt.Unix(), 10)),
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionAttachments(attachment))
	if err != nil {
		return faults.Transient("post slack message", err)
	}
	return nil
}

func getAlertColor(level models.AlertLevel) string {
	switch level {
	case models.AlertLevelInfo:
		return "#36a64f"
	case models.AlertLevelWarning:
		return "#ffcc00"
	case models.AlertLevelCritical:
		return "#ff0000"
	default:
		return "#808080"
	}
}

func getAlertEmoji(level models.AlertLevel) string {
	switch level {
	case models.AlertLevelCritical:
		return ":red_circle:"
	case models.AlertLevelWarning:
		return ":warning:"
	case models.AlertLevelInfo:
		return ":information_source:"
	default:
		return ":bell:"
	}
}
