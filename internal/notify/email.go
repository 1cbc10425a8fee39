// Package notify delivers digests, scheduled reports and alert incidents
// over email and Slack.
package notify

import (
	"context"
	"errors"
	"io"

	"github.com/dmarceye/internal/config"
	"github.com/dmarceye/internal/faults"
	"gopkg.in/gomail.v2"
)

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []File
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends through the configured SMTP relay.
type SMTPSender struct {
	from   string
	dialer dialer
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	user := cfg.Username
	if user == "" {
		user = cfg.From
	}
	return &SMTPSender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, user, cfg.Password),
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := s.compose(msg)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return faults.Transient("send mail to "+msg.To[0], err)
	}
	return nil
}

func (s *SMTPSender) compose(msg Message) (*gomail.Message, error) {
	if len(msg.To) == 0 {
		return nil, faults.Invalid("compose mail", errors.New("no recipients"))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	for _, f := range msg.Attachments {
		data := f.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if f.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {f.ContentType}}))
		}
		m.Attach(f.Name, settings...)
	}
	return m, nil
}
