// Package mailbox reads report emails from an IMAP mailbox and pulls the
// report payloads out of them.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/dmarceye/internal/config"
	"github.com/dmarceye/internal/faults"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Message is one fetched email.
type Message struct {
	UID     uint32
	Subject string
	Date    time.Time
	Raw     []byte
}

// IMAPSource fetches unseen messages from one mailbox. Processed messages are
// moved to ProcessedMailbox (or flagged \Seen when none is configured), and
// unparsable ones to ErrorMailbox (or flagged \Seen and \Flagged).
type IMAPSource struct {
	c   *client.Client
	cfg config.IMAPConfig
}

func Dial(cfg config.IMAPConfig) (*IMAPSource, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var (
		c   *client.Client
		err error
	)
	if cfg.TLS {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: cfg.Host})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, faults.Transient("imap dial "+addr, err)
	}
	c.Timeout = time.Minute

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, faults.Transient("imap login", err)
	}
	if _, err := c.Select(cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, faults.Transient("imap select "+cfg.Mailbox, err)
	}
	return &IMAPSource{c: c, cfg: cfg}, nil
}

// Fetch returns up to limit unseen messages, oldest first. Bodies are fetched
// with PEEK so nothing is marked seen until the caller decides.
func (s *IMAPSource) Fetch(ctx context.Context, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag, imap.DeletedFlag}
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, faults.Transient("imap search", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, ch)
	}()

	var out []Message
	var readErr error
	for msg := range ch {
		m := Message{UID: msg.Uid}
		if msg.Envelope != nil {
			m.Subject = msg.Envelope.Subject
			m.Date = msg.Envelope.Date.UTC()
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		if m.Raw, err = io.ReadAll(body); err != nil && readErr == nil {
			readErr = err
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, faults.Transient("imap fetch", err)
	}
	if readErr != nil {
		return nil, faults.Transient("imap read body", readErr)
	}
	return out, nil
}

func (s *IMAPSource) MarkProcessed(ctx context.Context, uid uint32) error {
	if s.cfg.ProcessedMailbox != "" {
		return s.move(uid, s.cfg.ProcessedMailbox)
	}
	return s.flag(uid, imap.SeenFlag)
}

func (s *IMAPSource) MarkFailed(ctx context.Context, uid uint32) error {
	if s.cfg.ErrorMailbox != "" {
		return s.move(uid, s.cfg.ErrorMailbox)
	}
	return s.flag(uid, imap.SeenFlag, imap.FlaggedFlag)
}

func (s *IMAPSource) move(uid uint32, dest string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if err := s.c.UidMove(seqset, dest); err != nil {
		return faults.Transient(fmt.Sprintf("imap move %d to %s", uid, dest), err)
	}
	return nil
}

func (s *IMAPSource) flag(uid uint32, flags ...string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	values := make([]interface{}, len(flags))
	for i, f := range flags {
		values[i] = f
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqset, item, values, nil); err != nil {
		return faults.Transient(fmt.Sprintf("imap flag %d", uid), err)
	}
	return nil
}

func (s *IMAPSource) Close() error {
	return s.c.Logout()
}
