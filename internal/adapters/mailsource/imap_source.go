package mailsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// IMAPSource pulls messages from a remote mailbox over IMAP
type IMAPSource struct {
	address  string
	username string
	password string
	mailbox  string
	useTLS   bool
	logger   *zap.Logger
}

// NewIMAPSource creates a new IMAP mail source
func NewIMAPSource(address, username, password, mailbox string, useTLS bool, logger *zap.Logger) *IMAPSource {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPSource{
		address:  address,
		username: username,
		password: password,
		mailbox:  mailbox,
		useTLS:   useTLS,
		logger:   logger,
	}
}

// Fetch retrieves messages received since the given time and maps them to
// unclassified emails. Each call opens a fresh connection.
func (s *IMAPSource) Fetch(ctx context.Context, since time.Time) ([]*core.Email, error) {
	c, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if err := c.Login(s.username, s.password); err != nil {
		return nil, fmt.Errorf("failed to log in to IMAP server: %w", err)
	}

	if _, err := c.Select(s.mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox %q: %w", s.mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var emails []*core.Email
	for msg := range messages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		email, err := s.buildEmail(msg, section)
		if err != nil {
			s.logger.Warn("Skipping unparseable message",
				zap.Uint32("uid", msg.Uid),
				zap.Error(err))
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return emails, fmt.Errorf("failed to fetch messages: %w", err)
	}

	s.logger.Debug("Fetched messages from IMAP",
		zap.String("mailbox", s.mailbox),
		zap.Time("since", since),
		zap.Int("count", len(emails)))

	return emails, nil
}

func (s *IMAPSource) dial() (*client.Client, error) {
	if s.useTLS {
		c, err := client.DialTLS(s.address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
		}
		return c, nil
	}
	c, err := client.Dial(s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	return c, nil
}

// buildEmail maps a fetched IMAP message to an unclassified email
func (s *IMAPSource) buildEmail(msg *imap.Message, section *imap.BodySectionName) (*core.Email, error) {
	if msg.Envelope == nil {
		return nil, fmt.Errorf("message %d has no envelope", msg.Uid)
	}

	email := &core.Email{
		ID:               strings.Trim(msg.Envelope.MessageId, "<>"),
		Subject:          msg.Envelope.Subject,
		ReceivedAt:       msg.InternalDate.UTC(),
		Unread:           true,
		Category:         core.LabelUncategorized,
		PredictedBy:      core.PredictedByNone,
		TrainingEligible: true,
	}
	if email.ID == "" {
		email.ID = fmt.Sprintf("uid-%d", msg.Uid)
	}
	if email.ReceivedAt.IsZero() && msg.Envelope.Date != (time.Time{}) {
		email.ReceivedAt = msg.Envelope.Date.UTC()
	}

	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		email.SenderName = from.PersonalName
		email.SenderAddress = strings.ToLower(from.Address())
	}

	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			email.Unread = false
		}
	}

	if r := msg.GetBody(section); r != nil {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		parsed, err := mail.ReadMessage(bytes.NewReader(raw))
		if err == nil {
			if text, err := extractTextFromMessage(parsed); err == nil {
				email.Body = text
			}
		}
	}

	return email, nil
}
