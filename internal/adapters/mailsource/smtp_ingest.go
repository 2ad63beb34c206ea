package mailsource

import (
	"bytes"
	"context"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// SMTPIngest accepts messages pushed over SMTP and stores them as
// unclassified emails
type SMTPIngest struct {
	emails          core.EmailStore
	logger          *zap.Logger
	listenAddr      string
	domain          string
	maxMessageBytes int
	server          *smtp.Server
}

// NewSMTPIngest creates a new SMTP ingest listener
func NewSMTPIngest(
	emails core.EmailStore,
	logger *zap.Logger,
	listenAddr string,
	domain string,
	maxMessageBytes int,
) *SMTPIngest {
	if domain == "" {
		domain = "localhost"
	}
	if maxMessageBytes <= 0 {
		maxMessageBytes = 1024 * 1024
	}
	return &SMTPIngest{
		emails:          emails,
		logger:          logger,
		listenAddr:      listenAddr,
		domain:          domain,
		maxMessageBytes: maxMessageBytes,
	}
}

// Start starts the SMTP ingest server
func (i *SMTPIngest) Start() error {
	i.server = smtp.NewServer(&ingestBackend{ingest: i})

	i.server.Addr = i.listenAddr
	i.server.Domain = i.domain
	i.server.ReadTimeout = 30 * time.Second
	i.server.WriteTimeout = 30 * time.Second
	i.server.MaxMessageBytes = int64(i.maxMessageBytes)
	i.server.MaxRecipients = 50
	i.server.AllowInsecureAuth = true

	i.logger.Info("SMTP ingest starting", zap.String("address", i.listenAddr))

	go func() {
		if err := i.server.ListenAndServe(); err != nil {
			if err != smtp.ErrServerClosed {
				i.logger.Error("SMTP server error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop stops the SMTP ingest server
func (i *SMTPIngest) Stop() error {
	if i.server != nil {
		return i.server.Close()
	}
	return nil
}

// ingestBackend implements the go-smtp Backend interface
type ingestBackend struct {
	ingest *SMTPIngest
}

// NewSession creates a new SMTP session
func (b *ingestBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &ingestSession{ingest: b.ingest}, nil
}

// ingestSession implements the go-smtp Session interface
type ingestSession struct {
	ingest *SMTPIngest
	sender string
}

// Reset resets the session state
func (s *ingestSession) Reset() {
	s.sender = ""
}

// AuthPlain handles PLAIN authentication (not needed for ingest)
func (s *ingestSession) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

// Mail sets the sender address
func (s *ingestSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt accepts any recipient; delivery is not our concern
func (s *ingestSession) Rcpt(_ string, _ *smtp.RcptOptions) error {
	return nil
}

// Data parses the message and stores it as an unclassified email
func (s *ingestSession) Data(r io.Reader) error {
	rawData, err := io.ReadAll(r)
	if err != nil {
		s.ingest.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	msg, err := mail.ReadMessage(bytes.NewReader(rawData))
	if err != nil {
		s.ingest.logger.Error("Failed to parse email message", zap.Error(err))
		return err
	}

	textContent, err := extractTextFromMessage(msg)
	if err != nil {
		s.ingest.logger.Error("Failed to extract text content", zap.Error(err))
		return err
	}

	email := &core.Email{
		ID:               strings.Trim(msg.Header.Get("Message-Id"), "<>"),
		Subject:          msg.Header.Get("Subject"),
		Body:             textContent,
		ReceivedAt:       time.Now().UTC(),
		Unread:           true,
		Category:         core.LabelUncategorized,
		PredictedBy:      core.PredictedByNone,
		TrainingEligible: true,
	}
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	if date, err := msg.Header.Date(); err == nil {
		email.ReceivedAt = date.UTC()
	}

	fromHeader := msg.Header.Get("From")
	if addr, err := mail.ParseAddress(fromHeader); err == nil {
		email.SenderName = addr.Name
		email.SenderAddress = strings.ToLower(addr.Address)
	} else {
		email.SenderAddress = strings.ToLower(s.sender)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inserted, err := s.ingest.emails.Insert(ctx, email)
	if err != nil {
		s.ingest.logger.Error("Failed to store ingested email",
			zap.String("id", email.ID),
			zap.Error(err))
		return err
	}

	s.ingest.logger.Info("Ingested email",
		zap.String("id", email.ID),
		zap.String("sender", email.SenderAddress),
		zap.Bool("inserted", inserted))

	return nil
}

// Logout handles SMTP logout
func (s *ingestSession) Logout() error {
	return nil
}
