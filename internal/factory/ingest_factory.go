package factory

import (
	"github.com/mikey/mail-triage/internal/adapters/mailsource"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// IngestFactory creates the optional SMTP ingest listener
type IngestFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewIngestFactory creates a new ingest factory
func NewIngestFactory(cfg *config.Config, logger *zap.Logger) *IngestFactory {
	return &IngestFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateIngest creates the SMTP ingest listener, or nil when disabled
func (f *IngestFactory) CreateIngest(emails core.EmailStore) *mailsource.SMTPIngest {
	smtpCfg := f.cfg.GetSMTP()
	if !smtpCfg.Enabled {
		return nil
	}
	return mailsource.NewSMTPIngest(
		emails,
		f.logger,
		smtpCfg.ListenAddress,
		smtpCfg.Domain,
		smtpCfg.MaxMessageBytes,
	)
}
