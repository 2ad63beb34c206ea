package factory

import (
	"fmt"

	"github.com/mikey/mail-triage/internal/adapters/mailsource"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// MailSourceFactory creates pull-based mail sources
type MailSourceFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailSourceFactory creates a new mail source factory
func NewMailSourceFactory(cfg *config.Config, logger *zap.Logger) *MailSourceFactory {
	return &MailSourceFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateMailSource creates the configured mail source. A "none" source
// disables fetching; fetch jobs then fail with a validation error.
func (f *MailSourceFactory) CreateMailSource() (core.MailSource, error) {
	sourceType := f.cfg.GetString("source.type")

	switch sourceType {
	case "imap":
		imapCfg := f.cfg.GetIMAP()
		return mailsource.NewIMAPSource(
			imapCfg.Address,
			imapCfg.Username,
			imapCfg.Password,
			imapCfg.Mailbox,
			imapCfg.UseTLS,
			f.logger,
		), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported mail source type: %s", sourceType)
	}
}
