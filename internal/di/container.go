package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/httpapi"
	"github.com/mikey/mail-triage/internal/adapters/mailsource"
	"github.com/mikey/mail-triage/internal/bayes"
	"github.com/mikey/mail-triage/internal/blocklist"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/logging"
	"github.com/mikey/mail-triage/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailSourceFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewIngestFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register remote classifier
	if err := container.Provide(func(f *factory.LLMFactory) (core.BatchClassifier, error) {
		return f.CreateClassifier()
	}); err != nil {
		return nil, err
	}

	// Register stores and the individual persistence ports
	if err := container.Provide(func(f *factory.StoreFactory) (*factory.Stores, error) {
		return f.CreateStores()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.EmailStore { return s.Emails }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.SenderStore { return s.Senders }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.SystemStore { return s.System }); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.TrainingRunStore { return s.Runs }); err != nil {
		return nil, err
	}

	// Register mail source
	if err := container.Provide(func(f *factory.MailSourceFactory) (core.MailSource, error) {
		return f.CreateMailSource()
	}); err != nil {
		return nil, err
	}

	// Register SMTP ingest (nil when disabled)
	if err := container.Provide(func(f *factory.IngestFactory, emails core.EmailStore) *mailsource.SMTPIngest {
		return f.CreateIngest(emails)
	}); err != nil {
		return nil, err
	}

	// Register domain blocklist
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) core.DomainBlocklist {
		return blocklist.NewChecker(cfg.GetString("blocklist.zone"), nil, logger)
	}); err != nil {
		return nil, err
	}

	// Register local model, loading any previously saved state
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (core.LocalModel, error) {
		model := bayes.New(cfg.GetString("model.path"), logger)
		if err := model.Load(); err != nil {
			return nil, err
		}
		return model, nil
	}); err != nil {
		return nil, err
	}

	// Register core services
	if err := container.Provide(func(
		cfg *config.Config,
		emails core.EmailStore,
		system core.SystemStore,
		remote core.BatchClassifier,
		model core.LocalModel,
		bl core.DomainBlocklist,
		source core.MailSource,
		logger *zap.Logger,
	) (*core.ClassifierService, error) {
		fetchBack, err := cfg.GetDuration("classifier.fetch_back")
		if err != nil {
			return nil, err
		}
		classifierCfg := cfg.GetClassifier()
		return core.NewClassifierService(
			emails, system, remote, model, bl, source, logger,
			classifierCfg.BatchSize, fetchBack,
		), nil
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewReputationService); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewTrainingService); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewJobCoordinator); err != nil {
		return nil, err
	}

	// Register HTTP server
	if err := container.Provide(func(
		cfg *config.Config,
		classifier *core.ClassifierService,
		reputation *core.ReputationService,
		training *core.TrainingService,
		coordinator *core.JobCoordinator,
		emails core.EmailStore,
		logger *zap.Logger,
	) (*httpapi.Server, error) {
		pollInterval, err := cfg.GetDuration("jobs.poll_interval")
		if err != nil {
			return nil, err
		}
		pollBudget, err := cfg.GetDuration("jobs.poll_budget")
		if err != nil {
			return nil, err
		}
		return httpapi.NewServer(
			classifier, reputation, training, coordinator, emails, logger,
			pollInterval, pollBudget,
		), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
