package di

import (
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/bayes"
	"github.com/mikey/mail-triage/internal/blocklist"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/logging"
	"github.com/mikey/mail-triage/internal/utils"
)

// CLIFlags contains all command line flags for the admin tool
type CLIFlags struct {
	// LLM provider flags
	Provider    string
	MaxTokens   int
	Temperature float64
	TopP        float64

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string

	// Store flags
	StoreType  string
	SQLitePath string
	MySQLDSN   string

	// Model and blocklist flags
	ModelPath     string
	BlocklistZone string

	// Classification flags
	Mode      string
	BatchSize int

	// IMAP flags
	IMAPAddress  string
	IMAPUsername string
	IMAPPassword string
	IMAPMailbox  string

	// Poll flags
	PollInterval string
	PollBudget   string

	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct.
// The remaining positional argument selects the admin command.
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	// LLM provider flags
	flag.StringVar(&flags.Provider, "provider", "openai", "LLM provider (bedrock, gemini, openai)")
	flag.IntVar(&flags.MaxTokens, "max-tokens", 2000, "Maximum tokens for LLM response")
	flag.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for LLM generation")
	flag.Float64Var(&flags.TopP, "top-p", 0.9, "Top-p for LLM generation")

	// Bedrock flags
	flag.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	flag.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	flag.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	flag.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	flag.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	flag.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")

	// Store flags
	flag.StringVar(&flags.StoreType, "store", "sqlite", "Store backend (memory, sqlite, mysql)")
	flag.StringVar(&flags.SQLitePath, "sqlite-path", "/data/triage.db", "Path to the SQLite database")
	flag.StringVar(&flags.MySQLDSN, "mysql-dsn", "", "MySQL DSN")

	// Model and blocklist flags
	flag.StringVar(&flags.ModelPath, "model-path", "/data/triage_model.json", "Path to the local model state")
	flag.StringVar(&flags.BlocklistZone, "blocklist-zone", "dbl.spamhaus.org", "DNS blocklist zone (empty disables)")

	// Classification flags
	flag.StringVar(&flags.Mode, "mode", "remote", "Classification mode (local, remote)")
	flag.IntVar(&flags.BatchSize, "batch-size", 40, "Remote classification batch size")

	// IMAP flags
	flag.StringVar(&flags.IMAPAddress, "imap-address", "", "IMAP server address (host:port)")
	flag.StringVar(&flags.IMAPUsername, "imap-username", "", "IMAP username")
	flag.StringVar(&flags.IMAPPassword, "imap-password", "", "IMAP password")
	flag.StringVar(&flags.IMAPMailbox, "imap-mailbox", "INBOX", "IMAP mailbox to fetch from")

	// Poll flags
	flag.StringVar(&flags.PollInterval, "poll-interval", "500ms", "Job poll interval")
	flag.StringVar(&flags.PollBudget, "poll-budget", "60s", "Job wait budget before giving up on polling")

	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container
// for the admin tool
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.New()
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}
		return createConfigFromFlags(flags), nil
	}); err != nil {
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
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
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

	// Register domain blocklist
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) core.DomainBlocklist {
		return blocklist.NewChecker(cfg.GetString("blocklist.zone"), nil, logger)
	}); err != nil {
		return nil, err
	}

	// Register local model
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

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	// Set LLM provider
	v.Set("llm.provider", flags.Provider)

	// Set provider-specific configuration
	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
		v.Set("bedrock.max_tokens", flags.MaxTokens)
		v.Set("bedrock.temperature", flags.Temperature)
		v.Set("bedrock.top_p", flags.TopP)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
		v.Set("gemini.max_tokens", flags.MaxTokens)
		v.Set("gemini.temperature", flags.Temperature)
		v.Set("gemini.top_p", flags.TopP)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
		v.Set("openai.max_tokens", flags.MaxTokens)
		v.Set("openai.temperature", flags.Temperature)
		v.Set("openai.top_p", flags.TopP)
	}

	// Set store configuration
	v.Set("store.type", flags.StoreType)
	v.Set("store.sqlite_path", flags.SQLitePath)
	v.Set("store.mysql_dsn", flags.MySQLDSN)

	// Set model and blocklist configuration
	v.Set("model.path", flags.ModelPath)
	v.Set("blocklist.zone", flags.BlocklistZone)

	// Set classifier configuration
	v.Set("classifier.batch_size", flags.BatchSize)

	// Set mail source configuration
	if flags.IMAPAddress != "" {
		v.Set("source.type", "imap")
		v.Set("imap.address", flags.IMAPAddress)
		v.Set("imap.username", flags.IMAPUsername)
		v.Set("imap.password", flags.IMAPPassword)
		v.Set("imap.mailbox", flags.IMAPMailbox)
	} else {
		v.Set("source.type", "none")
	}

	// Set poll configuration
	v.Set("jobs.poll_interval", flags.PollInterval)
	v.Set("jobs.poll_budget", flags.PollBudget)

	return config.NewFromViper(v)
}
