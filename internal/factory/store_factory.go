package factory

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
)

// Stores bundles the persistence ports, all backed by the same store
type Stores struct {
	Emails  core.EmailStore
	Senders core.SenderStore
	System  core.SystemStore
	Runs    core.TrainingRunStore

	closer io.Closer
}

// Close releases the underlying store, if it holds resources
func (s *Stores) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// StoreFactory creates store backends based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStores creates the configured store backend
func (f *StoreFactory) CreateStores() (*Stores, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		s := store.NewMemoryStore(f.logger)
		return &Stores{Emails: s, Senders: s, System: s, Runs: s}, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		s, err := store.NewSQLiteStore(storeCfg.SQLitePath, f.logger)
		if err != nil {
			return nil, err
		}
		return &Stores{Emails: s, Senders: s, System: s, Runs: s, closer: s}, nil
	case "mysql":
		s, err := store.NewMySQLStore(storeCfg.MySQLDSN, f.logger)
		if err != nil {
			return nil, err
		}
		return &Stores{Emails: s, Senders: s, System: s, Runs: s, closer: s}, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
