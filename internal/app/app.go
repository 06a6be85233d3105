package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/common"
	"github.com/stevkan/support-tracker/internal/handlers"
	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/scheduler"
	badgerstore "github.com/stevkan/support-tracker/internal/storage/badger"
	"github.com/stevkan/support-tracker/internal/telemetry"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB              *badgerstore.DB
	SettingsStorage interfaces.SettingsStorage
	SecretStorage   interfaces.SecretStorage
	SnapshotStorage interfaces.SnapshotStorage
	JobStorage      interfaces.JobStorage

	// Services
	Telemetry interfaces.Telemetry
	Scheduler *scheduler.Scheduler

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	SettingsHandler *handlers.SettingsHandler
	SecretsHandler  *handlers.SecretsHandler
	QueryHandler    *handlers.QueryHandler
	ValidateHandler *handlers.ValidateHandler
}

// New creates and wires the application
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	db, err := badgerstore.NewDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.DB = db

	a.SettingsStorage = badgerstore.NewSettingsStorage(db, logger)
	a.SecretStorage = badgerstore.NewSecretStorage(db, logger)
	a.SnapshotStorage = badgerstore.NewSnapshotStorage(db, logger)
	a.JobStorage = badgerstore.NewJobStorage(db, logger)

	a.Telemetry = telemetry.New(config.Telemetry.Enabled, config.Telemetry.Endpoint, a.SecretStorage, logger)

	a.Scheduler = scheduler.New(
		config,
		a.SettingsStorage,
		a.SecretStorage,
		a.SnapshotStorage,
		a.JobStorage,
		a.Telemetry,
		logger,
	)
	if err := a.Scheduler.LoadPersisted(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Failed to load persisted jobs")
	}

	a.APIHandler = handlers.NewAPIHandler()
	a.SettingsHandler = handlers.NewSettingsHandler(a.SettingsStorage, logger)
	a.SecretsHandler = handlers.NewSecretsHandler(a.SecretStorage, logger)
	a.QueryHandler = handlers.NewQueryHandler(a.Scheduler, logger)
	a.ValidateHandler = handlers.NewValidateHandler(config, a.SettingsStorage, a.SecretStorage, logger)

	return a, nil
}

// Close releases application resources
func (a *App) Close() error {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
