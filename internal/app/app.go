// Package app wires configuration, storage, clients and services into a
// running tally instance.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/clients/splitwise"
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/ledger"
	"github.com/bobmcallan/tally/internal/services/periodic"
	"github.com/bobmcallan/tally/internal/services/processor"
	"github.com/bobmcallan/tally/internal/services/recurrence"
	"github.com/bobmcallan/tally/internal/services/report"
	swservice "github.com/bobmcallan/tally/internal/services/splitwise"
	"github.com/bobmcallan/tally/internal/storage"
)

// App holds all initialized services, clients and the scheduler.
type App struct {
	Config            *common.Config
	Logger            *common.Logger
	Store             interfaces.Store
	SplitwiseClient   interfaces.SplitwiseClient // nil when the integration is disabled
	Processor         interfaces.TransactionProcessor
	RecurrenceService interfaces.RecurrenceService
	PeriodicProcessor interfaces.PeriodicProcessor
	SplitwiseService  interfaces.SplitwiseService // nil when the integration is disabled
	ReportService     interfaces.ReportService
	LedgerService     interfaces.LedgerService
	Scheduler         *Scheduler
	StartupTime       time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath picks the given path, then TALLY_CONFIG, then tally.toml
// next to the binary, then the development fallback.
func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("TALLY_CONFIG"); env != "" {
		return env
	}
	path := filepath.Join(getBinaryDir(), "tally.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "config/tally.toml"
	}
	return path
}

// NewApp loads the configuration and opens the configured store.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	config, err := common.LoadConfig(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if missing := config.ValidateRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := storage.NewStoreFromConfig(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var client interfaces.SplitwiseClient
	if config.Clients.Splitwise.Enabled() {
		client = splitwise.NewClientFromConfig(config.Clients.Splitwise, logger)
	} else {
		logger.Warn().Msg("Splitwise API key not configured - import and sharing are disabled")
	}

	a := NewAppWithStore(config, logger, store, client)
	a.StartupTime = startupStart
	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// NewAppWithStore builds the services over an open store. client may be nil.
func NewAppWithStore(config *common.Config, logger *common.Logger, store interfaces.Store, client interfaces.SplitwiseClient) *App {
	retries := config.Jobs.GetConflictRetries()

	proc := processor.NewService(logger)
	recurrenceService := recurrence.NewService(store, proc, logger, recurrence.WithConflictRetries(retries))
	periodicProcessor := periodic.NewService(store, proc, recurrenceService, logger, periodic.WithConflictRetries(retries))

	ledgerOpts := []ledger.ServiceOption{ledger.WithConflictRetries(retries)}
	if client != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSplitwise(client))
	}

	a := &App{
		Config:            config,
		Logger:            logger,
		Store:             store,
		Processor:         proc,
		RecurrenceService: recurrenceService,
		PeriodicProcessor: periodicProcessor,
		ReportService:     report.NewService(store, logger),
		LedgerService:     ledger.NewService(store, proc, logger, ledgerOpts...),
		Scheduler:         NewScheduler(logger),
		StartupTime:       time.Now(),
	}

	a.Scheduler.Register(models.JobProcessTransactions, config.Jobs.GetProcessorInterval(), func(ctx context.Context) error {
		_, err := a.PeriodicProcessor.RunBatch(ctx)
		return err
	})

	if client != nil {
		a.SplitwiseClient = client
		a.SplitwiseService = swservice.NewService(store, proc, client, logger,
			swservice.WithConflictRetries(retries),
			swservice.WithDefaultAccount(config.Clients.Splitwise.AccountID),
		)
		a.Scheduler.Register(models.JobImportSplitwise, config.Jobs.GetSplitwiseInterval(), func(ctx context.Context) error {
			_, err := a.SplitwiseService.ImportFromExternal(ctx)
			return err
		})
	}

	return a
}

// StartScheduler launches the background jobs.
func (a *App) StartScheduler() {
	a.Scheduler.Start()
}

// Close releases all resources held by the App.
// Shutdown order: stop the scheduler (waiting for in-flight runs), close storage.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Scheduler = nil
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
		a.Store = nil
	}
}
