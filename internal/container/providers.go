package container

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/reimburse-approvals/internal/application/dispatcher"
	"github.com/garyjia/reimburse-approvals/internal/application/port"
	"github.com/garyjia/reimburse-approvals/internal/application/service"
	"github.com/garyjia/reimburse-approvals/internal/application/workflow"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/external/exchange"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/repository"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/report"
	"github.com/garyjia/reimburse-approvals/internal/infrastructure/worker"
	"github.com/garyjia/reimburse-approvals/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqldb.DB
}

// ExchangeBundle holds the rate client and its cache.
type ExchangeBundle struct {
	Client    *exchange.Client
	Converter *exchange.CachedConverter
}

// ServiceDeps are the inputs of ProvideServices.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Converter  port.CurrencyConverter
	Approvals  ApprovalsConfig
	Logger     *zap.Logger
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqldb.NewDB(db.DB, db.Driver(), logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the transaction manager.
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Company:   repository.NewCompanyRepository(db, logger),
		Principal: repository.NewPrincipalRepository(db, logger),
		Workflow:  repository.NewWorkflowRepository(db, logger),
		Expense:   repository.NewExpenseRepository(db, logger),
		Approval:  repository.NewApprovalRepository(db, logger),
		History:   repository.NewHistoryRepository(db, logger),
	}, nil
}

// ProvideExchange creates the rate API client and the caching converter.
func ProvideExchange(cfg *ExchangeConfig, logger *zap.Logger) (*ExchangeBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("exchange config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := exchange.NewClient(exchange.ClientConfig{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger.Named("exchange"))

	return &ExchangeBundle{
		Client:    client,
		Converter: exchange.NewCachedConverter(client, cfg.CacheTTL, logger.Named("exchange")),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")})), nil
}

// ProvideServices builds the approval core and the surrounding services and
// subscribes the history recorder to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	r := deps.Repos
	log := &zapLoggerAdapter{logger: deps.Logger}

	lifecycle := workflow.NewExpenseLifecycle(
		r.Expense, r.History, deps.TxManager, log,
		workflow.WithPublisher(deps.Dispatcher),
	)

	workflows := service.NewWorkflowStore(r.Workflow, r.Principal, deps.TxManager, deps.Dispatcher, log)
	resolver := service.NewDirectoryResolver(r.Principal, log)
	records := service.NewApprovalRecordManager(
		r.Approval, r.Principal, workflows, resolver, deps.TxManager, log,
		service.WithRecordPublisher(deps.Dispatcher),
	)
	orchestrator := service.NewApprovalOrchestrator(
		r.Expense, r.Principal, records, lifecycle, log,
		service.WithFallbackApproval(deps.Approvals.FallbackEnabled),
		service.WithOrchestratorPublisher(deps.Dispatcher),
		service.WithWorkflowRules(workflows),
	)

	service.NewHistoryRecorder(r.History, log).Register(deps.Dispatcher)

	return &ServiceBundle{
		Orchestrator: orchestrator,
		Records:      records,
		Workflows:    workflows,
		Expenses:     service.NewExpenseService(r.Expense, r.Principal, records, lifecycle, deps.Dispatcher, log),
		Principals:   service.NewPrincipalService(r.Principal, log, service.WithWorkflowCleanup(r.Workflow, deps.TxManager)),
		Companies:    service.NewCompanyService(r.Company, r.Principal, deps.TxManager, log),
		Reports: service.NewReportService(
			r.Expense, r.Principal, r.Company, deps.Converter,
			report.NewXLSXWriter(deps.Logger.Named("report")), log,
		),
	}, nil
}

// ProvideWorkers registers the background workers. The rate warmer is
// skipped when no currencies are configured.
func ProvideWorkers(cfg *ExchangeConfig, cache worker.RateCache, logger *zap.Logger) (*worker.Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("exchange config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewManager(logger.Named("workers"))
	if len(cfg.WarmCurrencies) > 0 && cache != nil {
		manager.Register(worker.NewRateWarmer(worker.RateWarmerConfig{
			Interval:   cfg.WarmInterval,
			Currencies: cfg.WarmCurrencies,
			Timeout:    cfg.Timeout,
		}, cache, logger.Named("rate_warmer")))
	}
	return manager, nil
}
