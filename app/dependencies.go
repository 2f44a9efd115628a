package app

import (
	"context"
	"fmt"

	"github.com/opshub/exception-plane/config"
	"github.com/opshub/exception-plane/handlers"
	"github.com/opshub/exception-plane/middleware"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/repositories/postgres"
	"github.com/opshub/exception-plane/services/events"
	"github.com/opshub/exception-plane/services/exception"
	"github.com/opshub/exception-plane/services/playbook"
	"github.com/opshub/exception-plane/services/retry"
	"github.com/opshub/exception-plane/services/sla"
	"github.com/opshub/exception-plane/services/tenant"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Tenants    repositories.TenantRepository
	Exceptions repositories.ExceptionRepository
	Playbooks  repositories.PlaybookRepository
	Events     repositories.EventRepository
	Processing repositories.ProcessingRepository
	TxManager  repositories.TransactionManager

	// Services
	EventLog         *events.Service
	Dispatcher       *events.Dispatcher
	Scheduler        *retry.Scheduler
	Redeliverer      *retry.Redeliverer
	DeadLetters      *retry.DeadLetterService
	Executions       *playbook.Service
	Definitions      *playbook.DefinitionService
	SLAMonitor       *sla.Monitor
	ExceptionService *exception.Service
	TenantService    *tenant.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	// Handlers
	ExceptionHandler  *handlers.ExceptionHandler
	ExecutionHandler  *handlers.ExecutionHandler
	PlaybookHandler   *handlers.PlaybookHandler
	DeadLetterHandler *handlers.DeadLetterHandler
	TenantHandler     *handlers.TenantHandler
	HealthHandler     *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize services
	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize auth
	deps.initAuth(cfg)

	// Initialize handlers
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Tenants = repos.Tenants
	d.Exceptions = repos.Exceptions
	d.Playbooks = repos.Playbooks
	d.Events = repos.Events
	d.Processing = repos.Processing
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices wires the event log, dispatcher, retry scheduler, playbook
// state machine and SLA monitor. The dispatcher publishes for the event log
// and routes failed deliveries into the scheduler, which appends back onto
// the log; the binding below closes that loop after construction.
func (d *Dependencies) initServices(cfg *config.Config) error {
	policies := retry.DefaultPolicySet()
	if cfg.Retry.PolicyFile != "" {
		loaded, err := retry.LoadPolicySet(cfg.Retry.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load retry policy file: %w", err)
		}
		policies = loaded
		d.Logger.Info("loaded retry policies", zap.String("file", cfg.Retry.PolicyFile))
	}

	binding := &retrySchedulerBinding{}
	d.Dispatcher = events.NewDispatcher(d.Processing, binding, d.Logger, events.Config{
		BufferSize:  cfg.Dispatcher.BufferSize,
		WorkerCount: cfg.Dispatcher.WorkerCount,
	})
	d.EventLog = events.NewService(d.Events, d.Dispatcher, d.Logger)
	d.Scheduler = retry.NewScheduler(d.Processing, d.EventLog, policies, d.Logger)
	binding.scheduler = d.Scheduler

	d.Redeliverer = retry.NewRedeliverer(d.Processing, d.Events, d.Dispatcher, d.Logger, retry.RedelivererConfig{
		Interval:  cfg.Retry.RedeliveryInterval,
		BatchSize: cfg.Retry.RedeliveryBatchSize,
	})
	d.DeadLetters = retry.NewDeadLetterService(d.Processing, d.Logger)

	d.Executions = playbook.NewService(d.Exceptions, d.Playbooks, d.Events, d.EventLog, d.Logger)
	d.Definitions = playbook.NewDefinitionService(d.Playbooks, d.TxManager, d.Logger)

	d.SLAMonitor = sla.NewMonitor(d.Exceptions, d.Tenants, d.EventLog, d.Logger, sla.Config{
		Interval: cfg.SLA.SweepInterval,
	})

	d.ExceptionService = exception.NewService(d.Exceptions, d.EventLog, d.Logger)
	d.TenantService = tenant.NewService(d.Tenants, d.Logger)

	d.registerWorkers()

	d.Logger.Info("services initialized")
	return nil
}

// registerWorkers registers the built-in worker kinds with the dispatcher.
// External workers subscribe through the same Register call before Start.
func (d *Dependencies) registerWorkers() {
	auditLogger := d.Logger.Named("audit")
	d.Dispatcher.Register("audit_log", func(ctx context.Context, event *models.Event) error {
		auditLogger.Info("event recorded",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)),
			zap.String("tenant_id", event.TenantID.String()),
			zap.String("exception_id", event.ExceptionID.String()))
		return nil
	})
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT secret not configured, service tokens cannot be validated")
	}
	validator := middleware.NewServiceTokenValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

func (d *Dependencies) initHandlers() {
	d.ExceptionHandler = handlers.NewExceptionHandler(d.ExceptionService, d.Logger)
	d.ExecutionHandler = handlers.NewExecutionHandler(d.Executions, d.Logger)
	d.PlaybookHandler = handlers.NewPlaybookHandler(d.Definitions, d.Logger)
	d.DeadLetterHandler = handlers.NewDeadLetterHandler(d.DeadLetters, d.Logger)
	d.TenantHandler = handlers.NewTenantHandler(d.TenantService, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Logger)
}

// retrySchedulerBinding breaks the construction cycle between the dispatcher
// and the retry scheduler: the dispatcher is built first with this binding,
// then the scheduler is assigned before Start.
type retrySchedulerBinding struct {
	scheduler *retry.Scheduler
}

func (b *retrySchedulerBinding) ScheduleRetry(ctx context.Context, event *models.Event, workerKind string, errorMessage string) (bool, error) {
	if b.scheduler == nil {
		return false, fmt.Errorf("retry scheduler not bound")
	}
	return b.scheduler.ScheduleRetry(ctx, event, workerKind, errorMessage)
}

// Start starts the background components: dispatcher workers, the durable
// redeliverer, and the SLA monitor.
func (d *Dependencies) Start() error {
	if err := d.Dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	if err := d.Redeliverer.Start(); err != nil {
		return fmt.Errorf("failed to start redeliverer: %w", err)
	}
	if err := d.SLAMonitor.Start(); err != nil {
		return fmt.Errorf("failed to start SLA monitor: %w", err)
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.SLAMonitor != nil {
		if err := d.SLAMonitor.Stop(d.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop SLA monitor: %w", err))
		}
	}
	if d.Redeliverer != nil {
		if err := d.Redeliverer.Stop(d.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop redeliverer: %w", err))
		}
	}
	if d.Dispatcher != nil {
		if err := d.Dispatcher.Stop(d.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dispatcher: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

// NewLogger builds a zap logger for the configured environment
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		zapCfg := zap.NewProductionConfig()
		if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			zapCfg.Level = zap.NewAtomicLevelAt(level)
		}
		return zapCfg.Build()
	}
	devCfg := zap.NewDevelopmentConfig()
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		devCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return devCfg.Build()
}
