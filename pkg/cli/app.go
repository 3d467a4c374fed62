package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/batchsync/pkg/config"
	"github.com/nimburion/batchsync/pkg/health"
	"github.com/nimburion/batchsync/pkg/ledger"
	ledgermongo "github.com/nimburion/batchsync/pkg/ledger/mongostore"
	ledgersql "github.com/nimburion/batchsync/pkg/ledger/sqlstore"
	"github.com/nimburion/batchsync/pkg/migrate"
	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/observability/metrics"
	"github.com/nimburion/batchsync/pkg/observability/tracing"
	"github.com/nimburion/batchsync/pkg/queue"
	queuemongo "github.com/nimburion/batchsync/pkg/queue/mongostore"
	queuesql "github.com/nimburion/batchsync/pkg/queue/sqlstore"
	"github.com/nimburion/batchsync/pkg/resilience"
	"github.com/nimburion/batchsync/pkg/runner"
	"github.com/nimburion/batchsync/pkg/scheduler"
	"github.com/nimburion/batchsync/pkg/server"
	"github.com/nimburion/batchsync/pkg/statuscheck"
	"github.com/nimburion/batchsync/pkg/store"
	"github.com/nimburion/batchsync/pkg/store/mongodb"
	"github.com/nimburion/batchsync/pkg/version"
)

// App holds the components built from one configuration. It implements
// scheduler.Dispatcher.
type App struct {
	config   *config.Config
	log      logger.Logger
	storage  store.Adapter
	queues   *queue.Set
	ledger   *ledger.Ledger
	checker  *statuscheck.Checker
	migrator migrate.Migrator
	health   *health.Registry
	metrics  *metrics.Registry
	tracer   *tracing.TracerProvider
}

var _ scheduler.Dispatcher = (*App)(nil)

// sqlAdapter is implemented by the relational adapters.
type sqlAdapter interface {
	store.SQL
	DB() *sql.DB
}

// stores are the persistence backends of one database.
type stores struct {
	queue    queue.Storage
	ledger   ledger.Storage
	migrator migrate.Migrator
}

// NewApp opens the configured database and builds the queues, the ledger
// and, when an endpoint is configured, the status checker on top of it.
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.AppVersion,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	adapter, err := store.NewStorageAdapter(cfg.Database, log)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("open %s storage: %w", cfg.Database.Type, err)
	}
	backends, err := openStores(adapter, cfg.Database.Type)
	if err == nil {
		var app *App
		if app, err = newApp(cfg, log, adapter, backends); err == nil {
			app.tracer = tracer
			return app, nil
		}
	}
	_ = adapter.Close()
	_ = tracer.Shutdown(ctx)
	return nil, err
}

func openStores(adapter store.Adapter, databaseType string) (stores, error) {
	if dialect, ok := store.ParseDialect(databaseType); ok {
		db, ok := adapter.(sqlAdapter)
		if !ok {
			return stores{}, fmt.Errorf("%s adapter does not expose a SQL connection", databaseType)
		}
		queueStore, err := queuesql.New(db, queuesql.Config{Dialect: dialect})
		if err != nil {
			return stores{}, fmt.Errorf("create queue store: %w", err)
		}
		ledgerStore, err := ledgersql.New(db, ledgersql.Config{Dialect: dialect})
		if err != nil {
			return stores{}, fmt.Errorf("create ledger store: %w", err)
		}
		migrator, err := migrate.NewEmbeddedManager(db.DB(), dialect)
		if err != nil {
			return stores{}, fmt.Errorf("create migrator: %w", err)
		}
		return stores{queue: queueStore, ledger: ledgerStore, migrator: migrator}, nil
	}

	db, ok := adapter.(*mongodb.Adapter)
	if !ok {
		return stores{}, fmt.Errorf("unsupported database type %q", databaseType)
	}
	queueStore, err := queuemongo.New(db, queuemongo.Config{})
	if err != nil {
		return stores{}, fmt.Errorf("create queue store: %w", err)
	}
	ledgerStore, err := ledgermongo.New(db, ledgermongo.Config{})
	if err != nil {
		return stores{}, fmt.Errorf("create ledger store: %w", err)
	}
	migrator, err := migrate.NewIndexMigrator(func(ctx context.Context) error {
		if err := queueStore.EnsureIndexes(ctx); err != nil {
			return err
		}
		return ledgerStore.EnsureIndexes(ctx)
	})
	if err != nil {
		return stores{}, fmt.Errorf("create migrator: %w", err)
	}
	return stores{queue: queueStore, ledger: ledgerStore, migrator: migrator}, nil
}

func newApp(cfg *config.Config, log logger.Logger, adapter store.Adapter, backends stores) (*App, error) {
	queues, err := queue.NewSet(backends.queue, queue.NewRegistry(), log, queue.Config{
		LeaseExpiry: cfg.Queue.LeaseExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("create queues: %w", err)
	}
	l, err := ledger.New(backends.ledger, log, ledger.Config{})
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}

	app := &App{
		config:   cfg,
		log:      log,
		storage:  adapter,
		queues:   queues,
		ledger:   l,
		migrator: backends.migrator,
		metrics:  metrics.NewRegistry(),
	}

	if strings.TrimSpace(cfg.StatusCheck.Endpoint) != "" {
		client, err := newStatusClient(cfg.StatusCheck)
		if err != nil {
			return nil, fmt.Errorf("create status client: %w", err)
		}
		checker, err := statuscheck.New(l, queues, client, log, statuscheck.Config{
			Queue:        cfg.StatusCheck.Queue,
			RecheckDelay: cfg.StatusCheck.RecheckDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("create status checker: %w", err)
		}
		if err := checker.Register(queues.Registry()); err != nil {
			return nil, fmt.Errorf("register status check job: %w", err)
		}
		app.checker = checker
	} else {
		log.Info("status checks disabled, statuscheck.endpoint is not set")
	}

	app.health = app.newHealthRegistry()
	return app, nil
}

func newStatusClient(cfg config.StatusCheckConfig) (statuscheck.StatusClient, error) {
	httpClient, err := statuscheck.NewHTTPClient(statuscheck.HTTPClientConfig{
		BaseURL:  cfg.Endpoint,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:        "statuscheck",
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
	})
	guarded, err := statuscheck.NewGuardedClient(httpClient, breaker, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return guarded, nil
}

func (a *App) newHealthRegistry() *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewDatabaseChecker("database", a.storage))
	for _, lane := range a.lanes() {
		q := a.queues.Queue(lane)
		registry.Register(health.NewBacklogChecker("queue:"+lane, func(ctx context.Context) (int, error) {
			depth, err := q.Depth(ctx)
			return int(depth), err
		}, a.config.Queue.BacklogThreshold))
	}
	return registry
}

// lanes lists the default lane, the status-check lane and every lane a
// scheduled task runs, without duplicates.
func (a *App) lanes() []string {
	seen := map[string]struct{}{}
	var lanes []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		lanes = append(lanes, name)
	}

	add(a.config.Queue.DefaultQueue)
	if a.checker != nil {
		add(a.checker.QueueName())
	}
	for _, task := range a.config.Scheduler.Tasks {
		if action, err := scheduler.ParseAction(task.Action); err == nil && action.Kind == scheduler.ActionRun {
			add(action.Queue)
		}
	}
	return lanes
}

// RunQueue runs one runner pass over the lane with the configured budget.
func (a *App) RunQueue(ctx context.Context, name string) error {
	_, err := a.Run(ctx, name, runner.Config{
		MaxAttempts:      a.config.Runner.MaxAttempts,
		MaxExecutionTime: a.config.Runner.MaxExecutionTime,
	})
	return err
}

// Run runs one runner pass over the lane.
func (a *App) Run(ctx context.Context, name string, cfg runner.Config) (runner.Stats, error) {
	r, err := runner.New(a.queues.Queue(name), a.log, cfg)
	if err != nil {
		return runner.Stats{}, err
	}
	return r.Run(ctx), nil
}

// Cleanup applies the configured ledger retention windows. A zero window
// keeps its records forever.
func (a *App) Cleanup(ctx context.Context) error {
	var errs []error
	if days := a.config.Ledger.DetailRetentionDays; days > 0 {
		if _, err := a.ledger.CleanupDetails(ctx, days); err != nil {
			errs = append(errs, err)
		}
	}
	if days := a.config.Ledger.MasterRetentionDays; days > 0 {
		if _, err := a.ledger.CleanupMaster(ctx, days); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnqueueStatusCheck puts a check of taskID on the status-check lane.
func (a *App) EnqueueStatusCheck(ctx context.Context, contractID, taskID string) error {
	if a.checker == nil {
		return errors.New("status checks are disabled: statuscheck.endpoint is not set")
	}
	return a.checker.Enqueue(ctx, contractID, taskID)
}

// Ledger returns the transaction ledger.
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}

// Health returns the readiness checks.
func (a *App) Health() *health.Registry {
	return a.health
}

// Migrator returns the schema backend of the configured database.
func (a *App) Migrator() migrate.Migrator {
	return a.migrator
}

// ManagementServer builds the management HTTP server.
func (a *App) ManagementServer() (*server.ManagementServer, error) {
	return server.NewManagementServer(a.config.Management, a.log, a.health, a.metrics, a.ledger)
}

// Close releases the database and flushes traces.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newLockProvider opens the scheduler lock backend.
func newLockProvider(cfg config.SchedulerConfig, log logger.Logger) (scheduler.LockProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LockProvider)) {
	case config.SchedulerLockProviderRedis:
		return scheduler.NewRedisLockProvider(scheduler.RedisLockProviderConfig{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			OperationTimeout: cfg.Redis.OperationTimeout,
		}, log)
	case config.SchedulerLockProviderPostgres:
		return scheduler.NewPostgresLockProvider(scheduler.PostgresLockProviderConfig{
			URL:              cfg.Postgres.URL,
			Table:            cfg.Postgres.Table,
			OperationTimeout: cfg.Postgres.OperationTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported scheduler.lock_provider %q", cfg.LockProvider)
	}
}

// registerTasks registers the configured tasks on runtime. A task without a
// timezone uses the scheduler timezone.
func registerTasks(runtime *scheduler.Runtime, cfg config.SchedulerConfig) error {
	for _, task := range cfg.Tasks {
		timezone := strings.TrimSpace(task.Timezone)
		if timezone == "" {
			timezone = cfg.Timezone
		}
		if err := runtime.Register(scheduler.Task{
			Name:     task.Name,
			Schedule: task.Schedule,
			Timezone: timezone,
			LockTTL:  task.LockTTL,
			Action:   task.Action,
		}); err != nil {
			return fmt.Errorf("register task %q: %w", task.Name, err)
		}
	}
	return nil
}
