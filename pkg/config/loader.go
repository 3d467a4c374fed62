package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nimburion/batchsync/pkg/observability/logger"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "BATCHSYNC")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Database
	v.BindEnv("database.type", l.prefixedEnv("DB_TYPE"), l.prefixedEnv("DATABASE_TYPE"))
	v.BindEnv("database.url", l.prefixedEnv("DB_URL"), l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("database.max_open_conns", l.prefixedEnv("DB_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.prefixedEnv("DB_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.prefixedEnv("DB_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.prefixedEnv("DB_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.query_timeout", l.prefixedEnv("DB_QUERY_TIMEOUT"))
	v.BindEnv("database.database_name", l.prefixedEnv("DB_DATABASE_NAME"), l.prefixedEnv("DB_NAME"))
	v.BindEnv("database.connect_timeout", l.prefixedEnv("DB_CONNECT_TIMEOUT"))

	// Queue and runner
	v.BindEnv("queue.default_queue", l.prefixedEnv("QUEUE_DEFAULT_QUEUE"))
	v.BindEnv("queue.lease_expiry", l.prefixedEnv("QUEUE_LEASE_EXPIRY"))
	v.BindEnv("queue.backlog_threshold", l.prefixedEnv("QUEUE_BACKLOG_THRESHOLD"))
	v.BindEnv("runner.max_attempts", l.prefixedEnv("RUNNER_MAX_ATTEMPTS"))
	v.BindEnv("runner.max_execution_time", l.prefixedEnv("RUNNER_MAX_EXECUTION_TIME"))

	// Ledger
	v.BindEnv("ledger.master_retention_days", l.prefixedEnv("LEDGER_MASTER_RETENTION_DAYS"))
	v.BindEnv("ledger.detail_retention_days", l.prefixedEnv("LEDGER_DETAIL_RETENTION_DAYS"))

	// Status check
	v.BindEnv("statuscheck.queue", l.prefixedEnv("STATUSCHECK_QUEUE"))
	v.BindEnv("statuscheck.recheck_delay", l.prefixedEnv("STATUSCHECK_RECHECK_DELAY"))
	v.BindEnv("statuscheck.endpoint", l.prefixedEnv("STATUSCHECK_ENDPOINT"))
	v.BindEnv("statuscheck.username", l.prefixedEnv("STATUSCHECK_USERNAME"))
	v.BindEnv("statuscheck.password", l.prefixedEnv("STATUSCHECK_PASSWORD"))
	v.BindEnv("statuscheck.timeout", l.prefixedEnv("STATUSCHECK_TIMEOUT"))
	v.BindEnv("statuscheck.breaker_max_failures", l.prefixedEnv("STATUSCHECK_BREAKER_MAX_FAILURES"))
	v.BindEnv("statuscheck.breaker_open_timeout", l.prefixedEnv("STATUSCHECK_BREAKER_OPEN_TIMEOUT"))

	// Scheduler
	v.BindEnv("scheduler.enabled", l.prefixedEnv("SCHEDULER_ENABLED"))
	v.BindEnv("scheduler.timezone", l.prefixedEnv("SCHEDULER_TIMEZONE"))
	v.BindEnv("scheduler.lock_provider", l.prefixedEnv("SCHEDULER_LOCK_PROVIDER"))
	v.BindEnv("scheduler.lock_ttl", l.prefixedEnv("SCHEDULER_LOCK_TTL"))
	v.BindEnv("scheduler.dispatch_timeout", l.prefixedEnv("SCHEDULER_DISPATCH_TIMEOUT"))
	v.BindEnv("scheduler.redis.url", l.prefixedEnv("SCHEDULER_REDIS_URL"))
	v.BindEnv("scheduler.redis.prefix", l.prefixedEnv("SCHEDULER_REDIS_PREFIX"))
	v.BindEnv("scheduler.redis.operation_timeout", l.prefixedEnv("SCHEDULER_REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("scheduler.postgres.url", l.prefixedEnv("SCHEDULER_POSTGRES_URL"))
	v.BindEnv("scheduler.postgres.table", l.prefixedEnv("SCHEDULER_POSTGRES_TABLE"))
	v.BindEnv("scheduler.postgres.operation_timeout", l.prefixedEnv("SCHEDULER_POSTGRES_OPERATION_TIMEOUT"))

	// Management
	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))
	v.BindEnv("management.shutdown_timeout", l.prefixedEnv("MGMT_SHUTDOWN_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"), l.prefixedEnv("OBSERVABILITY_LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"), l.prefixedEnv("OBSERVABILITY_LOG_FORMAT"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "APP"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return fallback
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", cfg.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)
	v.SetDefault("database.database_name", cfg.Database.DatabaseName)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)

	v.SetDefault("queue.default_queue", cfg.Queue.DefaultQueue)
	v.SetDefault("queue.lease_expiry", cfg.Queue.LeaseExpiry)
	v.SetDefault("queue.backlog_threshold", cfg.Queue.BacklogThreshold)
	v.SetDefault("runner.max_attempts", cfg.Runner.MaxAttempts)
	v.SetDefault("runner.max_execution_time", cfg.Runner.MaxExecutionTime)

	v.SetDefault("ledger.master_retention_days", cfg.Ledger.MasterRetentionDays)
	v.SetDefault("ledger.detail_retention_days", cfg.Ledger.DetailRetentionDays)

	v.SetDefault("statuscheck.queue", cfg.StatusCheck.Queue)
	v.SetDefault("statuscheck.recheck_delay", cfg.StatusCheck.RecheckDelay)
	v.SetDefault("statuscheck.endpoint", cfg.StatusCheck.Endpoint)
	v.SetDefault("statuscheck.username", cfg.StatusCheck.Username)
	v.SetDefault("statuscheck.password", cfg.StatusCheck.Password)
	v.SetDefault("statuscheck.timeout", cfg.StatusCheck.Timeout)
	v.SetDefault("statuscheck.breaker_max_failures", cfg.StatusCheck.BreakerMaxFailures)
	v.SetDefault("statuscheck.breaker_open_timeout", cfg.StatusCheck.BreakerOpenTimeout)

	v.SetDefault("scheduler.enabled", cfg.Scheduler.Enabled)
	v.SetDefault("scheduler.timezone", cfg.Scheduler.Timezone)
	v.SetDefault("scheduler.lock_provider", cfg.Scheduler.LockProvider)
	v.SetDefault("scheduler.lock_ttl", cfg.Scheduler.LockTTL)
	v.SetDefault("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout)
	v.SetDefault("scheduler.redis.url", cfg.Scheduler.Redis.URL)
	v.SetDefault("scheduler.redis.prefix", cfg.Scheduler.Redis.Prefix)
	v.SetDefault("scheduler.redis.operation_timeout", cfg.Scheduler.Redis.OperationTimeout)
	v.SetDefault("scheduler.postgres.url", cfg.Scheduler.Postgres.URL)
	v.SetDefault("scheduler.postgres.table", cfg.Scheduler.Postgres.Table)
	v.SetDefault("scheduler.postgres.operation_timeout", cfg.Scheduler.Postgres.OperationTimeout)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)
	v.SetDefault("management.shutdown_timeout", cfg.Management.ShutdownTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
}

// Validate checks every section and reports all problems at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	validDatabaseTypes := []string{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeMongoDB}
	if !contains(validDatabaseTypes, cfg.Database.Type) {
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: %v)", cfg.Database.Type, validDatabaseTypes))
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if cfg.Database.Type == DatabaseTypeMySQL && cfg.Database.URL != "" && !strings.Contains(cfg.Database.URL, "parseTime=true") {
		errs = append(errs, errors.New("database.url must set parseTime=true for MySQL"))
	}
	if cfg.Database.Type == DatabaseTypeMongoDB && strings.TrimSpace(cfg.Database.DatabaseName) == "" {
		errs = append(errs, errors.New("database.database_name is required for MongoDB"))
	}
	if cfg.Database.MaxOpenConns < 0 || cfg.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database connection pool sizes must be >= 0"))
	}

	if strings.TrimSpace(cfg.Queue.DefaultQueue) == "" {
		errs = append(errs, errors.New("queue.default_queue is required"))
	}
	if cfg.Queue.LeaseExpiry <= 0 {
		errs = append(errs, errors.New("queue.lease_expiry must be greater than 0"))
	}
	if cfg.Queue.BacklogThreshold < 0 {
		errs = append(errs, errors.New("queue.backlog_threshold must be >= 0"))
	}
	if cfg.Runner.MaxAttempts <= 0 {
		errs = append(errs, errors.New("runner.max_attempts must be greater than 0"))
	}
	if cfg.Runner.MaxExecutionTime <= 0 {
		errs = append(errs, errors.New("runner.max_execution_time must be greater than 0"))
	}

	if cfg.Ledger.MasterRetentionDays < 0 {
		errs = append(errs, errors.New("ledger.master_retention_days must be >= 0"))
	}
	if cfg.Ledger.DetailRetentionDays < 0 {
		errs = append(errs, errors.New("ledger.detail_retention_days must be >= 0"))
	}

	if strings.TrimSpace(cfg.StatusCheck.Queue) == "" {
		errs = append(errs, errors.New("statuscheck.queue is required"))
	}
	if cfg.StatusCheck.RecheckDelay <= 0 {
		errs = append(errs, errors.New("statuscheck.recheck_delay must be greater than 0"))
	}
	if endpoint := strings.TrimSpace(cfg.StatusCheck.Endpoint); endpoint != "" {
		if u, err := url.Parse(endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("statuscheck.endpoint must be an http(s) URL, got %q", endpoint))
		}
	}
	if cfg.StatusCheck.Timeout < 0 {
		errs = append(errs, errors.New("statuscheck.timeout must be >= 0"))
	}
	if cfg.StatusCheck.BreakerMaxFailures <= 0 {
		errs = append(errs, errors.New("statuscheck.breaker_max_failures must be greater than 0"))
	}
	if cfg.StatusCheck.BreakerOpenTimeout <= 0 {
		errs = append(errs, errors.New("statuscheck.breaker_open_timeout must be greater than 0"))
	}

	errs = append(errs, validateScheduler(&cfg.Scheduler)...)

	if cfg.Management.Enabled && (cfg.Management.Port <= 0 || cfg.Management.Port > 65535) {
		errs = append(errs, fmt.Errorf("management.port must be between 1 and 65535, got %d", cfg.Management.Port))
	}

	if level, err := logger.ParseLogLevel(cfg.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %w", err))
	} else {
		cfg.Observability.LogLevel = string(level)
	}
	if format, err := logger.ParseLogFormat(cfg.Observability.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %w", err))
	} else {
		cfg.Observability.LogFormat = string(format)
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing_sample_rate must be between 0 and 1"))
	}
	if cfg.Observability.TracingEnabled && strings.TrimSpace(cfg.Observability.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}

func validateScheduler(cfg *SchedulerConfig) []error {
	if !cfg.Enabled {
		return nil
	}
	var errs []error

	cfg.LockProvider = strings.ToLower(strings.TrimSpace(cfg.LockProvider))
	switch cfg.LockProvider {
	case SchedulerLockProviderRedis:
		if strings.TrimSpace(cfg.Redis.URL) == "" {
			errs = append(errs, errors.New("scheduler.redis.url is required when scheduler.lock_provider is redis"))
		}
	case SchedulerLockProviderPostgres:
		if strings.TrimSpace(cfg.Postgres.URL) == "" {
			errs = append(errs, errors.New("scheduler.postgres.url is required when scheduler.lock_provider is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid scheduler.lock_provider: %s (must be one of: [redis postgres])", cfg.LockProvider))
	}
	if cfg.LockTTL <= 0 {
		errs = append(errs, errors.New("scheduler.lock_ttl must be greater than 0"))
	}
	if cfg.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.dispatch_timeout must be greater than 0"))
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone)); err != nil {
		errs = append(errs, fmt.Errorf("invalid scheduler.timezone %q", cfg.Timezone))
	}
	if len(cfg.Tasks) == 0 {
		errs = append(errs, errors.New("scheduler.tasks must contain at least one task when scheduler is enabled"))
	}

	seen := make(map[string]struct{}, len(cfg.Tasks))
	for index, task := range cfg.Tasks {
		name := strings.TrimSpace(task.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("scheduler.tasks[%d].name is required", index))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("scheduler.tasks[%d].name %q is duplicated", index, name))
		} else {
			seen[name] = struct{}{}
		}
		if strings.TrimSpace(task.Schedule) == "" {
			errs = append(errs, fmt.Errorf("scheduler.tasks[%d].schedule is required", index))
		}
		if !validTaskAction(task.Action) {
			errs = append(errs, fmt.Errorf("scheduler.tasks[%d].action must be cleanup or run:<queue>, got %q", index, task.Action))
		}
		if task.LockTTL < 0 {
			errs = append(errs, fmt.Errorf("scheduler.tasks[%d].lock_ttl must be >= 0", index))
		}
	}
	return errs
}

func validTaskAction(action string) bool {
	action = strings.TrimSpace(action)
	if action == "cleanup" {
		return true
	}
	queue, ok := strings.CutPrefix(action, "run:")
	return ok && strings.TrimSpace(queue) != ""
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
