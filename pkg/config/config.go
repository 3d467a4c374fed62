// Package config loads the batch sync service configuration from defaults,
// an optional file, an optional secrets file and environment variables.
package config

import "time"

// Database type constants
const (
	// DatabaseTypePostgres represents PostgreSQL database
	DatabaseTypePostgres = "postgres"
	// DatabaseTypeMySQL represents MySQL database
	DatabaseTypeMySQL = "mysql"
	// DatabaseTypeMongoDB represents MongoDB database
	DatabaseTypeMongoDB = "mongodb"
)

// Scheduler lock provider constants
const (
	// SchedulerLockProviderRedis uses Redis for distributed locks
	SchedulerLockProviderRedis = "redis"
	// SchedulerLockProviderPostgres uses PostgreSQL for distributed locks
	SchedulerLockProviderPostgres = "postgres"
)

// Config is the root configuration of the batch sync service.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Runner        RunnerConfig        `mapstructure:"runner"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	StatusCheck   StatusCheckConfig   `mapstructure:"statuscheck"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Management    ManagementConfig    `mapstructure:"management"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig configures the storage behind the queue and the ledger.
// MySQL URLs must carry parseTime=true.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"` // postgres, mysql, mongodb
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	DatabaseName    string        `mapstructure:"database_name"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// QueueConfig configures the job queue.
type QueueConfig struct {
	DefaultQueue string        `mapstructure:"default_queue"`
	LeaseExpiry  time.Duration `mapstructure:"lease_expiry"`
	// BacklogThreshold marks readiness degraded above this many items per
	// lane. Zero disables the check.
	BacklogThreshold int `mapstructure:"backlog_threshold"`
}

// RunnerConfig configures a runner pass.
type RunnerConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
}

// LedgerConfig configures ledger retention.
type LedgerConfig struct {
	MasterRetentionDays int `mapstructure:"master_retention_days"`
	DetailRetentionDays int `mapstructure:"detail_retention_days"`
}

// StatusCheckConfig configures the remote export status polling.
type StatusCheckConfig struct {
	Queue        string        `mapstructure:"queue"`
	RecheckDelay time.Duration `mapstructure:"recheck_delay"`
	// Endpoint is the base URL of the remote status API. Polling is disabled
	// when empty.
	Endpoint           string        `mapstructure:"endpoint"`
	// Username and Password are sent as basic auth when Username is set.
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Timeout            time.Duration `mapstructure:"timeout"`
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// SchedulerConfig configures distributed scheduling of runner passes and
// ledger cleanup.
type SchedulerConfig struct {
	Enabled         bool                    `mapstructure:"enabled"`
	Timezone        string                  `mapstructure:"timezone"`
	LockProvider    string                  `mapstructure:"lock_provider"` // redis, postgres
	LockTTL         time.Duration           `mapstructure:"lock_ttl"`
	DispatchTimeout time.Duration           `mapstructure:"dispatch_timeout"`
	Redis           SchedulerRedisConfig    `mapstructure:"redis"`
	Postgres        SchedulerPostgresConfig `mapstructure:"postgres"`
	Tasks           []SchedulerTaskConfig   `mapstructure:"tasks"`
}

// SchedulerRedisConfig configures the Redis lock provider.
type SchedulerRedisConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// SchedulerPostgresConfig configures the Postgres lock provider.
type SchedulerPostgresConfig struct {
	URL              string        `mapstructure:"url"`
	Table            string        `mapstructure:"table"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// SchedulerTaskConfig is one scheduled action. Action is "run:<queue>" or
// "cleanup".
type SchedulerTaskConfig struct {
	Name     string        `mapstructure:"name"`
	Schedule string        `mapstructure:"schedule"`
	Timezone string        `mapstructure:"timezone"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	Action   string        `mapstructure:"action"`
}

// ManagementConfig configures the management server
type ManagementConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ObservabilityConfig configures logging and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "batchsync",
			Environment: "production",
		},
		Database: DatabaseConfig{
			Type:            DatabaseTypePostgres,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
			ConnectTimeout:  10 * time.Second,
		},
		Queue: QueueConfig{
			DefaultQueue:     "Default",
			LeaseExpiry:      time.Hour,
			BacklogThreshold: 10000,
		},
		Runner: RunnerConfig{
			MaxAttempts:      5,
			MaxExecutionTime: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			MasterRetentionDays: 90,
			DetailRetentionDays: 30,
		},
		StatusCheck: StatusCheckConfig{
			Queue:              "StatusChecking",
			RecheckDelay:       120 * time.Second,
			Timeout:            10 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			Timezone:        "UTC",
			LockProvider:    SchedulerLockProviderRedis,
			LockTTL:         30 * time.Second,
			DispatchTimeout: 10 * time.Minute,
			Redis: SchedulerRedisConfig{
				Prefix:           "batchsync:scheduler:lock",
				OperationTimeout: 3 * time.Second,
			},
			Postgres: SchedulerPostgresConfig{
				Table:            "batchsync_scheduler_locks",
				OperationTimeout: 3 * time.Second,
			},
		},
		Management: ManagementConfig{
			Enabled:         true,
			Port:            9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 0.1,
			TracingEndpoint:   "localhost:4317",
		},
	}
}
