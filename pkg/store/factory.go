package store

import (
	"fmt"
	"strings"

	"github.com/nimburion/batchsync/pkg/config"
	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/store/mongodb"
	"github.com/nimburion/batchsync/pkg/store/mysql"
	"github.com/nimburion/batchsync/pkg/store/postgres"
)

// NewStorageAdapter opens the database selected by cfg.Type.
func NewStorageAdapter(cfg config.DatabaseConfig, log logger.Logger) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.DatabaseTypePostgres:
		return postgres.NewPostgreSQLAdapter(postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
	case config.DatabaseTypeMySQL:
		return mysql.NewMySQLAdapter(mysql.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
	case config.DatabaseTypeMongoDB:
		return mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.QueryTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: postgres, mysql, mongodb)", cfg.Type)
	}
}
