package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/batchsync/pkg/store"
)

//go:embed sql
var embedded embed.FS

var migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// SQLManager applies migrations to a postgres or mysql database and records
// them in schema_migrations.
type SQLManager struct {
	db         *sql.DB
	dialect    store.Dialect
	migrations []Migration
	now        func() time.Time
}

// NewSQLManager loads the migrations under dir of files.
func NewSQLManager(db *sql.DB, dialect store.Dialect, files fs.FS, dir string) (*SQLManager, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if dialect != store.DialectPostgres && dialect != store.DialectMySQL {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if files == nil {
		return nil, fmt.Errorf("migration files filesystem is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("migration directory is required")
	}
	migrations, err := loadMigrations(files, dir)
	if err != nil {
		return nil, err
	}
	return &SQLManager{
		db:         db,
		dialect:    dialect,
		migrations: migrations,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewEmbeddedManager uses the queue and ledger migrations shipped with the
// binary for dialect.
func NewEmbeddedManager(db *sql.DB, dialect store.Dialect) (*SQLManager, error) {
	return NewSQLManager(db, dialect, embedded, EmbeddedPath(dialect))
}

// EmbeddedPath is the directory of the shipped migrations for dialect.
func EmbeddedPath(dialect store.Dialect) string {
	return "sql/" + string(dialect)
}

// Migrations returns the loaded migrations in version order.
func (m *SQLManager) Migrations() []Migration {
	return append([]Migration(nil), m.migrations...)
}

// Up applies every pending migration, each in its own transaction.
func (m *SQLManager) Up(ctx context.Context) (int, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx, "ASC")
	if err != nil {
		return 0, err
	}
	done := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		done[version] = struct{}{}
	}

	count := 0
	for _, migration := range m.migrations {
		if _, ok := done[migration.Version]; ok {
			continue
		}
		record := m.dialect.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`)
		if err := m.inTx(ctx, migration.UpSQL, record, migration.Version, m.now()); err != nil {
			return count, fmt.Errorf("apply migration %d_%s: %w", migration.Version, migration.Name, err)
		}
		count++
	}
	return count, nil
}

// Down reverts the latest steps applied migrations.
func (m *SQLManager) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx, "DESC")
	if err != nil {
		return 0, err
	}
	if steps > len(applied) {
		steps = len(applied)
	}

	count := 0
	for _, version := range applied[:steps] {
		migration, ok := m.migrationByVersion(version)
		if !ok {
			return count, fmt.Errorf("migration definition not found for applied version %d", version)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return count, fmt.Errorf("down migration missing for version %d", version)
		}
		forget := m.dialect.Rebind(`DELETE FROM schema_migrations WHERE version = ?`)
		if err := m.inTx(ctx, migration.DownSQL, forget, version); err != nil {
			return count, fmt.Errorf("revert migration %d_%s: %w", migration.Version, migration.Name, err)
		}
		count++
	}
	return count, nil
}

// Status lists applied versions and pending migrations.
func (m *SQLManager) Status(ctx context.Context) (*Status, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx, "ASC")
	if err != nil {
		return nil, err
	}
	done := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		done[version] = struct{}{}
	}
	pending := make([]PendingMigration, 0)
	for _, migration := range m.migrations {
		if _, ok := done[migration.Version]; !ok {
			pending = append(pending, PendingMigration{Version: migration.Version, Name: migration.Name})
		}
	}
	return &Status{AppliedVersions: applied, Pending: pending}, nil
}

// inTx runs script statement by statement followed by the bookkeeping
// statement, all in one transaction.
func (m *SQLManager) inTx(ctx context.Context, script, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, stmt := range statements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *SQLManager) ensureMetadataTable(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`
	if m.dialect == store.DialectMySQL {
		query = `CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, applied_at DATETIME(6) NOT NULL)`
	}
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	return nil
}

func (m *SQLManager) appliedVersions(ctx context.Context, order string) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

func (m *SQLManager) migrationByVersion(version int64) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

// statements splits a script on semicolons that end a line. MySQL drivers
// reject multi-statement strings unless the DSN opts in.
func statements(script string) []string {
	var (
		out     []string
		current strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";"); stmt != "" {
				out = append(out, stmt)
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

func loadMigrations(files fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", matches[1], err)
		}
		payload, err := fs.ReadFile(files, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", entry.Name(), err)
		}

		migration, ok := byVersion[version]
		if !ok {
			migration = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = migration
		}
		if matches[3] == "up" {
			migration.UpSQL = string(payload)
		} else {
			migration.DownSQL = string(payload)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, migration := range byVersion {
		if strings.TrimSpace(migration.UpSQL) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", migration.Version)
		}
		migrations = append(migrations, *migration)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
