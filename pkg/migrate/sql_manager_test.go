package migrate

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/batchsync/pkg/store"
)

var testFiles = fstest.MapFS{
	"migrations/001_init.up.sql":   {Data: []byte("CREATE TABLE a (id INT);\nCREATE INDEX idx_a ON a (id);\n")},
	"migrations/001_init.down.sql": {Data: []byte("DROP TABLE a;\n")},
	"migrations/002_more.up.sql":   {Data: []byte("CREATE TABLE b (id INT);\n")},
	"migrations/readme.txt":        {Data: []byte("ignored")},
}

func newMockManager(t *testing.T, dialect store.Dialect) (*SQLManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	m, err := NewSQLManager(db, dialect, testFiles, "migrations")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, mock
}

func TestNewSQLManager_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	tests := []struct {
		name    string
		dialect store.Dialect
		files   fstest.MapFS
		dir     string
		nilDB   bool
	}{
		{name: "nil db", dialect: store.DialectPostgres, files: testFiles, dir: "migrations", nilDB: true},
		{name: "unknown dialect", dialect: "sqlite", files: testFiles, dir: "migrations"},
		{name: "nil files", dialect: store.DialectPostgres, dir: "migrations"},
		{name: "blank dir", dialect: store.DialectPostgres, files: testFiles, dir: " "},
		{name: "missing dir", dialect: store.DialectPostgres, files: testFiles, dir: "nowhere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handle := db
			if tt.nilDB {
				handle = nil
			}
			var err error
			if tt.files == nil {
				_, err = NewSQLManager(handle, tt.dialect, nil, tt.dir)
			} else {
				_, err = NewSQLManager(handle, tt.dialect, tt.files, tt.dir)
			}
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(testFiles, "migrations")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != 1 || migrations[1].Name != "more" {
		t.Fatalf("unexpected migrations %+v", migrations)
	}
	if migrations[1].DownSQL != "" {
		t.Fatalf("expected no down script for version 2")
	}

	_, err = loadMigrations(fstest.MapFS{"m/001_init.down.sql": {Data: []byte("DROP TABLE a;")}}, "m")
	if err == nil {
		t.Fatal("expected error for missing up migration")
	}
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{name: "empty", script: "\n\n", want: nil},
		{name: "single without semicolon", script: "DROP TABLE a", want: []string{"DROP TABLE a"}},
		{
			name:   "multi-line statements",
			script: "CREATE TABLE a (\n\tid INT\n);\n\nCREATE INDEX idx ON a (id);\n",
			want:   []string{"CREATE TABLE a (\n\tid INT\n)", "CREATE INDEX idx ON a (id)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := statements(tt.script)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Fatalf("statements() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for _, dialect := range []store.Dialect{store.DialectPostgres, store.DialectMySQL} {
		t.Run(string(dialect), func(t *testing.T) {
			m, err := NewEmbeddedManager(db, dialect)
			if err != nil {
				t.Fatalf("embedded manager: %v", err)
			}
			migrations := m.Migrations()
			if len(migrations) != 2 {
				t.Fatalf("expected 2 migrations, got %d", len(migrations))
			}
			for _, migration := range migrations {
				if len(statements(migration.UpSQL)) == 0 || len(statements(migration.DownSQL)) == 0 {
					t.Fatalf("migration %d has empty scripts", migration.Version)
				}
			}
			ledger := migrations[1].UpSQL
			for _, table := range []string{"transaction_master", "transaction_detail", "counted_at"} {
				if !strings.Contains(ledger, table) {
					t.Fatalf("expected %s in ledger migration", table)
				}
			}
		})
	}
}

func TestSQLManager_UpPostgres(t *testing.T) {
	m, mock := newMockManager(t, store.DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM schema_migrations ORDER BY version ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE b (id INT)`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`)).
		WithArgs(int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLManager_UpRollsBackFailedMigration(t *testing.T) {
	m, mock := newMockManager(t, store.DialectMySQL)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, applied_at DATETIME(6) NOT NULL)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM schema_migrations ORDER BY version ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE a (id INT)`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX idx_a ON a (id)`)).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "apply migration 1_init") {
		t.Fatalf("expected apply error, got %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected nothing applied, got %d", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLManager_DownMySQL(t *testing.T) {
	m, mock := newMockManager(t, store.DialectMySQL)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM schema_migrations ORDER BY version DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE a`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM schema_migrations WHERE version = ?`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reverted, err := m.Down(context.Background(), 5)
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if reverted != 1 {
		t.Fatalf("expected 1 reverted, got %d", reverted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLManager_DownWithoutScript(t *testing.T) {
	m, mock := newMockManager(t, store.DialectPostgres)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM schema_migrations ORDER BY version DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)).AddRow(int64(1)))

	if _, err := m.Down(context.Background(), 1); err == nil || !strings.Contains(err.Error(), "down migration missing") {
		t.Fatalf("expected missing down error, got %v", err)
	}
}

func TestSQLManager_Status(t *testing.T) {
	m, mock := newMockManager(t, store.DialectPostgres)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM schema_migrations ORDER BY version ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.AppliedVersions) != 1 || len(status.Pending) != 1 || status.Pending[0].Version != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}
