package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// Embedded Migration Files
// =============================================================================

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// =============================================================================
// Types and Interfaces
// =============================================================================

// DatabaseType represents the dialect the template store runs on
type DatabaseType string

const (
	// DatabaseTypePostgres represents PostgreSQL
	DatabaseTypePostgres DatabaseType = "postgres"
	// DatabaseTypeSQLite represents SQLite
	DatabaseTypeSQLite DatabaseType = "sqlite"
)

// DefaultTableName is the table golang-migrate records the schema version in.
const DefaultTableName = "schema_migrations"

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo contains information about the current migration state
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config holds the configuration for the migrator
type Config struct {
	DatabaseType DatabaseType

	// TableName is the name of the migrations table (default: schema_migrations)
	TableName string

	// LockTimeout is the timeout for acquiring the migration lock
	LockTimeout time.Duration
}

// Migrator defines the interface for template schema migrations
type Migrator interface {
	// Up applies all pending migrations
	Up(ctx context.Context) error

	// Down rolls back the last applied migration
	Down(ctx context.Context) error

	// Force sets the migration version without running migrations
	Force(ctx context.Context, version int) error

	// Version returns the current migration version, 0 when none is applied
	Version(ctx context.Context) (uint, bool, error)

	// Status returns the status of all embedded migrations
	Status(ctx context.Context) ([]MigrationStatus, error)

	// Info returns a summary of the current migration state
	Info(ctx context.Context) (*MigrationInfo, error)

	// Close releases migrator resources. The database handle stays open.
	Close() error
}

// =============================================================================
// Default Migrator Implementation
// =============================================================================

// DefaultMigrator implements Migrator on top of golang-migrate. It runs over a
// *sql.DB owned by the caller, so an in-memory sqlite database keeps the
// schema it migrated.
type DefaultMigrator struct {
	config  Config
	migrate *migrate.Migrate
	source  source.Driver
	conn    *sql.Conn
	logger  *zap.Logger
}

// NewMigrator creates a migrator over db. db is not closed by Close.
func NewMigrator(ctx context.Context, db *sql.DB, cfg Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	m := &DefaultMigrator{
		config: cfg,
		logger: logger.With(zap.String("component", "migration"), zap.String("dialect", string(cfg.DatabaseType))),
	}
	if err := m.init(ctx, db); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return m, nil
}

func (m *DefaultMigrator) init(ctx context.Context, db *sql.DB) error {
	var err error

	m.source, err = m.createSourceDriver()
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, err := m.createDatabaseDriver(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m.migrate, err = migrate.NewWithInstance("iofs", m.source, string(m.config.DatabaseType), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.migrate.LockTimeout = m.config.LockTimeout
	m.migrate.Log = &migrateLogger{logger: m.logger.Sugar()}
	return nil
}

// createDatabaseDriver wraps db without taking ownership of it. Postgres runs
// on a borrowed connection that Close returns to the pool.
func (m *DefaultMigrator) createDatabaseDriver(ctx context.Context, db *sql.DB) (database.Driver, error) {
	switch m.config.DatabaseType {
	case DatabaseTypePostgres:
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		m.conn = conn
		return postgres.WithConnection(ctx, conn, &postgres.Config{
			MigrationsTable: m.config.TableName,
		})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{
			MigrationsTable: m.config.TableName,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", m.config.DatabaseType)
	}
}

func (m *DefaultMigrator) createSourceDriver() (source.Driver, error) {
	fsys, path, err := migrationFS(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}
	return iofs.New(fsys, path)
}

func migrationFS(dbType DatabaseType) (fs.FS, string, error) {
	switch dbType {
	case DatabaseTypePostgres:
		return postgresFS, "migrations/postgres", nil
	case DatabaseTypeSQLite:
		return sqliteFS, "migrations/sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Up applies all pending migrations
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Debug("schema already up to date")
			return nil
		}
		return fmt.Errorf("migration up failed: %w", err)
	}
	version, _, _ := m.Version(ctx)
	m.logger.Info("schema migrated up", zap.Uint("version", version))
	return nil
}

// Down rolls back the last applied migration. It is a no-op when nothing is
// applied.
func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, _, err := m.Version(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return nil
	}
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	m.logger.Info("schema rolled back", zap.Uint("from_version", current))
	return nil
}

// Force sets the migration version without running migrations
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("schema version forced", zap.Int("version", version))
	return nil
}

// Version returns the current migration version
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status returns the status of all embedded migrations
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := availableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.version,
			Name:    mig.name,
			Applied: mig.version <= currentVersion,
			Dirty:   dirty && mig.version == currentVersion,
		})
	}
	return statuses, nil
}

// Info returns a summary of the current migration state
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := availableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, mig := range migrations {
		if mig.version <= currentVersion {
			applied++
		}
	}

	return &MigrationInfo{
		CurrentVersion:    currentVersion,
		Dirty:             dirty,
		TotalMigrations:   len(migrations),
		AppliedMigrations: applied,
		PendingMigrations: len(migrations) - applied,
	}, nil
}

// Close releases the source driver and any borrowed connection. The sqlite
// database driver is left alone since closing it closes the caller's DB.
func (m *DefaultMigrator) Close() error {
	var errs []error
	if m.source != nil {
		if err := m.source.Close(); err != nil {
			errs = append(errs, err)
		}
		m.source = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, err)
		}
		m.conn = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

// migrationFile is one version parsed from an embedded file name
type migrationFile struct {
	version uint
	name    string
}

// availableMigrations lists the embedded up migrations ordered by version.
// File names follow 000001_name.up.sql.
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	fsys, path, err := migrationFS(dbType)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(strings.TrimSuffix(name, ".up.sql"), "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		migrations = append(migrations, migrationFile{version: uint(version), name: rest})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

// migrateLogger routes golang-migrate's log lines into zap
type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// =============================================================================
// Helpers
// =============================================================================

// ParseDatabaseType maps a configured driver name to a DatabaseType
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}
