package migration

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/config"
	dbpool "github.com/BaSui01/flowrun/internal/database"
)

func newSQLitePool(t *testing.T) (*dbpool.PoolManager, config.DatabaseConfig) {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}
	pool, err := dbpool.Open(dbCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, dbCfg
}

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, *dbpool.PoolManager) {
	t.Helper()
	pool, dbCfg := newSQLitePool(t)
	m, err := NewMigratorFromPool(context.Background(), pool, dbCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, pool
}

func tableExists(t *testing.T, pool *dbpool.PoolManager, name string) bool {
	t.Helper()
	var count int
	err := pool.SQLDB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"PostgreSQL", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{" sqlite3 ", DatabaseTypeSQLite, false},
		{"mysql", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeSQLite} {
		t.Run(string(dbType), func(t *testing.T) {
			migrations, err := availableMigrations(dbType)
			require.NoError(t, err)
			require.Len(t, migrations, 2)
			assert.Equal(t, migrationFile{version: 1, name: "create_workflow_templates"}, migrations[0])
			assert.Equal(t, uint(2), migrations[1].version)
		})
	}

	_, err := availableMigrations("oracle")
	assert.Error(t, err)
}

func TestNewMigrator_Validation(t *testing.T) {
	_, err := NewMigrator(context.Background(), nil, Config{DatabaseType: DatabaseTypeSQLite}, nil)
	assert.Error(t, err)

	pool, _ := newSQLitePool(t)
	_, err = NewMigrator(context.Background(), pool.SQLDB(), Config{DatabaseType: "oracle"}, nil)
	assert.Error(t, err)

	_, err = NewMigratorFromPool(context.Background(), nil, config.DatabaseConfig{Driver: "sqlite"}, nil)
	assert.Error(t, err)
	_, err = NewMigratorFromPool(context.Background(), pool, config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)
}

func TestMigrator_UpDownLifecycle(t *testing.T) {
	m, pool := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
	assert.False(t, tableExists(t, pool, "workflow_templates"))

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "up with nothing pending is a no-op")

	version, dirty, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.True(t, tableExists(t, pool, "workflow_templates"))

	_, err = pool.SQLDB().Exec(`INSERT INTO workflow_templates (name, format, definition, version) VALUES ('qa', 'json', '{}', 1)`)
	require.NoError(t, err, "migrated table accepts template rows")

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, &MigrationInfo{CurrentVersion: 2, TotalMigrations: 2, AppliedMigrations: 2}, info)

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.True(t, tableExists(t, pool, "workflow_templates"))

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, tableExists(t, pool, "workflow_templates"))

	require.NoError(t, m.Down(ctx), "down with nothing applied is a no-op")
}

func TestMigrator_StatusAndForce(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.False(t, s.Applied)
	}

	require.NoError(t, m.Force(ctx, 1))
	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.AppliedMigrations)
	assert.Equal(t, 1, info.PendingMigrations)
}

func TestMigrator_CloseKeepsDatabaseOpen(t *testing.T) {
	pool, dbCfg := newSQLitePool(t)
	ctx := context.Background()

	require.NoError(t, MigrateUp(ctx, pool, dbCfg, zap.NewNop()))
	require.NoError(t, pool.Ping(ctx))
	assert.True(t, tableExists(t, pool, "workflow_templates"), "in-memory schema survives the migrator")

	m, err := NewMigratorFromPool(ctx, pool, dbCfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.NoError(t, pool.Ping(ctx))
}

func TestMigrator_CancelledContext(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Up(ctx), context.Canceled)
	assert.ErrorIs(t, m.Down(ctx), context.Canceled)
	assert.ErrorIs(t, m.Force(ctx, 1), context.Canceled)
}

func TestCLI(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()
	var out bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&out)

	require.NoError(t, cli.RunVersion(ctx))
	assert.Equal(t, "No migrations applied yet.\n", out.String())

	out.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, out.String(), "Migrations complete. Current version: 2")

	out.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Regexp(t, `000001\s+create_workflow_templates\s+Applied`, out.String())
	assert.Contains(t, out.String(), "Applied")
	assert.Contains(t, out.String(), "Total: 2, Applied: 2, Pending: 0")

	out.Reset()
	require.NoError(t, cli.RunDown(ctx))
	assert.Contains(t, out.String(), "Rollback complete. Current version: 1")

	out.Reset()
	require.NoError(t, cli.RunForce(ctx, 2))
	assert.Contains(t, out.String(), "Version forced to 2")

	out.Reset()
	require.NoError(t, cli.RunVersion(ctx))
	assert.Equal(t, "Current version: 2\n", out.String())
}
