package migration

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/flowrun/config"
	dbpool "github.com/BaSui01/flowrun/internal/database"
)

// NewMigratorFromPool creates a migrator over the pool's connections. The
// pool keeps ownership of the database handle.
func NewMigratorFromPool(ctx context.Context, pool *dbpool.PoolManager, dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(ctx, pool.SQLDB(), Config{DatabaseType: dbType}, logger)
}

// MigrateUp applies all pending migrations on pool and releases the migrator.
func MigrateUp(ctx context.Context, pool *dbpool.PoolManager, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	m, err := NewMigratorFromPool(ctx, pool, dbCfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up(ctx)
}
