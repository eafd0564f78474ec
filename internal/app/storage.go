package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bissquit/shelfsync/internal/config"
	"github.com/bissquit/shelfsync/internal/identity"
	identitypostgres "github.com/bissquit/shelfsync/internal/identity/postgres"
	identitysqlite "github.com/bissquit/shelfsync/internal/identity/sqlite"
	"github.com/bissquit/shelfsync/internal/inventory"
	inventorypostgres "github.com/bissquit/shelfsync/internal/inventory/postgres"
	inventorysqlite "github.com/bissquit/shelfsync/internal/inventory/sqlite"
	"github.com/bissquit/shelfsync/internal/pkg/metrics"
	"github.com/bissquit/shelfsync/internal/pkg/migrate"
	"github.com/bissquit/shelfsync/internal/pkg/postgres"
	"github.com/bissquit/shelfsync/internal/pkg/sqlite"
	"github.com/bissquit/shelfsync/internal/replication"
	replicationpostgres "github.com/bissquit/shelfsync/internal/replication/postgres"
	replicationsqlite "github.com/bissquit/shelfsync/internal/replication/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
)

// storage holds the repositories of the configured driver. Exactly one of
// sqlDB and pool is set.
type storage struct {
	sqlDB *sql.DB
	pool  *pgxpool.Pool

	inventory inventory.Repository
	identity  identity.Repository
	queue     replication.Store
}

// Migrate applies the schema migrations of the configured driver.
func Migrate(cfg config.DatabaseConfig) error {
	if cfg.Driver == config.DriverPostgres {
		return migrate.Postgres(cfg.URL)
	}
	return migrate.SQLite(cfg.Path)
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	s, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := Migrate(cfg); err != nil {
			_ = s.close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return s, nil
}

func connect(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnectTimeout:  cfg.ConnectTimeout,
			ConnectAttempts: cfg.ConnectAttempts,
		})
		if err != nil {
			return nil, err
		}
		return &storage{
			pool:      pool,
			inventory: inventorypostgres.NewRepository(pool),
			identity:  identitypostgres.NewRepository(pool),
			queue:     replicationpostgres.NewRepository(pool),
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &storage{
			sqlDB:     db,
			inventory: inventorysqlite.NewRepository(db),
			identity:  identitysqlite.NewRepository(db),
			queue:     replicationsqlite.NewRepository(db),
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (s *storage) ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	return s.sqlDB.PingContext(ctx)
}

func (s *storage) recordMetrics() {
	if s.pool != nil {
		metrics.RecordDBPoolMetrics(s.pool)
		return
	}
	metrics.RecordSQLDBMetrics(s.sqlDB)
}

func (s *storage) close() error {
	if s.pool != nil {
		s.pool.Close()
		return nil
	}
	return s.sqlDB.Close()
}
