// Package store opens the account database, applies migrations and seeds
// the role table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-persistence-bun"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const migrationsRoot = "data/sql/migrations"

// Config is satisfied by config.Persistence.
type Config interface {
	GetDebug() bool
	GetDriver() string
	GetServer() string
	GetDSN() string
	GetPingTimeout() time.Duration
	GetOtelIdentifier() string
}

// Store owns the database handle. Close it on shutdown.
type Store struct {
	client *persistence.Client
	db     *bun.DB
	repo   auth.RepositoryManager
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger persistence.Logger
}

// WithLogger routes migration output to logger.
func WithLogger(logger persistence.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func init() {
	persistence.RegisterModel((*auth.Role)(nil))
	persistence.RegisterModel((*auth.Account)(nil))
	persistence.RegisterModel((*auth.SingleUseToken)(nil))
}

// Open connects with the configured driver, migrates and seeds roles.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	driverName, dialect, err := resolveDriver(cfg.GetDriver())
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driverName, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.GetDriver(), err)
	}

	if cfg.GetDriver() == DriverSQLite {
		// in-memory sqlite lives per connection
		sqlDB.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetPingTimeout())
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.GetDriver(), err)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	if o.logger != nil {
		client.SetLogger(o.logger)
	}

	if err := Migrate(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Store{client: client, db: client.DB(), repo: auth.NewRepositoryManager(client.DB())}, nil
}

// Migrate registers the embedded per dialect migrations with client,
// validates that every dialect carries the same versions, applies them and
// seeds the role table. Running it against a migrated database is a no-op.
func Migrate(ctx context.Context, client *persistence.Client) error {
	migrationsFS, err := fs.Sub(auth.GetMigrationsFS(), migrationsRoot)
	if err != nil {
		return err
	}

	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel(migrationsRoot),
		persistence.WithValidationTargets(DriverPostgres, DriverSQLite),
	)

	if err := client.ValidateDialects(ctx); err != nil {
		return fmt.Errorf("validate migrations: %w", err)
	}

	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := auth.NewRolesRepository(client.DB()).Seed(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	return nil
}

func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) Repositories() auth.RepositoryManager {
	return s.repo
}

func (s *Store) Client() *persistence.Client {
	return s.client
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func resolveDriver(driver string) (string, schema.Dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteshim.ShimName, sqlitedialect.New(), nil
	case DriverPostgres:
		return "pgx", pgdialect.New(), nil
	default:
		return "", nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
