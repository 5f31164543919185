package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/assets"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

// MigrationProvider implements [storage.MigrationProvider] for SQLite.
type MigrationProvider struct {
	logger logger.Logger
}

var _ storage.MigrationProvider = (*MigrationProvider)(nil)

// NewMigrationProvider creates a new SQLite migration provider.
func NewMigrationProvider(l logger.Logger) *MigrationProvider {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &MigrationProvider{logger: l}
}

// GetSupportedEngine returns the database engine this provider supports.
func (m *MigrationProvider) GetSupportedEngine() string {
	return "sqlite"
}

// RunMigrations executes SQLite database migrations.
func (m *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetVerbose(config.Verbose)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set sqlite dialect: %w", err)
	}

	db, err := m.open(ctx, config)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(assets.EmbedMigrations)

	return m.executeMigrations(ctx, db, config)
}

// GetCurrentVersion returns the current migration version.
func (m *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := m.open(ctx, config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	goose.SetBaseFS(assets.EmbedMigrations)
	return goose.GetDBVersionContext(ctx, db)
}

func (m *MigrationProvider) open(ctx context.Context, config storage.MigrationConfig) (*sql.DB, error) {
	uri, err := PrepareDSN(config.URI)
	if err != nil {
		return nil, err
	}

	db, err := goose.OpenDBWithDriver("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = config.Timeout
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite connection: %w", err)
	}

	return db, nil
}

func (m *MigrationProvider) executeMigrations(ctx context.Context, db *sql.DB, config storage.MigrationConfig) error {
	migrationsPath := assets.SqliteMigrationDir

	currentVersion, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get sqlite db version: %w", err)
	}

	m.logger.Info("sqlite current version", zap.Int64("version", currentVersion))

	if config.TargetVersion == 0 {
		if err := goose.UpContext(ctx, db, migrationsPath); err != nil {
			return fmt.Errorf("failed to run sqlite migrations: %w", err)
		}
		m.logger.Info("sqlite migration done")
		return nil
	}

	target := int64(config.TargetVersion)
	switch {
	case target < currentVersion:
		if err := goose.DownToContext(ctx, db, migrationsPath, target); err != nil {
			return fmt.Errorf("failed to run sqlite migrations down to %v: %w", target, err)
		}
	case target > currentVersion:
		if err := goose.UpToContext(ctx, db, migrationsPath, target); err != nil {
			return fmt.Errorf("failed to run sqlite migrations up to %v: %w", target, err)
		}
	default:
		m.logger.Info("sqlite nothing to do")
		return nil
	}

	m.logger.Info("sqlite migration done", zap.Int64("version", target))
	return nil
}
