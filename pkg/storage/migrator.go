package storage

import (
	"context"
	"time"
)

// MigrationProvider runs schema migrations for one storage engine.
type MigrationProvider interface {
	// RunMigrations migrates the database to config.TargetVersion, or to the latest
	// version when TargetVersion is zero.
	RunMigrations(ctx context.Context, config MigrationConfig) error

	// GetCurrentVersion returns the current migration version of the database.
	GetCurrentVersion(ctx context.Context, config MigrationConfig) (int64, error)

	// GetSupportedEngine returns the database engine this provider supports.
	GetSupportedEngine() string
}

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig struct {
	Engine        string
	URI           string
	TargetVersion uint
	Timeout       time.Duration
	Verbose       bool
}
