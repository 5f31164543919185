// Package migrate contains the command to perform database migrations.
package migrate

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/cmd/exec_common"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage/sqlite"
)

const (
	datastoreEngineFlag  = "datastore-engine"
	datastoreURIFlag     = "datastore-uri"
	versionFlag          = "version"
	timeoutFlag          = "timeout"
	verboseMigrationFlag = "verbose"
	logFormatFlag        = "log-format"
	logLevelFlag         = "log-level"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database schema migrations needed for the fhirmerge datastore",
		Long:  `The migrate command is used to migrate the database schema needed for fhirmerge.`,
		RunE:  runMigration,
		Args:  cobra.NoArgs,
	}

	flags := cmd.Flags()

	flags.String(datastoreEngineFlag, "", "(required) the datastore engine that will be used for persistence")
	flags.String(datastoreURIFlag, "", "(required) the connection uri of the database to run the migrations against (e.g. 'file:fhir.db')")
	flags.Uint(versionFlag, 0, "the version to migrate to (if omitted the latest schema will be used)")
	flags.Duration(timeoutFlag, 1*time.Minute, "a timeout for the time it takes the migrate process to connect to the database")
	flags.Bool(verboseMigrationFlag, false, "enable verbose migration logs (default false)")
	flags.String(logFormatFlag, "text", "the log format to output logs in")
	flags.String(logLevelFlag, "info", "the log level to use")

	// NOTE: if you add a new flag here, update the function below, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

func runMigration(cmd *cobra.Command, _ []string) error {
	engine := viper.GetString(datastoreEngineFlag)
	uri := viper.GetString(datastoreURIFlag)
	targetVersion := viper.GetUint(versionFlag)
	timeout := viper.GetDuration(timeoutFlag)
	verbose := viper.GetBool(verboseMigrationFlag)

	log, err := logger.NewLogger(viper.GetString(logFormatFlag), viper.GetString(logLevelFlag))
	if err != nil {
		return err
	}

	var provider storage.MigrationProvider
	switch engine {
	case exec_common.Memory.String():
		log.Info("no migrations to run for `memory` datastore")
		return nil
	case exec_common.SQLite.String():
		provider = sqlite.NewMigrationProvider(log)
	case "":
		return fmt.Errorf("missing datastore engine type")
	default:
		return fmt.Errorf("unknown datastore engine type: %s", engine)
	}

	if err := exec_common.VerifyDatastoreEngine(uri, exec_common.DatastoreEngine(engine)); err != nil {
		return err
	}

	config := storage.MigrationConfig{
		Engine:        engine,
		URI:           uri,
		TargetVersion: targetVersion,
		Timeout:       timeout,
		Verbose:       verbose,
	}

	if err := provider.RunMigrations(cmd.Context(), config); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := provider.GetCurrentVersion(cmd.Context(), config)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	log.Info("migration done", zap.String("engine", provider.GetSupportedEngine()), zap.Int64("version", version))

	return nil
}
