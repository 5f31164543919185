package main

import (
	"os"

	"github.com/icanbwell/fhir-server-sub016/cmd"
	"github.com/icanbwell/fhir-server-sub016/cmd/merge"
	"github.com/icanbwell/fhir-server-sub016/cmd/migrate"
	"github.com/icanbwell/fhir-server-sub016/cmd/search"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	mergeCmd := merge.NewMergeCommand()
	rootCmd.AddCommand(mergeCmd)

	searchCmd := search.NewSearchCommand()
	rootCmd.AddCommand(searchCmd)

	migrateCmd := migrate.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(cmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
