package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icanbwell/fhir-server-sub016/internal/build"
)

// NewVersionCommand returns the command to get the fhirmerge version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the fhirmerge version",
		Long:  "Return the fhirmerge version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

func version(cmd *cobra.Command, _ []string) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s version %s date %s commit id %s\n", build.ProjectName, build.Version, build.Date, build.Commit)
	return err
}
