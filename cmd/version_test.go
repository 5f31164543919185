package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/internal/build"
)

func TestVersionCommand(t *testing.T) {
	out := &bytes.Buffer{}

	root := NewRootCommand()
	root.AddCommand(NewVersionCommand())
	root.SetOut(out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), build.ProjectName+" version "+build.Version)
}
