package merge

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/cmd"
	"github.com/icanbwell/fhir-server-sub016/cmd/util"
	serverconfig "github.com/icanbwell/fhir-server-sub016/internal/server/config"
)

type result struct {
	ResourceType string `json:"resourceType"`
	MergeResult  *struct {
		Inserted int `json:"inserted"`
		Failed   int `json:"failed"`
	} `json:"mergeResult"`
	MergeResultEntries []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"mergeResultEntries"`
	Error *string `json:"error"`
}

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0600))
	return path
}

func execute(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()

	viper.Reset()
	util.PrepareTempConfigDir(t)

	out := &bytes.Buffer{}
	root := cmd.NewRootCommand()
	root.AddCommand(NewMergeCommand())
	root.SetOut(out)
	root.SetArgs(append([]string{"merge", "--log-level", "none", "--deferred-delay", "10ms"}, args...))

	return out, root.Execute()
}

func TestMergeCommandDefaultValues(t *testing.T) {
	viper.Reset()
	util.PrepareTempConfigDir(t)

	mergeCmd := NewMergeCommand()
	mergeCmd.RunE = func(_ *cobra.Command, _ []string) error {
		defaults := serverconfig.DefaultConfig()
		require.Equal(t, defaults.MaxResourcesPerMerge, viper.GetInt("maxResourcesPerMerge"))
		require.Equal(t, defaults.Datastore.Engine, viper.GetString("datastore.engine"))
		require.Equal(t, defaults.Deferred.Policy, viper.GetString("deferred.policy"))
		require.Equal(t, defaults.Resolver.CacheTTL, viper.GetDuration("resolver.cacheTTL"))
		require.True(t, viper.GetBool("rewrite.walkSequences"))
		return nil
	}

	root := cmd.NewRootCommand()
	root.AddCommand(mergeCmd)
	root.SetArgs([]string{"merge"})
	require.NoError(t, root.Execute())
}

func TestMergeCommandReadsEnvAndConfigFile(t *testing.T) {
	viper.Reset()
	util.PrepareTempConfigFile(t, `resolver:
    defaultAuthority: bwell
deferred:
    policy: lifo
`)
	t.Setenv("FHIRMERGE_MAX_CONCURRENT_TYPES", "2")

	mergeCmd := NewMergeCommand()
	mergeCmd.RunE = func(_ *cobra.Command, _ []string) error {
		require.Equal(t, "bwell", viper.GetString("resolver.defaultAuthority"))
		require.Equal(t, "lifo", viper.GetString("deferred.policy"))
		require.Equal(t, 2, viper.GetInt("maxConcurrentTypes"))
		return nil
	}

	root := cmd.NewRootCommand()
	root.AddCommand(mergeCmd)
	root.SetArgs([]string{"merge"})
	require.NoError(t, root.Execute())
}

func TestMergeCommandPrintsResultsPerType(t *testing.T) {
	input := writeInput(t,
		`{"resourceType":"Patient","id":"p1","generalPractitioner":[{"reference":"Practitioner/doc|bwell"}]}`,
		`{"resourceType":"Observation","id":"o1","subject":{"reference":"Patient/p1"}}`,
		`{"resourceType":"Patient","id":"p2"}`,
		`{"resourceType":"Observation","id":"o2","subject":{"reference":5}}`,
	)

	out, err := execute(t, input)
	require.NoError(t, err)

	var results []result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 2)

	require.Equal(t, "Patient", results[0].ResourceType)
	require.Nil(t, results[0].Error)
	require.Equal(t, 2, results[0].MergeResult.Inserted)

	require.Equal(t, "Observation", results[1].ResourceType)
	require.Nil(t, results[1].Error)
	require.Equal(t, 1, results[1].MergeResult.Inserted)
	require.Equal(t, 1, results[1].MergeResult.Failed)
	require.Len(t, results[1].MergeResultEntries, 2)
}

func TestMergeCommandWritesOutputFile(t *testing.T) {
	input := writeInput(t, `{"resourceType":"Person","id":"1"}`)
	output := filepath.Join(t.TempDir(), "results.json")

	out, err := execute(t, input, "--output", output)
	require.NoError(t, err)
	require.Empty(t, out.String())

	data, err := os.ReadFile(output)
	require.NoError(t, err)

	var results []result
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 1)
	require.Equal(t, "Person", results[0].ResourceType)
}

func TestMergeCommandRejectsInvalidInput(t *testing.T) {
	t.Run("empty_input", func(t *testing.T) {
		_, err := execute(t, writeInput(t, ""))
		require.Error(t, err)
	})

	t.Run("over_limit", func(t *testing.T) {
		input := writeInput(t, `{"resourceType":"Patient","id":"1"}`, `{"resourceType":"Patient","id":"2"}`)
		_, err := execute(t, input, "--max-resources-per-merge", "1")
		require.Error(t, err)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := execute(t, filepath.Join(t.TempDir(), "missing.ndjson"))
		require.ErrorContains(t, err, "open input")
	})

	t.Run("invalid_config", func(t *testing.T) {
		_, err := execute(t, writeInput(t, `{"resourceType":"Patient","id":"1"}`), "--deferred-policy", "random")
		require.ErrorContains(t, err, "deferred.policy")
	})
}
