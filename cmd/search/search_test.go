package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/icanbwell/fhir-server-sub016/cmd"
	"github.com/icanbwell/fhir-server-sub016/cmd/util"
	"github.com/icanbwell/fhir-server-sub016/pkg/params"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage/sqlite"
)

func patient(id, birthDate string) resource.Resource {
	return resource.Resource{
		"resourceType": "Patient",
		"id":           id,
		"identifier":   []any{map[string]any{"system": "sys://birthdate", "value": birthDate}},
	}
}

func seededURI(t *testing.T) string {
	t.Helper()

	uri := "file:" + filepath.Join(t.TempDir(), "fhir.db")
	err := sqlite.NewMigrationProvider(nil).RunMigrations(context.Background(), storage.MigrationConfig{URI: uri, Timeout: time.Second})
	require.NoError(t, err)

	ds, err := sqlite.New(uri, sqlite.NewConfig())
	require.NoError(t, err)
	defer ds.Close()

	_, _, err = ds.MergeBatch(context.Background(), "Patient", []resource.Resource{
		patient("a", "1990-01-01"),
		patient("b", "1970-06-30"),
		patient("c", "2001-12-24"),
	})
	require.NoError(t, err)

	return uri
}

func execute(t *testing.T, args ...string) ([]string, error) {
	t.Helper()

	viper.Reset()
	util.PrepareTempConfigDir(t)

	out := &bytes.Buffer{}
	root := cmd.NewRootCommand()
	root.AddCommand(NewSearchCommand())
	root.SetOut(out)
	root.SetArgs(append([]string{"search", "--log-level", "none"}, args...))

	if err := root.Execute(); err != nil {
		return nil, err
	}

	var ids []string
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var r resource.Resource
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		ids = append(ids, r.ID())
	}
	require.NoError(t, scanner.Err())

	return ids, nil
}

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest("Patient", "_id=1&_id=2", nil)
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, "/4_0_0/Patient", req.Path)
	require.Equal(t, params.Args{"_id": []string{"1", "2"}, "resourceType": "Patient"}, params.Extract(req))

	body := []byte(`{"resourceType":"Parameters","parameter":[{"name":"_sort","valueString":"-birth_date"}]}`)
	req, err = BuildRequest("Patient", "", body)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/4_0_0/Patient/_search", req.Path)
	require.Equal(t, params.Args{"_sort": "-birth_date", "resourceType": "Patient"}, params.Extract(req))

	_, err = BuildRequest("Patient", "%zz", nil)
	require.ErrorContains(t, err, "invalid query")
}

func TestSearchCommand(t *testing.T) {
	uri := seededURI(t)
	datastore := []string{"--datastore-engine", "sqlite", "--datastore-uri", uri}

	mappingFile := filepath.Join(t.TempDir(), "sort.yaml")
	require.NoError(t, os.WriteFile(mappingFile, []byte("birthdate: sys://birthdate\n"), 0600))

	bodyFile := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(bodyFile, []byte(`{"resourceType":"Parameters","parameter":[{"name":"_sort","valueString":"-birth_date"}]}`), 0600))

	t.Run("all", func(t *testing.T) {
		ids, err := execute(t, append([]string{"Patient"}, datastore...)...)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	})

	t.Run("by_id_sorted", func(t *testing.T) {
		ids, err := execute(t, append([]string{"Patient", "_id=a,c&_sort=-id", "--search-chunk-size", "1"}, datastore...)...)
		require.NoError(t, err)
		require.Equal(t, []string{"c", "a"}, ids)
	})

	t.Run("sort_mapping", func(t *testing.T) {
		ids, err := execute(t, append([]string{"Patient", "_sort=birth_date", "--search-sort-mapping-file", mappingFile}, datastore...)...)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "a", "c"}, ids)
	})

	t.Run("body_parameters", func(t *testing.T) {
		ids, err := execute(t, append([]string{"Patient", "--body", bodyFile, "--search-sort-mapping-file", mappingFile}, datastore...)...)
		require.NoError(t, err)
		require.Equal(t, []string{"c", "a", "b"}, ids)
	})

	t.Run("missing_mapping_file", func(t *testing.T) {
		_, err := execute(t, append([]string{"Patient", "--search-sort-mapping-file", filepath.Join(t.TempDir(), "missing.yaml")}, datastore...)...)
		require.ErrorContains(t, err, "read sort mapping")
	})
}
