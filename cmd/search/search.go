// Package search contains the command that reads the stored resources of one type.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/cmd/exec_common"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/params"
	"github.com/icanbwell/fhir-server-sub016/pkg/server/commands"
)

const (
	bodyFlag = "body"

	resourceTypePathParam = "resourceType"
)

func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <resourceType> [query]",
		Short: "Search the stored resources of one type",
		Long: `Search the stored resources of one type and print them as newline delimited JSON.

The query uses URL query syntax, e.g. '_id=1,2&_sort=-birth_date'. Parameters may also be read
from a Parameters resource given with --body, as in a POST to the _search endpoint.`,
		RunE: runSearch,
		Args: cobra.RangeArgs(1, 2),
	}

	flags := cmd.Flags()
	exec_common.AddConfigFlags(flags)
	flags.String(bodyFlag, "", "a file holding a Parameters resource with search parameters")

	cmd.PreRun = exec_common.BindConfigFlagsFunc(flags)

	return cmd
}

// BuildRequest turns the command line arguments into the request the parameter extractor
// reads.
func BuildRequest(resourceType, rawQuery string, body []byte) (params.Request, error) {
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return params.Request{}, fmt.Errorf("invalid query: %w", err)
	}

	req := params.Request{
		Method:     http.MethodGet,
		Path:       "/4_0_0/" + resourceType,
		Query:      query,
		PathParams: map[string]string{resourceTypePathParam: resourceType},
	}
	if body != nil {
		req.Method = http.MethodPost
		req.Path += "/_search"
		req.Body = body
	}

	return req, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	config, err := exec_common.ReadConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(config.Log.Format, config.Log.Level)
	if err != nil {
		return err
	}

	var body []byte
	if path, _ := cmd.Flags().GetString(bodyFlag); path != "" {
		body, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}

	rawQuery := ""
	if len(args) == 2 {
		rawQuery = args[1]
	}

	req, err := BuildRequest(args[0], rawQuery, body)
	if err != nil {
		return err
	}
	searchArgs := params.Extract(req)

	mapping, err := exec_common.LoadSortMapping(config)
	if err != nil {
		return err
	}

	tp, err := exec_common.NewTracerProvider(config, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Close(context.Background()); err != nil {
			log.Warn("failed to shut down tracing", zap.Error(err))
		}
	}()

	datastore, err := exec_common.NewDatastore(config, log)
	if err != nil {
		return err
	}
	defer datastore.Close()

	searchCmd := commands.NewSearchCommand(datastore,
		commands.WithSearchCommandLogger(log),
		commands.WithSortMapping(mapping),
		commands.WithSearchChunkSize(config.Search.ChunkSize),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), config.RequestTimeout)
	defer cancel()

	resourceType, _ := searchArgs.String(resourceTypePathParam)
	resp, err := searchCmd.Execute(ctx, commands.SearchRequestFromArgs(resourceType, searchArgs))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, res := range resp.Resources {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}

	log.Debug("search done", zap.String("resource_type", resourceType), zap.Int("results", len(resp.Resources)))

	return nil
}
