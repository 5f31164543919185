// Package merge contains the command that merges a batch of resources into the datastore.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/cmd/exec_common"
	"github.com/icanbwell/fhir-server-sub016/internal/deferred"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/rewrite"
	"github.com/icanbwell/fhir-server-sub016/pkg/server/commands"
)

const outputFlag = "output"

func NewMergeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [file]",
		Short: "Merge a batch of resources",
		Long: `Merge a batch of resources into the datastore and print one result per resource type.

The input is read from the file argument, or from stdin when it is omitted or '-'. It holds either
newline delimited resources, a JSON array of resources or a Bundle.`,
		RunE: runMerge,
		Args: cobra.MaximumNArgs(1),
	}

	flags := cmd.Flags()
	exec_common.AddConfigFlags(flags)
	flags.StringP(outputFlag, "o", "", "write the results to this file instead of stdout")

	cmd.PreRun = exec_common.BindConfigFlagsFunc(flags)

	return cmd
}

func runMerge(cmd *cobra.Command, args []string) error {
	config, err := exec_common.ReadConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(config.Log.Format, config.Log.Level)
	if err != nil {
		return err
	}

	resources, err := readInput(cmd, args)
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

	resolver, err := exec_common.NewResolver(config, datastore, log)
	if err != nil {
		return err
	}
	defer resolver.Close()

	queue, err := exec_common.NewDeferredQueue(config, log)
	if err != nil {
		return err
	}
	if err := queue.Start(); err != nil {
		return err
	}
	defer drain(queue, config.Deferred.DrainTimeout, log)

	mergeCmd := commands.NewMergeCommand(datastore,
		commands.WithMergeCommandLogger(log),
		commands.WithMergeCommandRewriter(rewrite.New(
			rewrite.WithSequenceWalk(config.Rewrite.WalkSequences),
			rewrite.WithLogger(log),
		)),
		commands.WithMergeCommandResolver(resolver.Resolve),
		commands.WithMergeCommandIdentityStamper(resolver),
		commands.WithMergeCommandDeferredQueue(queue),
		commands.WithMaxResourcesPerMerge(config.MaxResourcesPerMerge),
		commands.WithMaxConcurrentTypes(config.MaxConcurrentTypes),
		commands.WithMaxConcurrentRewrites(config.MaxConcurrentRewrites),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), config.RequestTimeout)
	defer cancel()

	resp, err := mergeCmd.Execute(ctx, &commands.MergeRequest{Resources: resources})
	if err != nil {
		return err
	}

	failed := 0
	for _, result := range resp.Results {
		if !result.Succeeded() {
			failed++
		}
	}
	log.Info("merge done", zap.Int("resources", len(resources)), zap.Int("types", len(resp.Results)), zap.Int("failed_types", failed))

	return writeResults(cmd, resp)
}

func readInput(cmd *cobra.Command, args []string) ([]resource.Resource, error) {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	return DecodeResources(in)
}

func writeResults(cmd *cobra.Command, resp *commands.MergeResponse) error {
	var out io.Writer = cmd.OutOrStdout()

	path, _ := cmd.Flags().GetString(outputFlag)
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp.Results); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	return nil
}

// drain stops the queue and runs the tasks still pending within timeout.
func drain(queue *deferred.Queue, timeout time.Duration, log logger.Logger) {
	queue.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := queue.Drain(ctx)
	if err != nil {
		log.Warn("deferred tasks left pending at shutdown", zap.Int("ran", n), zap.Int("pending", queue.Pending()))
		return
	}
	log.Debug("deferred tasks drained", zap.Int("ran", n))
}
