package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/compozy/conductor/engine/crew"
	"github.com/compozy/conductor/engine/graph"
	"github.com/compozy/conductor/engine/orchestrator"
	"github.com/compozy/conductor/pkg/config"
	"github.com/compozy/conductor/pkg/logger"
	"github.com/spf13/cobra"
)

type runOptions struct {
	file        string
	input       string
	showMetrics bool
}

func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register and execute a workflow or crew definition",
	}
	cmd.AddCommand(runWorkflowCmd(), runCrewCmd())
	return cmd
}

func runWorkflowCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Execute a workflow graph from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDefinition(cmd, opts, func(ctx context.Context, svc *orchestrator.Service, data []byte, input map[string]any) (any, error) {
				def, err := decodeWorkflow(opts.file, data)
				if err != nil {
					return nil, err
				}
				id, err := svc.RegisterWorkflow(ctx, def)
				if err != nil {
					return nil, err
				}
				return svc.ExecuteWorkflow(ctx, id, input)
			})
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func runCrewCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "crew",
		Short: "Execute an agent crew from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDefinition(cmd, opts, func(ctx context.Context, svc *orchestrator.Service, data []byte, input map[string]any) (any, error) {
				spec, err := decodeCrew(opts.file, data)
				if err != nil {
					return nil, err
				}
				id, err := svc.CreateCrew(ctx, spec)
				if err != nil {
					return nil, err
				}
				return svc.ExecuteCrew(ctx, id, input)
			})
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Definition file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&opts.input, "input", "", "Execution input as a JSON object")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "Print the metrics snapshot after the run")
	_ = cmd.MarkFlagRequired("file")
}

type executeFunc func(ctx context.Context, svc *orchestrator.Service, data []byte, input map[string]any) (any, error)

func runDefinition(cmd *cobra.Command, opts *runOptions, execute executeFunc) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("failed to read definition file: %w", err)
	}
	input, err := parseInput(opts.input)
	if err != nil {
		return err
	}
	svc, err := orchestrator.New(ctx, config.FromContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to close orchestrator", "error", err)
		}
	}()
	result, err := execute(ctx, svc, data, input)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := writeJSON(out, result); err != nil {
		return err
	}
	if opts.showMetrics {
		return writeJSON(out, svc.GetMetrics())
	}
	return nil
}

func parseInput(raw string) (map[string]any, error) {
	input := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return input, nil
	}
	if err := sonic.UnmarshalString(raw, &input); err != nil {
		return nil, fmt.Errorf("invalid --input: expected a JSON object: %w", err)
	}
	return input, nil
}

func isJSONFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func decodeWorkflow(path string, data []byte) (*graph.Definition, error) {
	var (
		g   *graph.Graph
		err error
	)
	if isJSONFile(path) {
		g, err = graph.DecodeJSON(data)
	} else {
		g, err = graph.DecodeYAML(data)
	}
	if err != nil {
		return nil, err
	}
	return g.Definition(), nil
}

func decodeCrew(path string, data []byte) (*crew.Spec, error) {
	if isJSONFile(path) {
		return crew.DecodeJSON(data)
	}
	return crew.DecodeYAML(data)
}

func writeJSON(w io.Writer, v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(out)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
