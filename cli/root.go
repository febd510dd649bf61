package cli

import (
	"context"
	"fmt"

	"github.com/compozy/conductor/pkg/config"
	"github.com/compozy/conductor/pkg/logger"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "conductor.yaml"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "conductor",
		Short:        "Run graph workflows and agent crews",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", defaultConfigFile, "Path to configuration file")
	flags.String("env-file", ".env", "Path to environment file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String("store-driver", "", "Definition store driver (memory, redis)")
	flags.String("redis-addr", "", "Redis address for the store and reporting")
	flags.String("llm-provider", "", "Completion oracle provider (mock, openai, ollama)")
	flags.String("llm-model", "", "Model name for the completion oracle")

	root.AddCommand(
		RunCmd(),
		ConfigCmd(),
	)
	return root
}

// SetupGlobalConfig loads the env file and configuration, sets up the
// logger and stores both in the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") {
		level = cfg.Log.Level
	}
	if !cmd.Flags().Changed("log-json") {
		logJSON = cfg.Log.JSON
	}
	log := logger.SetupLogger(level, logJSON, logSource)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, config.Service, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	flags := make(map[string]any)
	extractCLIFlags(cmd, flags)
	svc := config.NewService()
	cfg, err := svc.Load(cmd.Context(), config.NewYAMLProvider(path), config.NewCLIProvider(flags))
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}
