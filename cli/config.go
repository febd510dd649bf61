package cli

import (
	"fmt"

	"github.com/compozy/conductor/pkg/config"
	"github.com/spf13/cobra"
)

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(configShowCmd(), configValidateCmd())
	return cmd
}

type configView struct {
	Config  *config.Config               `json:"config"`
	Sources map[string]config.SourceType `json:"sources,omitempty"`
}

func configShowCmd() *cobra.Command {
	var showSources bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Display the effective configuration as JSON. With --sources each key
is annotated with the layer (default, yaml, env or cli) that set it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, svc, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			view := configView{Config: cfg}
			if showSources {
				view.Sources = configSources(svc)
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Show configuration sources")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := loadConfig(cmd); err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return err
		},
	}
}

func configSources(svc config.Service) map[string]config.SourceType {
	mappings := config.GenerateEnvMappings()
	sources := make(map[string]config.SourceType, len(mappings))
	for _, m := range mappings {
		sources[m.ConfigPath] = svc.GetSource(m.ConfigPath)
	}
	return sources
}
