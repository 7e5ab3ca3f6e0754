package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harun/kemudi/internal/config"
)

var (
	configureProvider string
	configureModel    string
	configureAPIKey   string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the kemudi configuration file",
	Long: `Write provider credentials and agent defaults to the configuration
file. Existing settings are preserved unless overridden by a flag.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)

	configureCmd.Flags().StringVar(&configureProvider, "provider", "", "model provider (anthropic, openai)")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "default model")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "API key for the provider")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".kemudi", "kemudi.json")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if configureProvider != "" {
		cfg.Agent.Provider = configureProvider
	}
	if configureModel != "" {
		cfg.Agent.Model = configureModel
	}
	if configureAPIKey != "" {
		switch cfg.Agent.Provider {
		case "openai":
			cfg.Providers.OpenAIAPIKey = configureAPIKey
		default:
			cfg.Providers.AnthropicAPIKey = configureAPIKey
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
