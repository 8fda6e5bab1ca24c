package configcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notcontrolos/hinata/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a hinata configuration file.

Loads the configuration, applies defaults, and runs the full validation
pass. Exits non-zero if the configuration is invalid.

Examples:
  # Validate default config
  hinatad config validate

  # Validate specific file
  hinatad config validate --config /etc/hinata/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}
