package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notcontrolos/hinata/internal/cli/prompt"
	"github.com/notcontrolos/hinata/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample hinata configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/hinata/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  hinatad init

  # Initialize with custom path
  hinatad init --config /etc/hinata/config.yaml

  # Force overwrite existing config
  hinatad init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		ok, perr := prompt.ConfirmWithForce(fmt.Sprintf("Configuration file %s exists, overwrite?", configPath), initForce)
		if perr != nil {
			if errors.Is(perr, prompt.ErrAborted) {
				return nil
			}
			return perr
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Set storage.dir to a persistent data directory")
	fmt.Println("  3. Start the daemon with: hinatad start")
	fmt.Printf("  4. Or specify custom config: hinatad start --config %s\n", configPath)

	return nil
}
