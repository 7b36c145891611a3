package commands

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/crowdchat/crowd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage crowd configuration.

Subcommands:
  get [key]              Show configuration value(s)
  set <key> <value>      Set a configuration value
  path                   Show config file path`,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ConfigPath()
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show configuration",
	Long: `Show configuration values, including environment overrides.

Examples:
  crowd config get                    # Show all config
  crowd config get server.url
  crowd config get stream`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			// Show all config
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}

			return toml.NewEncoder(out).Encode(cfg)
		}

		// Get specific key
		key := args[0]
		value := cfg.Get(key)
		if value == nil {
			return fmt.Errorf("key not found: %s", key)
		}

		if jsonOut {
			return json.NewEncoder(out).Encode(value)
		}

		fmt.Fprintf(out, "%v\n", value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Examples:
  crowd config set server.url https://chat.example.com
  crowd config set chat.default_assistant Researcher
  crowd config set stream.reconnect_attempts 3`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		// Reload so flag overrides are not persisted.
		path := configFilePath()
		fileCfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}

		if err := fileCfg.Set(key, value); err != nil {
			return err
		}

		if err := fileCfg.SaveFile(path); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), configFilePath())
	},
}
