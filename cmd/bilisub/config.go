package main

import (
	"fmt"
	"os"

	"bilisub/pkg/config"
	"bilisub/pkg/ui"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const configHeader = `# bilisub configuration
#
# Every value can be overridden with a BILISUB_* environment variable,
# e.g. BILISUB_TWITCH_OAUTH_TOKEN or BILISUB_STORAGE_DRIVER=redis.
# Durations use Go syntax: 10s, 3m, 1h.

`

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage bilisub configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables and .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default",
	RunE:  runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "bilisub.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "1. Add a Twitch or Telegram token to the file")
	fmt.Fprintf(cmd.OutOrStdout(), "2. Run 'bilisub config validate -c %s'\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "3. Store your cookies with 'bilisub auth login'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	display.Twitch.OAuthToken = mask(display.Twitch.OAuthToken)
	display.Telegram.BotToken = mask(display.Telegram.BotToken)
	display.Storage.PostgresDSN = mask(display.Storage.PostgresDSN)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(nil)
	if err != nil {
		return err
	}

	var warnings []string
	if cfg.Twitch.Username == "" && cfg.Telegram.BotToken == "" {
		warnings = append(warnings, "no chat transport configured, only console: destinations will work")
	}
	if cfg.Gate.MinInterval < config.DefaultConfig().Gate.MinInterval {
		warnings = append(warnings, fmt.Sprintf("gate interval %s is below the default and may trigger risk control", cfg.Gate.MinInterval))
	}
	for _, w := range warnings {
		ui.PrintWarning("warning: " + w)
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Storage", cfg.Storage.Driver)
	ui.PrintInfo("Poll interval", fmt.Sprintf("%s-%s", cfg.Poll.IntervalMin, cfg.Poll.IntervalMax))
	ui.PrintInfo("Gate interval", cfg.Gate.MinInterval.String())
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
