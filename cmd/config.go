package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/damsac/health-assistant/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage health-assistant configuration",
	Long: `View or initialize your health-assistant configuration.

Examples:
  health-assistant config           # show current config
  health-assistant config path      # print config file path
  health-assistant config init      # write a default config file`,
	RunE: configShow, // Default to show
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	RunE:  configPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long:  `Write the current effective configuration to disk. Refuses to overwrite an existing file unless --force is given.`,
	RunE:  configInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
}

func configShow(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if !config.Exists() {
		fmt.Printf("# No config file (using defaults)\n")
		fmt.Printf("# Create one with: health-assistant config init\n")
		fmt.Printf("# Location: %s\n\n", configPath)
	} else {
		fmt.Printf("# %s\n\n", configPath)
	}

	fmt.Printf("server:\n")
	fmt.Printf("  host: %s\n", cfg.Server.Host)
	fmt.Printf("  port: %d\n", cfg.Server.Port)
	if cfg.Server.Token != "" {
		fmt.Printf("  token: [set]\n")
	}

	if cfg.Database.Path != "" {
		fmt.Printf("\ndatabase:\n")
		fmt.Printf("  path: %s\n", cfg.Database.Path)
	}

	fmt.Printf("\nanthropic:\n")
	fmt.Printf("  model: %s\n", cfg.Anthropic.Model)
	if cfg.Anthropic.APIKey != "" {
		fmt.Printf("  api_key: [set]\n")
	} else if os.Getenv("ANTHROPIC_API_KEY") != "" {
		fmt.Printf("  api_key: [set via ANTHROPIC_API_KEY]\n")
	} else {
		fmt.Printf("  api_key: [NOT SET - export ANTHROPIC_API_KEY]\n")
	}

	fmt.Printf("\nchat:\n")
	fmt.Printf("  max_tool_rounds: %d\n", cfg.Chat.MaxToolRounds)
	fmt.Printf("  max_output_tokens: %d\n", cfg.Chat.MaxOutputTokens)

	if len(cfg.Pricing) > 0 {
		fmt.Printf("\npricing:\n")
		for model, price := range cfg.Pricing {
			fmt.Printf("  %s: {input: %g, output: %g}\n", model, price.Input, price.Output)
		}
	}

	return nil
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	if config.Exists() && !configForce {
		path, _ := config.GetConfigPath()
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}

	path, _ := config.GetConfigPath()
	fmt.Printf("Wrote %s\n", path)
	return nil
}
