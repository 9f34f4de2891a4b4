package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rpcfleet/rpcfleet/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after defaults, the config file and RPCFLEET_*
environment overrides are merged. Secrets are omitted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Decode(viper.AllSettings())
		if err != nil {
			return &configError{err: err}
		}
		cfg.Store.AuthToken = ""

		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", used)
		}
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if _, err := cmd.OutOrStdout().Write(raw); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return &configError{err: err}
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the default config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if path == "" {
			return fmt.Errorf("could not resolve the config directory")
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}
