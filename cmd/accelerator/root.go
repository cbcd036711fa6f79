package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CDdanieldeng/excel-accelerator/pkg/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "accelerator",
		Short:        "Ask questions about a spreadsheet in plain language",
		Long:         "accelerator answers natural-language questions about CSV and XLSX tables and shows the Excel formula that gives the same result.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newInitConfigCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file, then applies ACCELERATOR_ environment
// variables and any flags bound on v.
func (o *rootOptions) loadConfig(v *viper.Viper) (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = config.NewViper()
	}
	config.ApplyEnv(cfg, v)
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newInitConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if err := config.InitConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config initialized at: %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to point llm.url at your model endpoint.")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "accelerator %s\n", version)
			return err
		},
	}
}
