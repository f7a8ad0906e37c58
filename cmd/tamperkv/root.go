package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tamperkv/internal/config"
	"tamperkv/internal/logging"
)

// app carries the resolved configuration from the root command to its
// subcommands.
type app struct {
	configFile string
	dataDir    string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tamperkv",
		Short: "tamperkv - tamper-evident key-value store",
		Long: `tamperkv stores string values together with their content digest and keeps
a backup mirror of the whole database. Reads detect out-of-band tampering and
restore the value from the backup when the backup copy is intact.`,
		Version:           "0.1.0",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "configuration file path")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "data directory (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		a.newServeCmd(),
		a.newGetCmd(),
		a.newSetCmd(),
		a.newListCmd(),
		a.newVerifyCmd(),
		a.newDigestCmd(),
	)
	return root
}

// setup loads the config file, applies flag overrides and initializes logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if a.dataDir != "" {
		cfg.Store.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	cfg.Store.DataDir = config.ExpandHome(cfg.Store.DataDir)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logging.InitWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	if err := os.MkdirAll(cfg.Store.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	a.cfg = cfg
	return nil
}
