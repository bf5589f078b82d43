package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
)

var (
	cfgFile    string
	logLevel   string
	logFormat  string
	jsonOutput bool

	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kdbxdiff",
	Short: "Compare two KeePass databases",
	Long: `kdbxdiff decrypts two KeePass (KDBX 3.x or 4.x) databases and reports
groups and entries that were added, removed, renamed, moved, reordered
or edited between them.

Sensitive values such as passwords are never shown unless --reveal is
given.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default: ./kdbxdiff.yaml, ~/.config/kdbxdiff/kdbxdiff.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Write machine readable JSON output")
}

func initConfig(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	loaded, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = strings.ToLower(logLevel)
	}
	if logFormat != "" {
		loaded.Log.Format = strings.ToLower(logFormat)
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := loaded.EnsureDirectories(); err != nil {
		return err
	}

	l, err := events.NewLogger(&loaded.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	cfg, logger = loaded, l
	events.SetDefault(logger)
	logger.WithField("config", loader.ConfigFile()).Debug("Configuration loaded")
	return nil
}

func main() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errDifferences) {
		printError("Error: %v", err)
	}
	os.Exit(exitCode(err))
}
