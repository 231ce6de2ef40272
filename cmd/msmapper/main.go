// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the msmapper CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/M0hamedSayed/MSMapper/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds provider keys loaded from the secrets directory at startup.
var loadedSecrets map[string]string

// logger is configured from --log-level and --log-format before any command runs.
var logger = slog.Default()

// rootCmd is the base command for the msmapper CLI.
var rootCmd = &cobra.Command{
	Use:   "msmapper",
	Short: "Stream documents onto a target schema",
	Long: `msmapper extracts fields from CSV, JSON, YAML, XLSX, HTML, PDF, and text
documents and maps them onto a target schema. Fields are matched by name
similarity; with --smart, low-confidence fields are escalated to a
configured AI provider.

Finished sessions are recorded in a local SQLite ledger that the history
and providers commands report on.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(viper.GetString("log.level"), viper.GetString("log.format"))
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)

		s, err := secrets.Load(viper.GetString("secrets_dir"), logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if names := secrets.Providers(s); len(names) > 0 {
			logger.Debug("secrets.loaded", "providers", names)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./msmapper.yaml or ~/.config/msmapper/msmapper.yaml)")
	pf.String("secrets-dir", ".secrets", "directory of provider key files named <profile>-api-key")
	pf.String("data-dir", "", "ledger directory (default .msmapper)")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")

	mustBind("secrets_dir", pf.Lookup("secrets-dir"))
	mustBind("ledger.data_dir", pf.Lookup("data-dir"))
	mustBind("log.level", pf.Lookup("log-level"))
	mustBind("log.format", pf.Lookup("log-format"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("msmapper")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "msmapper"))
		}
	}

	viper.SetEnvPrefix("MSMAPPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvKeys()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unsupported log format %q: use text or json", format)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
