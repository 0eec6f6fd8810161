// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidvec-dev/tidvec/internal/config"
)

// NewRootCmd creates the root tidvec command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tidvec",
		Short:         "tidvec — semantic search for TiddlyWiki",
		Long:          "Tidvec keeps a vector index in sync with a TiddlyWiki server and answers hybrid semantic/filter queries over it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newSearchCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves the config path from the --config flag or the
// standard location, bootstrapping a default file on first run.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				path = defaultPath
			} else if bootstrapped := config.BootstrapConfig(); bootstrapped != "" {
				path = bootstrapped
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	config.WarnInsecurePermissions(path)
	return cfg, nil
}
