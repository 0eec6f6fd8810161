// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tidvec-dev/tidvec/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync worker and HTTP API",
		Long:  "Load configuration, start the background reconciliation loop, and serve the search API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	backends, err := wireBackends(cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	srv, err := server.New(server.Config{ListenAddr: cfg.Server.Listen}, backends.Search, backends.Syncer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go backends.Syncer.Run(ctx)

	return srv.Start(ctx)
}
