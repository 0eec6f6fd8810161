// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation cycle and exit",
		Long:  "Connect to the wiki, index new and changed tiddlers into the vector store, and print the resulting counts.",
		RunE:  runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	backends, err := wireBackends(cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	ctx := cmd.Context()
	if err := backends.Syncer.SyncNow(ctx); err != nil {
		return err
	}

	health, err := backends.Syncer.Health(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents in %d chunks\n",
		health.IndexedCount, health.ChunkCount)
	return err
}
